// Package parser reads inbox Markdown files: YAML frontmatter with the item
// fields, followed by the item content.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/refdraft/internal/models"
)

var (
	// ErrEmptyBody is returned for files with no content after the frontmatter.
	ErrEmptyBody = errors.New("parser: empty body")

	wikilinkRe = regexp.MustCompile(`\[\[(.*?)\]\]`)
	tagRe      = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)
)

// Result holds the output of parsing an inbox file.
type Result struct {
	Kind          models.Kind
	Topic         string
	ReferenceType models.ReferenceType
	Platforms     []string
	// Links are the frontmatter links followed by [[id]] targets in the body.
	Links []string
	Body  string
}

type frontmatter struct {
	Kind          string     `yaml:"kind"`
	Topic         string     `yaml:"topic"`
	ReferenceType string     `yaml:"reference_type"`
	Platforms     stringList `yaml:"platforms"`
	Links         stringList `yaml:"links"`
}

// stringList accepts either a YAML sequence or a single comma-separated
// scalar.
type stringList []string

func (l *stringList) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		var s string
		if err := n.Decode(&s); err != nil {
			return err
		}
		*l = splitList(s)
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := n.Decode(&items); err != nil {
			return err
		}
		*l = trimList(items)
		return nil
	default:
		return fmt.Errorf("line %d: expected a list or a string", n.Line)
	}
}

// Parse extracts the item fields and body from raw Markdown bytes. Fields are
// not validated here beyond their YAML shape; an unset kind defaults to
// reference.
func Parse(data []byte) (*Result, error) {
	block, body := splitFrontmatter(data)

	var fm frontmatter
	if block != nil {
		if err := yaml.Unmarshal(block, &fm); err != nil {
			return nil, fmt.Errorf("parser: frontmatter: %w", err)
		}
	}

	body = strings.TrimSpace(body)
	if body == "" {
		return nil, ErrEmptyBody
	}

	kind := models.Kind(strings.ToLower(strings.TrimSpace(fm.Kind)))
	if kind == "" {
		kind = models.KindReference
	}

	topic := strings.TrimSpace(fm.Topic)
	if topic == "" {
		topic = firstTag(body)
	}

	return &Result{
		Kind:          kind,
		Topic:         topic,
		ReferenceType: models.ReferenceType(strings.ToLower(strings.TrimSpace(fm.ReferenceType))),
		Platforms:     dedupe(lowerList(fm.Platforms)),
		Links:         dedupe(append(trimList(fm.Links), extractLinks(body)...)),
		Body:          body,
	}, nil
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the body. A nil block means the file has no frontmatter.
func splitFrontmatter(data []byte) ([]byte, string) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data)
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		// No closing delimiter, treat everything as body.
		return nil, string(data)
	}

	block := rest[:idx]
	after := rest[idx+1+len(delim):]
	return block, strings.TrimLeft(string(after), "\n\r")
}

// extractLinks returns [[target]] ids from body, normalising aliases.
func extractLinks(body string) []string {
	var out []string
	for _, m := range wikilinkRe.FindAllStringSubmatch(body, -1) {
		target := m[1]
		// [[id|label]] -> id
		if i := strings.Index(target, "|"); i >= 0 {
			target = target[:i]
		}
		if target = strings.TrimSpace(target); target != "" {
			out = append(out, target)
		}
	}
	return out
}

func firstTag(body string) string {
	if m := tagRe.FindStringSubmatch(body); m != nil {
		return m[1]
	}
	return ""
}

func splitList(s string) []string {
	return trimList(strings.Split(s, ","))
}

func trimList(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func lowerList(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
