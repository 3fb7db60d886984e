package viewcache

import (
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/refdraft/internal/models"
	"github.com/starford/refdraft/internal/refgraph"
)

// PlatformMode selects how Filter.Platform is applied.
type PlatformMode string

const (
	PlatformAny    PlatformMode = ""
	PlatformHas    PlatformMode = "has"
	PlatformNotHas PlatformMode = "not_has"
)

// UsageFilter selects references by whether any draft cites them.
type UsageFilter string

const (
	UsageAny    UsageFilter = ""
	UsageUsed   UsageFilter = "used"
	UsageUnused UsageFilter = "unused"
)

// Filter is the active list filter. Zero-valued fields match everything.
type Filter struct {
	Kind          models.Kind          `json:"kind,omitempty"`
	ReferenceType models.ReferenceType `json:"reference_type,omitempty"`
	Topic         string               `json:"topic,omitempty"`
	PlatformMode  PlatformMode         `json:"platform_mode,omitempty"`
	Platform      string               `json:"platform,omitempty"`
	Search        string               `json:"search,omitempty"`
	Usage         UsageFilter          `json:"usage,omitempty"`
}

// Validate checks that enumerated fields hold known values.
func (f Filter) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Kind, validation.In(models.KindAuthored, models.KindReference)),
		validation.Field(&f.ReferenceType, validation.In(
			models.ReferenceStructure, models.ReferenceIdea, models.ReferenceUnspecified)),
		validation.Field(&f.PlatformMode, validation.In(PlatformHas, PlatformNotHas)),
		validation.Field(&f.Platform, validation.When(f.PlatformMode != PlatformAny, validation.Required)),
		validation.Field(&f.Usage, validation.In(UsageUsed, UsageUnused)),
	)
}

// SearchTokens returns the lowercase search terms.
func (f Filter) SearchTokens() []string {
	return strings.Fields(strings.ToLower(f.Search))
}

// Key is a deterministic serialization of every filter field. Searches that
// differ only in case or spacing share a key.
func (f Filter) Key() string {
	platform := "all"
	if f.PlatformMode != PlatformAny && f.Platform != "" {
		platform = string(f.PlatformMode) + ":" + f.Platform
	}
	parts := []string{
		"kind=" + strconv.Quote(string(f.Kind)),
		"rtype=" + strconv.Quote(string(f.ReferenceType)),
		"topic=" + strconv.Quote(f.Topic),
		"platform=" + strconv.Quote(platform),
		"search=" + strconv.Quote(strings.Join(f.SearchTokens(), " ")),
		"usage=" + strconv.Quote(string(f.Usage)),
	}
	return strings.Join(parts, "|")
}

// needsGraph reports whether matching requires usage counts.
func (f Filter) needsGraph() bool {
	return f.Usage != UsageAny
}

// match applies the predicates in their fixed order: deleted, kind,
// reference type, topic, platform, search, usage.
func (f Filter) match(it *models.SavedItem, tokens []string, g *refgraph.Graph) bool {
	if it.IsDeleted {
		return false
	}
	if f.Kind != "" && it.Kind != f.Kind {
		return false
	}
	if f.ReferenceType != "" {
		if !it.IsReference() || it.EffectiveReferenceType() != f.ReferenceType {
			return false
		}
	}
	if f.Topic != "" && it.Topic != f.Topic {
		return false
	}
	if f.Platform != "" {
		switch f.PlatformMode {
		case PlatformHas:
			if !it.HasPlatform(f.Platform) {
				return false
			}
		case PlatformNotHas:
			if it.HasPlatform(f.Platform) {
				return false
			}
		}
	}
	if len(tokens) > 0 {
		text := strings.ToLower(it.Content + " " + it.Topic)
		for _, tk := range tokens {
			if !strings.Contains(text, tk) {
				return false
			}
		}
	}
	if f.Usage != UsageAny {
		if !it.IsReference() {
			return false
		}
		used := g.UsageCount(it.ID) > 0
		if (f.Usage == UsageUsed) != used {
			return false
		}
	}
	return true
}
