// Package duplicate finds stored references whose content matches a
// candidate text.
package duplicate

import (
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/starford/refdraft/internal/checksum"
	"github.com/starford/refdraft/internal/models"
)

// Choice is the caller's answer to a duplicate prompt.
type Choice string

const (
	ChoiceCancel       Choice = "cancel"
	ChoiceViewExisting Choice = "view"
	ChoiceSaveAnyway   Choice = "save"
)

// Choices lists the answers a prompt offers, in display order.
var Choices = []Choice{ChoiceCancel, ChoiceViewExisting, ChoiceSaveAnyway}

// Prompt is returned instead of a write when a save would duplicate an
// existing reference.
type Prompt struct {
	Existing  models.SavedItem `json:"existing"`
	MatchedBy string           `json:"matched_by"`
	Choices   []Choice         `json:"choices"`
}

// Match strategies reported in Prompt.MatchedBy.
const (
	MatchHash       = "hash"
	MatchNormalized = "normalized"
)

// Recorder receives detection outcomes. A nil Recorder is ignored.
type Recorder interface {
	RecordDuplicateCheck(found bool)
}

// Detector scans an in-memory item set for duplicate references.
type Detector struct {
	hasher    *checksum.Hasher
	normalize func(string) string
	logger    *slog.Logger
	recorder  Recorder
	// MinLength is the shortest candidate (in runes, after normalization)
	// that Hint checks.
	MinLength int
}

// New creates a Detector.
func New(hasher *checksum.Hasher, logger *slog.Logger, recorder Recorder) *Detector {
	if hasher == nil {
		hasher = checksum.NewHasher()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		hasher:    hasher,
		normalize: checksum.Normalize,
		logger:    logger,
		recorder:  recorder,
		MinLength: 10,
	}
}

// Check returns the first reference in items that duplicates candidate, or
// nil. Items are scanned in the order given; soft-deleted items and drafts
// never match. Any failure during the scan is logged and reported as no
// match.
func (d *Detector) Check(candidate string, items []models.SavedItem) *models.SavedItem {
	match, _ := d.find(candidate, items)
	return match
}

// Prompt wraps Check's result in a Prompt, or returns nil when there is no
// duplicate.
func (d *Detector) Prompt(candidate string, items []models.SavedItem) *Prompt {
	match, by := d.find(candidate, items)
	if match == nil {
		return nil
	}
	return &Prompt{Existing: *match, MatchedBy: by, Choices: Choices}
}

// Hint is Prompt for live typing: candidates shorter than MinLength are not
// checked.
func (d *Detector) Hint(candidate string, items []models.SavedItem) *Prompt {
	if utf8.RuneCountInString(d.normalize(candidate)) < d.MinLength {
		return nil
	}
	return d.Prompt(candidate, items)
}

func (d *Detector) find(candidate string, items []models.SavedItem) (match *models.SavedItem, by string) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("duplicate check failed, treating as unique",
				slog.String("error", fmt.Sprint(r)))
			match, by = nil, ""
		}
		if d.recorder != nil {
			d.recorder.RecordDuplicateCheck(match != nil)
		}
	}()

	normalized := d.normalize(candidate)
	if normalized == "" {
		return nil, ""
	}

	if digest, ok := d.hasher.Sum(normalized); ok {
		for i := range items {
			it := &items[i]
			if !eligible(it) {
				continue
			}
			if digest.Matches(it.Digest()) {
				found := it.Clone()
				return &found, MatchHash
			}
		}
	}

	for i := range items {
		it := &items[i]
		if !eligible(it) {
			continue
		}
		if d.normalize(it.Content) == normalized {
			found := it.Clone()
			return &found, MatchNormalized
		}
	}
	return nil, ""
}

func eligible(it *models.SavedItem) bool {
	return it.IsReference() && !it.IsDeleted
}
