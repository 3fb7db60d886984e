package itemservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/refdraft/internal/apperr"
	"github.com/starford/refdraft/internal/checksum"
	"github.com/starford/refdraft/internal/duplicate"
	"github.com/starford/refdraft/internal/index"
	"github.com/starford/refdraft/internal/models"
	"github.com/starford/refdraft/internal/refgraph"
)

var errBlankContent = errors.New("must contain non-whitespace text")

func notBlank(value any) error {
	v := validation.Indirect(value)
	if v == nil {
		return nil
	}
	if checksum.NormalizeValue(v) == "" {
		return errBlankContent
	}
	return nil
}

var referenceTypes = []any{models.ReferenceStructure, models.ReferenceIdea, models.ReferenceUnspecified}

// SaveInput is a new item as entered by the user.
type SaveInput struct {
	Kind               models.Kind          `json:"kind"`
	Content            string               `json:"content"`
	ReferenceType      models.ReferenceType `json:"reference_type,omitempty"`
	LinkedReferenceIDs []string             `json:"linked_reference_ids,omitempty"`
	Topic              string               `json:"topic,omitempty"`
	Platforms          []string             `json:"platforms,omitempty"`
	// SaveAnyway skips the duplicate prompt for references.
	SaveAnyway bool `json:"save_anyway,omitempty"`
}

// Validate checks the input fields.
func (in SaveInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Kind, validation.Required, validation.In(models.KindAuthored, models.KindReference)),
		validation.Field(&in.Content, validation.Required, validation.By(notBlank)),
		validation.Field(&in.ReferenceType, validation.In(referenceTypes...)),
	)
}

// SaveResult is the outcome of Save. Exactly one of Item and Duplicate is set.
type SaveResult struct {
	Item         *models.SavedItem `json:"item,omitempty"`
	Duplicate    *duplicate.Prompt `json:"duplicate,omitempty"`
	DroppedLinks []string          `json:"dropped_links,omitempty"`
}

// Save stores a new item.
//
// A reference whose content duplicates a live reference is not written
// unless SaveAnyway is set; the prompt is returned instead. Draft links are
// filtered against the loaded snapshot and ids that do not resolve are
// dropped without error.
func (s *Service) Save(ctx context.Context, in SaveInput) (SaveResult, error) {
	if err := in.Validate(); err != nil {
		return SaveResult{}, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	snap := s.current()

	if in.Kind == models.KindReference && !in.SaveAnyway {
		if prompt := s.detector.Prompt(in.Content, snap); prompt != nil {
			s.logger.Info("save: duplicate reference",
				slog.String("existing_id", prompt.Existing.ID),
				slog.String("matched_by", prompt.MatchedBy))
			return SaveResult{Duplicate: prompt}, nil
		}
	}

	item := models.SavedItem{
		Kind:      in.Kind,
		Content:   in.Content,
		Topic:     in.Topic,
		Platforms: s.allowedPlatforms(in.Platforms),
		CreatedAt: s.now(),
	}

	var dropped []string
	switch in.Kind {
	case models.KindReference:
		item.ReferenceType = in.ReferenceType
		if item.ReferenceType == "" {
			item.ReferenceType = models.ReferenceUnspecified
		}
		if d, ok := s.hasher.SumContent(in.Content); ok {
			item.ContentHash = d.Value
			item.HashVersion = d.Version()
		}
	case models.KindAuthored:
		item.LinkedReferenceIDs = refgraph.New(snap).ValidLinks(in.LinkedReferenceIDs)
		dropped = droppedLinks(in.LinkedReferenceIDs, item.LinkedReferenceIDs)
		if len(dropped) > 0 {
			s.logger.Debug("save: dropped unresolved links", slog.Int("count", len(dropped)))
		}
	}

	stored, err := s.store.AddItem(ctx, item)
	if err != nil {
		return SaveResult{}, fmt.Errorf("itemservice: save: %w", err)
	}

	next := make([]models.SavedItem, 0, len(snap)+1)
	next = append(next, stored)
	next = append(next, snap...)
	s.swap(next)

	s.publisher.PublishItemEvent(EventCreated, stored.ID)
	out := stored.Clone()
	return SaveResult{Item: &out, DroppedLinks: dropped}, nil
}

// EditInput lists the fields to change. Nil fields are kept.
type EditInput struct {
	Content            *string               `json:"content,omitempty"`
	Topic              *string               `json:"topic,omitempty"`
	ReferenceType      *models.ReferenceType `json:"reference_type,omitempty"`
	LinkedReferenceIDs *[]string             `json:"linked_reference_ids,omitempty"`
	Platforms          *[]string             `json:"platforms,omitempty"`
}

// Validate checks the fields that are set.
func (in EditInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Content, validation.NilOrNotEmpty, validation.By(notBlank)),
		validation.Field(&in.ReferenceType, validation.In(referenceTypes...)),
	)
}

// Edit updates an existing item. A changed reference content gets a fresh
// hash; changed draft links are validated like on Save.
func (s *Service) Edit(ctx context.Context, id string, in EditInput) (models.SavedItem, error) {
	if err := in.Validate(); err != nil {
		return models.SavedItem{}, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	snap := s.current()
	existing, ok := find(snap, id)
	if !ok || existing.IsDeleted {
		return models.SavedItem{}, apperr.ErrNotFound
	}

	var patch index.ItemPatch
	if in.Content != nil && *in.Content != existing.Content {
		patch.Content = in.Content
		if existing.IsReference() {
			hash, version := "", 0
			if d, ok := s.hasher.SumContent(*in.Content); ok {
				hash, version = d.Value, d.Version()
			}
			patch.ContentHash = &hash
			patch.HashVersion = &version
		}
	}
	if in.Topic != nil {
		patch.Topic = in.Topic
	}
	if in.Platforms != nil {
		p := s.allowedPlatforms(*in.Platforms)
		patch.Platforms = &p
	}
	if in.ReferenceType != nil && existing.IsReference() {
		patch.ReferenceType = in.ReferenceType
	}
	if in.LinkedReferenceIDs != nil && existing.IsAuthored() {
		links := refgraph.New(snap).ValidLinks(*in.LinkedReferenceIDs)
		patch.LinkedReferenceIDs = &links
	}

	if err := s.store.UpdateItem(ctx, id, patch); err != nil {
		return models.SavedItem{}, fmt.Errorf("itemservice: edit %s: %w", id, err)
	}

	updated, _ := s.replace(id, func(it *models.SavedItem) {
		applyPatch(it, patch)
	})
	s.publisher.PublishItemEvent(EventUpdated, id)
	return updated, nil
}

func applyPatch(it *models.SavedItem, p index.ItemPatch) {
	if p.Content != nil {
		it.Content = *p.Content
	}
	if p.ContentHash != nil {
		it.ContentHash = *p.ContentHash
	}
	if p.HashVersion != nil {
		it.HashVersion = *p.HashVersion
	}
	if p.ReferenceType != nil {
		it.ReferenceType = *p.ReferenceType
	}
	if p.LinkedReferenceIDs != nil {
		it.LinkedReferenceIDs = slices.Clone(*p.LinkedReferenceIDs)
	}
	if p.Topic != nil {
		it.Topic = *p.Topic
	}
	if p.Platforms != nil {
		it.Platforms = slices.Clone(*p.Platforms)
	}
	if p.Deleted != nil {
		it.IsDeleted = *p.Deleted
		if *p.Deleted {
			at := p.DeletedAt.UTC()
			it.DeletedAt = &at
		} else {
			it.DeletedAt = nil
		}
	}
}

// allowedPlatforms drops unknown and repeated platform tags.
func (s *Service) allowedPlatforms(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if len(s.platforms) > 0 && !slices.Contains(s.platforms, p) {
			continue
		}
		if slices.Contains(out, p) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func droppedLinks(requested, kept []string) []string {
	var out []string
	for _, id := range requested {
		if !slices.Contains(kept, id) && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
