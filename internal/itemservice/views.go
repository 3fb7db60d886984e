package itemservice

import (
	"context"
	"fmt"

	"github.com/starford/refdraft/internal/apperr"
	"github.com/starford/refdraft/internal/duplicate"
	"github.com/starford/refdraft/internal/models"
	"github.com/starford/refdraft/internal/refgraph"
	"github.com/starford/refdraft/internal/viewcache"
)

// List returns the filtered view of live items, newest first.
func (s *Service) List(ctx context.Context, f viewcache.Filter) ([]models.SavedItem, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}
	items, err := s.cache.Get(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("itemservice: list: %w", err)
	}
	return items, nil
}

// CheckDuplicate reports whether content duplicates a loaded reference. In
// live mode short candidates are not checked.
func (s *Service) CheckDuplicate(content string, live bool) *duplicate.Prompt {
	snap := s.current()
	if live {
		return s.detector.Hint(content, snap)
	}
	return s.detector.Prompt(content, snap)
}

// LinkedReferences returns the live references cited by a draft.
func (s *Service) LinkedReferences(_ context.Context, id string) ([]models.SavedItem, error) {
	snap := s.current()
	it, ok := find(snap, id)
	if !ok {
		return nil, apperr.ErrNotFound
	}
	if !it.IsAuthored() {
		return []models.SavedItem{}, nil
	}
	return refgraph.New(snap).LinkedReferences(id), nil
}

// Usage returns the live drafts citing a reference.
func (s *Service) Usage(_ context.Context, id string) (refgraph.Usage, error) {
	snap := s.current()
	if _, ok := find(snap, id); !ok {
		return refgraph.Usage{}, apperr.ErrNotFound
	}
	return refgraph.New(snap).Usage(id), nil
}

// UsageCounts returns the usage count of every live reference.
func (s *Service) UsageCounts() map[string]int {
	return refgraph.New(s.current()).UsageCounts()
}
