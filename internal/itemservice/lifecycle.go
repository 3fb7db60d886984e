package itemservice

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/refdraft/internal/apperr"
	"github.com/starford/refdraft/internal/index"
	"github.com/starford/refdraft/internal/models"
	"github.com/starford/refdraft/internal/refgraph"
)

// DeleteResult is the outcome of a soft delete.
type DeleteResult struct {
	Item models.SavedItem `json:"item"`
	// UsedBy is the number of live drafts still citing a deleted reference.
	// Those links stop resolving until the reference is restored.
	UsedBy int `json:"used_by"`
}

// PurgeResult is the outcome of a permanent delete.
type PurgeResult struct {
	ID              string `json:"id"`
	TrackingRemoved int    `json:"tracking_removed"`
}

// SoftDelete flags an item as deleted. Deleting an already deleted item is a
// no-op.
func (s *Service) SoftDelete(ctx context.Context, id string) (DeleteResult, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	snap := s.current()
	existing, ok := find(snap, id)
	if !ok {
		return DeleteResult{}, apperr.ErrNotFound
	}

	usedBy := 0
	if existing.IsReference() {
		usedBy = refgraph.New(snap).UsageCount(id)
	}
	if existing.IsDeleted {
		return DeleteResult{Item: existing.Clone(), UsedBy: usedBy}, nil
	}

	deleted := true
	patch := index.ItemPatch{Deleted: &deleted, DeletedAt: s.now()}
	if err := s.store.UpdateItem(ctx, id, patch); err != nil {
		return DeleteResult{}, fmt.Errorf("itemservice: soft delete %s: %w", id, err)
	}

	updated, _ := s.replace(id, func(it *models.SavedItem) { applyPatch(it, patch) })
	if usedBy > 0 {
		s.logger.Info("deleted reference still cited by drafts",
			slog.String("id", id), slog.Int("drafts", usedBy))
	}
	s.publisher.PublishItemEvent(EventDeleted, id)
	return DeleteResult{Item: updated, UsedBy: usedBy}, nil
}

// Restore clears the soft-delete flag.
func (s *Service) Restore(ctx context.Context, id string) (models.SavedItem, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	existing, ok := find(s.current(), id)
	if !ok {
		return models.SavedItem{}, apperr.ErrNotFound
	}
	if !existing.IsDeleted {
		return existing.Clone(), nil
	}

	restored := false
	patch := index.ItemPatch{Deleted: &restored}
	if err := s.store.UpdateItem(ctx, id, patch); err != nil {
		return models.SavedItem{}, fmt.Errorf("itemservice: restore %s: %w", id, err)
	}

	updated, _ := s.replace(id, func(it *models.SavedItem) { applyPatch(it, patch) })
	s.publisher.PublishItemEvent(EventRestored, id)
	return updated, nil
}

// Purge permanently removes an item and its tracking posts. Drafts citing a
// purged reference keep the dangling id; readers drop it.
func (s *Service) Purge(ctx context.Context, id string) (PurgeResult, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	removed, err := s.store.DeleteItem(ctx, id)
	if err != nil {
		return PurgeResult{}, fmt.Errorf("itemservice: purge %s: %w", id, err)
	}

	cur := s.current()
	if i := indexOf(cur, id); i >= 0 {
		s.swap(slices.Delete(slices.Clone(cur), i, i+1))
	}

	s.logger.Info("item purged", slog.String("id", id), slog.Int("tracking_removed", removed))
	s.publisher.PublishItemEvent(EventPurged, id)
	return PurgeResult{ID: id, TrackingRemoved: removed}, nil
}

// Trash returns the soft-deleted items, most recently deleted first.
func (s *Service) Trash() []models.SavedItem {
	var out []models.SavedItem
	for _, it := range s.current() {
		if it.IsDeleted {
			out = append(out, it.Clone())
		}
	}
	slices.SortStableFunc(out, func(a, b models.SavedItem) int {
		return cmp.Compare(deletedUnix(b), deletedUnix(a))
	})
	return nonNilSlice(out)
}

func deletedUnix(it models.SavedItem) int64 {
	if it.DeletedAt == nil {
		return 0
	}
	return it.DeletedAt.UnixNano()
}

var errNotHTTPURL = errors.New("must be an absolute http(s) URL")

func httpURL(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errNotHTTPURL
	}
	return nil
}

// AddTrackingPost records a published post derived from an item.
func (s *Service) AddTrackingPost(ctx context.Context, p models.TrackingPost) (models.TrackingPost, error) {
	if err := validation.ValidateStruct(&p,
		validation.Field(&p.SourceItemID, validation.Required),
		validation.Field(&p.Platform, validation.Required),
		validation.Field(&p.URL, validation.By(httpURL)),
	); err != nil {
		return models.TrackingPost{}, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	out, err := s.store.AddTrackingPost(ctx, p)
	if err != nil {
		return models.TrackingPost{}, fmt.Errorf("itemservice: add tracking post: %w", err)
	}
	return out, nil
}

// TrackingPosts lists the tracking posts derived from an item.
func (s *Service) TrackingPosts(ctx context.Context, id string) ([]models.TrackingPost, error) {
	posts, err := s.store.TrackingPosts(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("itemservice: tracking posts: %w", err)
	}
	return nonNilSlice(posts), nil
}
