package index

import (
	"context"

	"github.com/starford/refdraft/internal/models"
)

// ItemStore defines the persistence operations the item service relies on.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with fakes.
type ItemStore interface {
	AddItem(ctx context.Context, it models.SavedItem) (models.SavedItem, error)
	GetItem(ctx context.Context, id string) (models.SavedItem, error)
	UpdateItem(ctx context.Context, id string, patch ItemPatch) error
	QueryByField(ctx context.Context, field string, value any) ([]models.SavedItem, error)
	AllItems(ctx context.Context) ([]models.SavedItem, error)
	WriteHashes(ctx context.Context, updates []models.HashUpdate) error
	MaxBatchSize() int
	DeleteItem(ctx context.Context, id string) (int, error)
	AddTrackingPost(ctx context.Context, p models.TrackingPost) (models.TrackingPost, error)
	TrackingPosts(ctx context.Context, sourceID string) ([]models.TrackingPost, error)
	Close() error
}

// Verify *DB satisfies ItemStore at compile time.
var _ ItemStore = (*DB)(nil)
