// Package itemservice owns the in-memory item snapshot and coordinates the
// store, duplicate detection, the reference graph, the view cache and the
// hash backfill.
package itemservice

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/starford/refdraft/internal/apperr"
	"github.com/starford/refdraft/internal/backfill"
	"github.com/starford/refdraft/internal/checksum"
	"github.com/starford/refdraft/internal/duplicate"
	"github.com/starford/refdraft/internal/index"
	"github.com/starford/refdraft/internal/metrics"
	"github.com/starford/refdraft/internal/models"
	"github.com/starford/refdraft/internal/viewcache"
)

// Item event kinds passed to Publisher.PublishItemEvent.
const (
	EventCreated  = "created"
	EventUpdated  = "updated"
	EventDeleted  = "deleted"
	EventRestored = "restored"
	EventPurged   = "purged"
)

// Publisher receives change notifications.
type Publisher interface {
	PublishItemEvent(kind, id string)
	PublishProgress(p backfill.Progress)
}

type nopPublisher struct{}

func (nopPublisher) PublishItemEvent(string, string)   {}
func (nopPublisher) PublishProgress(backfill.Progress) {}

// Service is the single writer of the item collection.
//
// The loaded items live in an immutable slice that is replaced on every
// mutation. Writers are serialized by writeMu; readers only take mu long
// enough to grab the current slice.
type Service struct {
	store     index.ItemStore
	hasher    *checksum.Hasher
	detector  *duplicate.Detector
	cache     *viewcache.Cache
	migrator  *backfill.Migrator
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
	platforms []string

	writeMu     sync.Mutex
	mu          sync.RWMutex
	items       []models.SavedItem
	backfilling atomic.Bool
}

type options struct {
	logger       *slog.Logger
	publisher    Publisher
	recorder     metrics.Recorder
	now          func() time.Time
	hasher       *checksum.Hasher
	backfill     backfill.Config
	debounce     time.Duration
	platforms    []string
	minDupLength int
}

// Option configures a Service.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithPublisher sets the change notification sink.
func WithPublisher(p Publisher) Option { return func(o *options) { o.publisher = p } }

// WithRecorder wires metrics into the detector, cache and migrator.
func WithRecorder(r metrics.Recorder) Option { return func(o *options) { o.recorder = r } }

// WithClock replaces the timestamp source used for created_at and deleted_at.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithHasher replaces the content hasher.
func WithHasher(h *checksum.Hasher) Option { return func(o *options) { o.hasher = h } }

// WithBackfill sets the hash backfill chunking.
func WithBackfill(cfg backfill.Config) Option { return func(o *options) { o.backfill = cfg } }

// WithViewDebounce sets the view cache debounce window.
func WithViewDebounce(d time.Duration) Option { return func(o *options) { o.debounce = d } }

// WithPlatforms restricts platform tags to the given list. Unknown tags are
// dropped on save.
func WithPlatforms(p []string) Option { return func(o *options) { o.platforms = p } }

// WithDuplicateMinLength sets the shortest text live duplicate hints check.
func WithDuplicateMinLength(n int) Option { return func(o *options) { o.minDupLength = n } }

// New creates a Service. Call Load before serving requests.
func New(store index.ItemStore, opts ...Option) *Service {
	o := options{
		logger:       slog.Default(),
		publisher:    nopPublisher{},
		now:          time.Now,
		minDupLength: 10,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.hasher == nil {
		o.hasher = checksum.NewHasher()
	}

	s := &Service{
		store:     store,
		hasher:    o.hasher,
		publisher: o.publisher,
		logger:    o.logger,
		now:       o.now,
		platforms: o.platforms,
	}

	var (
		dupRec  duplicate.Recorder
		viewRec viewcache.Recorder
		bfRec   backfill.Recorder
	)
	if o.recorder != nil {
		dupRec, viewRec, bfRec = o.recorder, o.recorder, o.recorder
	}

	s.detector = duplicate.New(o.hasher, o.logger, dupRec)
	s.detector.MinLength = o.minDupLength
	s.cache = viewcache.New(s.source, o.debounce, viewRec)
	s.migrator = backfill.NewMigrator(&snapshotWriter{svc: s}, o.hasher, o.backfill, o.logger, bfRec)
	return s
}

// Load replaces the snapshot with the store's full item set.
func (s *Service) Load(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	items, err := s.store.AllItems(ctx)
	if err != nil {
		return fmt.Errorf("itemservice: load: %w", err)
	}
	s.swap(items)
	s.logger.Info("items loaded", slog.Int("count", len(items)))
	return nil
}

// Snapshot returns a copy of the loaded items, newest first.
func (s *Service) Snapshot() []models.SavedItem {
	return models.CloneItems(s.current())
}

// Get returns one loaded item.
func (s *Service) Get(_ context.Context, id string) (models.SavedItem, error) {
	it, ok := find(s.current(), id)
	if !ok {
		return models.SavedItem{}, apperr.ErrNotFound
	}
	return it.Clone(), nil
}

// Cache exposes the view cache for diagnostics.
func (s *Service) Cache() *viewcache.Cache {
	return s.cache
}

func (s *Service) current() []models.SavedItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items
}

func (s *Service) source(context.Context) ([]models.SavedItem, error) {
	return s.current(), nil
}

// swap installs a new snapshot and invalidates the view in one step so no
// reader sees the new items with the old view or the other way round.
func (s *Service) swap(items []models.SavedItem) {
	s.mu.Lock()
	s.items = items
	s.cache.Invalidate()
	s.mu.Unlock()
}

// replace swaps in a copy of the snapshot with fn applied to the item id.
func (s *Service) replace(id string, fn func(*models.SavedItem)) (models.SavedItem, bool) {
	cur := s.current()
	i := indexOf(cur, id)
	if i < 0 {
		return models.SavedItem{}, false
	}
	next := slices.Clone(cur)
	updated := next[i].Clone()
	fn(&updated)
	next[i] = updated
	s.swap(next)
	return updated.Clone(), true
}

func indexOf(items []models.SavedItem, id string) int {
	return slices.IndexFunc(items, func(it models.SavedItem) bool { return it.ID == id })
}

func find(items []models.SavedItem, id string) (models.SavedItem, bool) {
	if i := indexOf(items, id); i >= 0 {
		return items[i], true
	}
	return models.SavedItem{}, false
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
