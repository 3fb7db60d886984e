package backfill

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/refdraft/internal/checksum"
	"github.com/starford/refdraft/internal/models"
)

// memWriter applies committed hashes to items in place.
type memWriter struct {
	items   []models.SavedItem
	batches []int
	limit   int
	failOn  int // 1-based batch number that fails; 0 never fails
}

func (w *memWriter) MaxBatchSize() int { return w.limit }

func (w *memWriter) WriteHashes(_ context.Context, updates []models.HashUpdate) error {
	if len(updates) > w.limit {
		return fmt.Errorf("batch of %d exceeds %d", len(updates), w.limit)
	}
	if w.failOn != 0 && len(w.batches)+1 == w.failOn {
		w.failOn = 0
		return errors.New("write rejected")
	}
	w.batches = append(w.batches, len(updates))
	byID := make(map[string]checksum.Digest, len(updates))
	for _, u := range updates {
		byID[u.ID] = u.Digest
	}
	for i := range w.items {
		if d, ok := byID[w.items[i].ID]; ok {
			w.items[i].ContentHash = d.Value
			w.items[i].HashVersion = d.Version()
		}
	}
	return nil
}

func legacyRefs(n int) []models.SavedItem {
	items := make([]models.SavedItem, n)
	for i := range items {
		items[i] = models.SavedItem{
			ID:      fmt.Sprintf("ref-%04d", i),
			Kind:    models.KindReference,
			Content: fmt.Sprintf("reference text %d", i),
		}
	}
	return items
}

func noWait(calls *int) func(context.Context, time.Duration) error {
	return func(ctx context.Context, _ time.Duration) error {
		*calls++
		return ctx.Err()
	}
}

func TestRun_ChunksAndRerun(t *testing.T) {
	w := &memWriter{items: legacyRefs(1200), limit: 500}
	m := NewMigrator(w, nil, Config{ChunkSize: 500, ChunkDelay: time.Second}, nil, nil)
	waits := 0
	m.wait = noWait(&waits)

	var progress []Progress
	res, err := m.Run(context.Background(), w.items, func(p Progress) { progress = append(progress, p) })
	require.NoError(t, err)

	assert.Equal(t, []int{500, 500, 200}, w.batches)
	assert.Equal(t, 1200, res.Completed)
	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, 2, waits, "delay runs between chunks only")
	require.Len(t, progress, 3)
	assert.Equal(t, Progress{Completed: 500, Total: 1200, Chunk: 1, Chunks: 3}, progress[0])
	assert.Equal(t, Progress{Completed: 1200, Total: 1200, Chunk: 3, Chunks: 3}, progress[2])

	for _, it := range w.items {
		want, _ := checksum.NewHasher().SumContent(it.Content)
		require.True(t, want.Matches(it.Digest()), "item %s", it.ID)
	}

	w.batches = nil
	res, err = m.Run(context.Background(), w.items, nil)
	require.NoError(t, err)
	assert.Empty(t, w.batches)
	assert.Zero(t, res.Total)
}

func TestRun_ChunkSizeClampedToWriterLimit(t *testing.T) {
	w := &memWriter{items: legacyRefs(250), limit: 100}
	m := NewMigrator(w, nil, Config{ChunkSize: 1000}, nil, nil)
	assert.Equal(t, 100, m.ChunkSize())

	_, err := m.Run(context.Background(), w.items, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{100, 100, 50}, w.batches)
}

func TestRun_FailureStopsAndResumes(t *testing.T) {
	w := &memWriter{items: legacyRefs(1200), limit: 500, failOn: 2}
	m := NewMigrator(w, nil, Config{ChunkSize: 500}, nil, nil)

	res, err := m.Run(context.Background(), w.items, nil)
	var chunkErr *ChunkError
	require.ErrorAs(t, err, &chunkErr)
	assert.Equal(t, 2, chunkErr.Chunk)
	assert.Equal(t, 500, chunkErr.Completed)
	assert.Equal(t, 500, res.Completed)
	assert.Equal(t, []int{500}, w.batches, "no chunk after the failed one")

	w.batches = nil
	res, err = m.Run(context.Background(), w.items, nil)
	require.NoError(t, err)
	assert.Equal(t, 700, res.Total)
	assert.Equal(t, []int{500, 200}, w.batches)
}

func TestRun_CancelBetweenChunks(t *testing.T) {
	w := &memWriter{items: legacyRefs(1200), limit: 500}
	m := NewMigrator(w, nil, Config{ChunkSize: 500, ChunkDelay: time.Second}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	m.wait = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	res, err := m.Run(ctx, w.items, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 500, res.Completed)
	assert.Equal(t, []int{500}, w.batches)
}

func TestRun_AlreadyCancelled(t *testing.T) {
	w := &memWriter{items: legacyRefs(10), limit: 500}
	m := NewMigrator(w, nil, Config{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Run(ctx, w.items, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, w.batches)
}

func TestPlan_SelectsUnhashedReferencesOnly(t *testing.T) {
	hashed := models.SavedItem{ID: "h", Kind: models.KindReference, Content: "x", ContentHash: "abc", HashVersion: 1}
	draft := models.SavedItem{ID: "d", Kind: models.KindAuthored, Content: "draft"}
	blank := models.SavedItem{ID: "b", Kind: models.KindReference, Content: " \n "}
	deleted := models.SavedItem{ID: "del", Kind: models.KindReference, Content: "old", IsDeleted: true}
	pending := models.SavedItem{ID: "p", Kind: models.KindReference, Content: "needs hash"}

	m := NewMigrator(&memWriter{limit: 500}, checksum.NewHasher(checksum.WithoutCrypto()), Config{}, nil, nil)
	updates, skipped := m.Plan([]models.SavedItem{hashed, draft, blank, deleted, pending})

	assert.Equal(t, 1, skipped)
	require.Len(t, updates, 2)
	assert.Equal(t, "del", updates[0].ID)
	assert.Equal(t, "p", updates[1].ID)
	assert.Equal(t, checksum.Fallback32, updates[1].Digest.Algorithm)
}

func TestSleep_HonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleep(context.Background(), time.Millisecond))
}
