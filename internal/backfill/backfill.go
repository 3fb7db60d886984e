// Package backfill computes content hashes for legacy references that were
// stored without one.
package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/refdraft/internal/checksum"
	"github.com/starford/refdraft/internal/models"
)

// DefaultChunkSize matches the store's per-transaction write limit.
const DefaultChunkSize = 500

// Writer commits hash updates. Each WriteHashes call must be atomic.
type Writer interface {
	WriteHashes(ctx context.Context, updates []models.HashUpdate) error
	MaxBatchSize() int
}

// Recorder receives migration metrics. A nil Recorder is ignored.
type Recorder interface {
	RecordBackfillChunk(items int)
	RecordBackfillFailure()
}

// Config holds migration parameters.
type Config struct {
	// ChunkSize is the number of updates committed per batch. It is clamped
	// to the writer's MaxBatchSize.
	ChunkSize int
	// ChunkDelay is the pause between two consecutive batches.
	ChunkDelay time.Duration
}

// Progress is the cumulative state reported after each committed chunk.
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
	Chunk     int `json:"chunk"`
	Chunks    int `json:"chunks"`
}

// Observer is called after every committed chunk.
type Observer func(Progress)

// Result summarizes one migration run.
type Result struct {
	Total     int
	Completed int
	Chunks    int
	// Skipped counts references with no hashable content.
	Skipped int
}

// ChunkError reports a failed chunk. Chunks before it stay committed.
type ChunkError struct {
	Chunk     int
	Completed int
	Err       error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("backfill: chunk %d failed after %d items: %v", e.Chunk, e.Completed, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// Migrator runs the hash backfill in throttled, sequential chunks.
type Migrator struct {
	writer   Writer
	hasher   *checksum.Hasher
	cfg      Config
	logger   *slog.Logger
	recorder Recorder
	wait     func(ctx context.Context, d time.Duration) error
}

// NewMigrator creates a Migrator.
func NewMigrator(w Writer, hasher *checksum.Hasher, cfg Config, logger *slog.Logger, recorder Recorder) *Migrator {
	if hasher == nil {
		hasher = checksum.NewHasher()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if limit := w.MaxBatchSize(); limit > 0 && cfg.ChunkSize > limit {
		cfg.ChunkSize = limit
	}
	return &Migrator{
		writer:   w,
		hasher:   hasher,
		cfg:      cfg,
		logger:   logger,
		recorder: recorder,
		wait:     sleep,
	}
}

// ChunkSize returns the effective chunk size.
func (m *Migrator) ChunkSize() int {
	return m.cfg.ChunkSize
}

// Plan returns the hash updates for every reference that has no hash.
// References whose normalized content is empty cannot be hashed and are
// counted in skipped.
func (m *Migrator) Plan(items []models.SavedItem) (updates []models.HashUpdate, skipped int) {
	for _, it := range items {
		if !it.IsReference() || it.HasHash() {
			continue
		}
		d, ok := m.hasher.SumContent(it.Content)
		if !ok {
			skipped++
			continue
		}
		updates = append(updates, models.HashUpdate{ID: it.ID, Digest: d})
	}
	return updates, skipped
}

// Run hashes every pending reference in items. Chunks are committed one at a
// time with ChunkDelay between them; ctx is checked before each chunk and
// during the delay, never in the middle of a write. observe may be nil.
//
// A failed chunk stops the run and is returned as *ChunkError. Committed
// chunks are kept, so running again only touches what is still missing.
func (m *Migrator) Run(ctx context.Context, items []models.SavedItem, observe Observer) (Result, error) {
	start := time.Now()
	updates, skipped := m.Plan(items)

	res := Result{Total: len(updates), Skipped: skipped}
	if len(updates) == 0 {
		m.logger.Info("backfill: nothing to do", slog.Int("skipped", skipped))
		return res, nil
	}

	chunks := (len(updates) + m.cfg.ChunkSize - 1) / m.cfg.ChunkSize
	m.logger.Info("backfill: started",
		slog.Int("pending", len(updates)),
		slog.Int("chunks", chunks),
		slog.Int("chunk_size", m.cfg.ChunkSize),
		slog.Duration("chunk_delay", m.cfg.ChunkDelay),
	)

	for i := 0; i < chunks; i++ {
		if err := ctx.Err(); err != nil {
			m.logger.Info("backfill: cancelled", slog.Int("completed", res.Completed), slog.Int("total", res.Total))
			return res, err
		}

		lo := i * m.cfg.ChunkSize
		hi := min(lo+m.cfg.ChunkSize, len(updates))
		chunk := updates[lo:hi]

		if err := m.writer.WriteHashes(ctx, chunk); err != nil {
			if m.recorder != nil {
				m.recorder.RecordBackfillFailure()
			}
			m.logger.Error("backfill: chunk failed",
				slog.Int("chunk", i+1),
				slog.Int("completed", res.Completed),
				slog.String("error", err.Error()),
			)
			return res, &ChunkError{Chunk: i + 1, Completed: res.Completed, Err: err}
		}

		res.Completed += len(chunk)
		res.Chunks++
		if m.recorder != nil {
			m.recorder.RecordBackfillChunk(len(chunk))
		}
		m.logger.Debug("backfill: chunk committed", slog.Int("chunk", i+1), slog.Int("items", len(chunk)))

		if i < chunks-1 && m.cfg.ChunkDelay > 0 {
			if err := m.wait(ctx, m.cfg.ChunkDelay); err != nil {
				m.logger.Info("backfill: cancelled", slog.Int("completed", res.Completed), slog.Int("total", res.Total))
				if observe != nil {
					observe(Progress{Completed: res.Completed, Total: res.Total, Chunk: i + 1, Chunks: chunks})
				}
				return res, err
			}
		}

		if observe != nil {
			observe(Progress{Completed: res.Completed, Total: res.Total, Chunk: i + 1, Chunks: chunks})
		}
	}

	m.logger.Info("backfill: completed",
		slog.Int("hashed", res.Completed),
		slog.Int("chunks", res.Chunks),
		slog.Int("skipped", res.Skipped),
		slog.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
