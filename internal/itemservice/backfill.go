package itemservice

import (
	"context"
	"fmt"

	"github.com/starford/refdraft/internal/apperr"
	"github.com/starford/refdraft/internal/backfill"
	"github.com/starford/refdraft/internal/models"
)

// BackfillHashes hashes every loaded reference that has none. Progress is
// published after each chunk. Only one run may be active at a time.
func (s *Service) BackfillHashes(ctx context.Context) (backfill.Result, error) {
	if err := s.claimBackfill(); err != nil {
		return backfill.Result{}, err
	}
	defer s.backfilling.Store(false)
	return s.runBackfill(ctx)
}

// StartBackfill claims the backfill slot and runs the migration in a new
// goroutine, passing the outcome to done. When a run is already active it
// returns ErrConflict and starts nothing. Cancelling ctx stops the run
// between chunks.
func (s *Service) StartBackfill(ctx context.Context, done func(backfill.Result, error)) error {
	if err := s.claimBackfill(); err != nil {
		return err
	}
	go func() {
		res, err := s.runBackfill(ctx)
		s.backfilling.Store(false)
		if done != nil {
			done(res, err)
		}
	}()
	return nil
}

func (s *Service) claimBackfill() error {
	if !s.backfilling.CompareAndSwap(false, true) {
		return fmt.Errorf("itemservice: backfill already running: %w", apperr.ErrConflict)
	}
	return nil
}

func (s *Service) runBackfill(ctx context.Context) (backfill.Result, error) {
	return s.migrator.Run(ctx, s.current(), func(p backfill.Progress) {
		s.publisher.PublishProgress(p)
	})
}

// BackfillRunning reports whether a backfill is in progress.
func (s *Service) BackfillRunning() bool {
	return s.backfilling.Load()
}

// snapshotWriter commits backfill chunks to the store and the snapshot.
// Each chunk takes the writer lock, so saves and edits interleave between
// chunks. Updates for items that were hashed, edited or purged since the
// run was planned are skipped.
type snapshotWriter struct {
	svc *Service
}

func (w *snapshotWriter) MaxBatchSize() int {
	return w.svc.store.MaxBatchSize()
}

func (w *snapshotWriter) WriteHashes(ctx context.Context, updates []models.HashUpdate) error {
	s := w.svc
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cur := s.current()
	pos := make(map[string]int, len(cur))
	for i, it := range cur {
		pos[it.ID] = i
	}

	pending := make([]models.HashUpdate, 0, len(updates))
	for _, u := range updates {
		i, ok := pos[u.ID]
		if !ok || cur[i].HasHash() {
			continue
		}
		pending = append(pending, u)
	}
	if len(pending) == 0 {
		return nil
	}

	if err := s.store.WriteHashes(ctx, pending); err != nil {
		return err
	}

	next := make([]models.SavedItem, len(cur))
	copy(next, cur)
	for _, u := range pending {
		i := pos[u.ID]
		it := next[i].Clone()
		it.ContentHash = u.Digest.Value
		it.HashVersion = u.Digest.Version()
		next[i] = it
	}
	s.swap(next)
	return nil
}
