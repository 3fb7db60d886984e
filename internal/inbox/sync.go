// Package inbox imports Markdown files dropped into a directory as saved
// items. Processed files are moved into imported/, skipped/ or failed/ next
// to the pending ones so the directory doubles as an audit trail.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/starford/refdraft/internal/apperr"
	"github.com/starford/refdraft/internal/itemservice"
	"github.com/starford/refdraft/internal/models"
	"github.com/starford/refdraft/internal/parser"
	"github.com/starford/refdraft/internal/storage"
)

// Subdirectories that receive processed files.
const (
	DirImported = "imported"
	DirSkipped  = "skipped"
	DirFailed   = "failed"
)

// Policy decides what happens to a reference that duplicates a stored one.
type Policy string

const (
	PolicySkip Policy = "skip"
	PolicySave Policy = "save"
)

// Status is the result of importing one file.
type Status string

const (
	StatusImported Status = "imported"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

// Saver stores parsed items.
type Saver interface {
	Save(ctx context.Context, in itemservice.SaveInput) (itemservice.SaveResult, error)
}

// Outcome describes one processed file.
type Outcome struct {
	Path   string `json:"path"`
	Status Status `json:"status"`
	ItemID string `json:"item_id,omitempty"`
	// Reason is set for skipped and failed files.
	Reason string `json:"reason,omitempty"`
}

// Summary counts the outcomes of a Sync pass.
type Summary struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

func (s *Summary) add(o Outcome) {
	switch o.Status {
	case StatusImported:
		s.Imported++
	case StatusSkipped:
		s.Skipped++
	case StatusFailed:
		s.Failed++
	}
}

// Importer turns inbox files into items.
type Importer struct {
	saver  Saver
	store  storage.Provider
	policy Policy
	logger *slog.Logger
	now    func() time.Time

	// mu keeps Sync and the watcher from importing the same file twice.
	mu sync.Mutex
}

// NewImporter creates an Importer. An empty policy means PolicySkip.
func NewImporter(saver Saver, store storage.Provider, policy Policy, logger *slog.Logger) *Importer {
	if policy == "" {
		policy = PolicySkip
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{saver: saver, store: store, policy: policy, logger: logger, now: time.Now}
}

// Sync imports every pending file in the inbox root, oldest modification
// first, so items are stored in the order the files were dropped.
func (im *Importer) Sync(ctx context.Context) (Summary, error) {
	var sum Summary
	metas, err := im.store.List("")
	if err != nil {
		return sum, fmt.Errorf("inbox: sync: %w", err)
	}
	slices.SortStableFunc(metas, func(a, b models.FileMetadata) int {
		if c := a.UpdatedAt.Compare(b.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Path, b.Path)
	})
	for _, m := range metas {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		out, err := im.ImportFile(ctx, m.Path)
		if err != nil {
			im.logger.Warn("sync: import failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		sum.add(out)
	}
	im.logger.Info("inbox synced",
		slog.Int("imported", sum.Imported),
		slog.Int("skipped", sum.Skipped),
		slog.Int("failed", sum.Failed),
	)
	return sum, nil
}

// ImportFile imports one file (relative to the inbox root) and moves it to
// the matching subdirectory. An error means the file was left in place and
// can be retried, for example when the store is unavailable.
func (im *Importer) ImportFile(ctx context.Context, path string) (Outcome, error) {
	im.mu.Lock()
	defer im.mu.Unlock()

	if !im.store.Exists(path) {
		return Outcome{}, fmt.Errorf("inbox: %s: %w", path, apperr.ErrNotFound)
	}
	data, err := im.store.Read(path)
	if err != nil {
		return Outcome{}, err
	}

	res, err := parser.Parse(data)
	if err != nil {
		return im.fail(path, err.Error())
	}

	saved, err := im.saver.Save(ctx, itemservice.SaveInput{
		Kind:               res.Kind,
		Content:            res.Body,
		ReferenceType:      res.ReferenceType,
		LinkedReferenceIDs: res.Links,
		Topic:              res.Topic,
		Platforms:          res.Platforms,
		SaveAnyway:         im.policy == PolicySave,
	})
	switch {
	case errors.Is(err, apperr.ErrInvalidInput):
		return im.fail(path, err.Error())
	case err != nil:
		return Outcome{}, fmt.Errorf("inbox: import %s: %w", path, err)
	}

	if saved.Duplicate != nil {
		reason := "duplicate of " + saved.Duplicate.Existing.ID
		if err := im.move(path, DirSkipped); err != nil {
			return Outcome{}, err
		}
		im.logger.Info("inbox: skipped duplicate", slog.String("path", path), slog.String("existing_id", saved.Duplicate.Existing.ID))
		return Outcome{Path: path, Status: StatusSkipped, Reason: reason}, nil
	}

	if err := im.move(path, DirImported); err != nil {
		return Outcome{}, err
	}
	out := Outcome{Path: path, Status: StatusImported, ItemID: saved.Item.ID}
	if len(saved.DroppedLinks) > 0 {
		out.Reason = "dropped links: " + strings.Join(saved.DroppedLinks, ", ")
	}
	im.logger.Info("inbox: imported", slog.String("path", path), slog.String("id", saved.Item.ID))
	return out, nil
}

// fail moves path to failed/ and writes the reason next to it.
func (im *Importer) fail(path, reason string) (Outcome, error) {
	dst, err := im.destination(path, DirFailed)
	if err != nil {
		return Outcome{}, err
	}
	if err := im.store.Move(path, dst); err != nil {
		return Outcome{}, err
	}
	if err := im.store.Write(dst+".error.txt", []byte(reason+"\n")); err != nil {
		im.logger.Warn("inbox: write reason failed", slog.String("path", dst), slog.String("error", err.Error()))
	}
	im.logger.Warn("inbox: import failed", slog.String("path", path), slog.String("reason", reason))
	return Outcome{Path: path, Status: StatusFailed, Reason: reason}, nil
}

func (im *Importer) move(path, dir string) error {
	dst, err := im.destination(path, dir)
	if err != nil {
		return err
	}
	return im.store.Move(path, dst)
}

// destination picks a free name under dir, suffixing a timestamp when a file
// with the same name was processed before.
func (im *Importer) destination(path, dir string) (string, error) {
	name := filepath.Base(path)
	dst := filepath.Join(dir, name)
	if !im.store.Exists(dst) {
		return dst, nil
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; i < 100; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s-%d%s", stem, im.now().UnixNano()+int64(i), ext))
		if !im.store.Exists(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("inbox: no free name for %s in %s: %w", name, dir, apperr.ErrConflict)
}
