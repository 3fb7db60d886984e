package inbox

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period after the last write to a file before
// it is imported.
const DefaultDebounce = 200 * time.Millisecond

// EventCallback is called after the watcher processes a file.
type EventCallback func(Outcome)

// Watch starts an fsnotify watcher on the inbox root and imports new or
// rewritten .md files until ctx is cancelled. Files are imported once no
// event for them arrived for debounce, so editors that write in several
// steps produce one import. Subdirectories are not watched.
func (im *Importer) Watch(ctx context.Context, root string, debounce time.Duration, cb EventCallback) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	if err := w.Add(absRoot); err != nil {
		return err
	}

	im.logger.Info("watcher: started", slog.String("root", absRoot))

	pending := make(map[string]time.Time)
	var timer *time.Timer
	var timerCh <-chan time.Time

	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(debounce)
			timerCh = timer.C
		} else {
			timer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			im.logger.Info("watcher: stopped")
			return nil

		case <-timerCh:
			now := time.Now()
			for rel, last := range pending {
				if now.Sub(last) < debounce {
					continue
				}
				delete(pending, rel)
				im.importWatched(ctx, rel, cb)
			}
			if len(pending) > 0 {
				schedule()
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			rel, ok := inboxFile(absRoot, ev.Name)
			if !ok {
				continue
			}
			pending[rel] = time.Now()
			schedule()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			im.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func (im *Importer) importWatched(ctx context.Context, rel string, cb EventCallback) {
	if !im.store.Exists(rel) {
		// Moved away by Sync or by the user.
		return
	}
	out, err := im.ImportFile(ctx, rel)
	if err != nil {
		im.logger.Warn("watcher: import failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	if cb != nil {
		cb(out)
	}
}

// inboxFile reports whether abs is a visible .md file directly in root and
// returns its path relative to root.
func inboxFile(root, abs string) (string, bool) {
	if filepath.Dir(abs) != root {
		return "", false
	}
	name := filepath.Base(abs)
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".md") {
		return "", false
	}
	return name, true
}
