// Package watch re-runs a sync whenever the posts directory changes.
//
// Bursts of file events are debounced into a single run. Events that arrive
// while a run is in flight mark one pending run, which re-arms the debounce
// once the current run returns. Runs never overlap.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/54b3r/postsearch-go/internal/logging"
)

// DefaultDebounce is the quiet period after the last event before a run.
const DefaultDebounce = time.Second

// SyncFunc is the work triggered by a change. Errors are logged only.
type SyncFunc func(ctx context.Context) error

// Options configures a Watcher.
type Options struct {
	// Debounce defaults to DefaultDebounce.
	Debounce time.Duration
	// Logger defaults to a no-op logger.
	Logger *slog.Logger
}

// Watcher watches one directory (non-recursively) and calls a SyncFunc.
type Watcher struct {
	dir      string
	fn       SyncFunc
	debounce time.Duration
	log      *slog.Logger
	fsw      *fsnotify.Watcher
}

// New starts watching dir. Events are queued from this point on; call Run to
// process them. The directory must exist.
func New(dir string, fn SyncFunc, opts Options) (*Watcher, error) {
	if fn == nil {
		return nil, errors.New("watch: sync func must not be nil")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch: add %s: %w", dir, err)
	}

	return &Watcher{
		dir:      dir,
		fn:       fn,
		debounce: opts.Debounce,
		log:      opts.Logger,
		fsw:      fsw,
	}, nil
}

// Run processes events until ctx is cancelled. It waits for an in-flight
// run to return before closing the underlying watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	var (
		running bool
		pending bool
		done    = make(chan error, 1)
	)

	w.log.Info("watch: started", slog.String("dir", w.dir), slog.Duration("debounce", w.debounce))

	for {
		select {
		case <-ctx.Done():
			if running {
				<-done
			}
			w.log.Info("watch: stopped", slog.String("dir", w.dir))
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watch: event channel closed")
			}
			if !relevant(ev) {
				continue
			}
			w.log.Debug("watch: change", slog.String("path", ev.Name), slog.String("op", ev.Op.String()))
			timer.Reset(w.debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watch: error channel closed")
			}
			w.log.Warn("watch: watcher error", slog.Any("error", err))

		case <-timer.C:
			if running {
				pending = true
				continue
			}
			running = true
			go func() { done <- w.fn(ctx) }()

		case err := <-done:
			running = false
			if err != nil {
				w.log.Error("watch: sync failed", slog.Any("error", err))
			}
			if pending {
				pending = false
				timer.Reset(w.debounce)
			}
		}
	}
}

// relevant reports whether ev should trigger a run: content or membership
// changes to non-hidden entries.
func relevant(ev fsnotify.Event) bool {
	if strings.HasPrefix(filepath.Base(ev.Name), ".") {
		return false
	}
	return ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0
}
