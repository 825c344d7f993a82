// Package watch reports changes to instance snapshots written by the file
// store, so observers can follow a run driven by another process.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/planrunner/internal/logging"
)

// DefaultDebounce coalesces the burst of events a single atomic save causes.
const DefaultDebounce = 50 * time.Millisecond

// Watcher watches plan directories of a file store for instance snapshot
// changes.
type Watcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *logging.Logger

	mu    sync.Mutex
	paths map[string]bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the debounce interval.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger for watcher errors.
func WithLogger(logger *logging.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// New creates a watcher with nothing watched yet.
func New(opts ...Option) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		watcher:  fw,
		debounce: DefaultDebounce,
		logger:   logging.NopLogger(),
		paths:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// AddPlanDir watches a plan directory and its instances/ subdirectory,
// creating them if needed so a watch can start before the first save.
func (w *Watcher) AddPlanDir(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, path := range []string{dir, filepath.Join(dir, "instances")} {
		if w.paths[path] {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return err
		}
		if err := w.watcher.Add(path); err != nil {
			return err
		}
		w.paths[path] = true
	}
	return nil
}

// Run delivers the paths of changed instance snapshots to fn until ctx is
// done or the watcher is closed. fn is called from Run's goroutine with
// paths sorted, once per debounce window.
func (w *Watcher) Run(ctx context.Context, fn func(path string)) error {
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := make(map[string]bool)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			// Atomic saves show up as a create of the final name.
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 || !IsSnapshot(ev.Name) {
				continue
			}
			pending[ev.Name] = true
			timer.Reset(w.debounce)

		case <-timer.C:
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			pending = make(map[string]bool)
			sort.Strings(paths)
			for _, p := range paths {
				fn(p)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// IsSnapshot reports whether path names an instance snapshot: the latest
// instance.json or a file under instances/. Temp and lock files are not.
func IsSnapshot(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || filepath.Ext(base) != ".json" {
		return false
	}
	if base == "instance.json" {
		return true
	}
	return filepath.Base(filepath.Dir(path)) == "instances"
}
