package invalidation

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the default coalescing window for change events.
// Editors produce bursts (write + chmod + rename); batching them avoids
// invalidating the graph once per keystroke artifact.
const DefaultDebounce = 100 * time.Millisecond

// BatchFunc receives one coalesced batch of changed paths, relative to the
// watched root. Paths are deduplicated; ordering is unspecified.
type BatchFunc func(paths []string)

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	// Debounce is how long to wait for further events before flushing a
	// batch. Zero means DefaultDebounce.
	Debounce time.Duration

	// Ignore lists path prefixes (relative to root) that never produce
	// events, e.g. ".git" or "dist".
	Ignore []string

	// Logger receives watcher diagnostics. Nil discards them.
	Logger *slog.Logger
}

// Watcher watches a directory tree recursively and delivers coalesced
// batches of changed relative paths. fsnotify does not support recursive
// watches, so the watcher registers every subdirectory and adds newly
// created ones as they appear.
type Watcher struct {
	root     string
	notify   *fsnotify.Watcher
	onBatch  BatchFunc
	debounce time.Duration
	ignore   []string
	logger   *slog.Logger

	stopOnce sync.Once
	done     chan struct{}
}

// NewWatcher creates and starts a watcher over root. Events are delivered to
// onBatch from a single goroutine until Close or context cancellation.
func NewWatcher(ctx context.Context, root string, onBatch BatchFunc, opts WatcherOptions) (*Watcher, error) {
	notify, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	debounce := opts.Debounce
	if debounce == 0 {
		debounce = DefaultDebounce
	}

	w := &Watcher{
		root:     root,
		notify:   notify,
		onBatch:  onBatch,
		debounce: debounce,
		ignore:   opts.Ignore,
		logger:   logger,
		done:     make(chan struct{}),
	}

	if err := w.addRecursive(root); err != nil {
		notify.Close()
		return nil, err
	}

	go w.loop(ctx)
	return w, nil
}

// Close stops event delivery. Safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.notify.Close()
	})
	return err
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(w.root, p)
		if relErr == nil && w.ignored(filepath.ToSlash(rel)) {
			return filepath.SkipDir
		}
		return w.notify.Add(p)
	})
}

func (w *Watcher) ignored(rel string) bool {
	if rel == "." {
		return false
	}
	for _, prefix := range w.ignore {
		if rel == prefix || strings.HasPrefix(rel, prefix+"/") {
			return true
		}
	}
	return false
}

// loop collects events into a set and flushes it after a quiet period.
// Coalescing to a set, not a queue: a burst of events for one path delivers
// that path once.
func (w *Watcher) loop(ctx context.Context) {
	pending := make(map[string]struct{})
	var timer *time.Timer
	var flush <-chan time.Time

	deliver := func() {
		if len(pending) == 0 {
			return
		}
		batch := make([]string, 0, len(pending))
		for p := range pending {
			batch = append(batch, p)
		}
		pending = make(map[string]struct{})
		w.onBatch(batch)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.notify.Events:
			if !ok {
				deliver()
				return
			}
			rel, err := filepath.Rel(w.root, ev.Name)
			if err != nil {
				continue
			}
			rel = filepath.ToSlash(rel)
			if w.ignored(rel) {
				continue
			}
			// New directories must be added to the watch set before events
			// inside them can be observed.
			if ev.Op.Has(fsnotify.Create) {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := w.addRecursive(ev.Name); addErr != nil {
						w.logger.Warn("failed to watch new directory", "path", rel, "error", addErr)
					}
				}
			}
			pending[rel] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			flush = timer.C
		case <-flush:
			flush = nil
			deliver()
		case err, ok := <-w.notify.Errors:
			if !ok {
				return
			}
			w.logger.Warn("filesystem watch error", "error", err)
		}
	}
}
