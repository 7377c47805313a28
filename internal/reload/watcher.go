// Package reload hot-reloads the gateway's data files (model catalog,
// credential pool, client keys) when they change on disk.
package reload

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceInterval is the quiet period after the last write event before a
// reload fires. Editors and config management tools often emit several
// events per save.
const debounceInterval = 200 * time.Millisecond

// Watcher re-runs per-file reload callbacks on file changes.
type Watcher struct {
	reloaders map[string]func() error // absolute path -> reload

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewWatcher creates an empty watcher. Register files with Register before
// calling Run.
func NewWatcher() *Watcher {
	return &Watcher{
		reloaders: make(map[string]func() error),
		timers:    make(map[string]*time.Timer),
	}
}

// Register binds a reload callback to a file path. The callback runs off the
// event loop after the debounce interval; a failing reload is logged and the
// previous state stays in effect.
func (w *Watcher) Register(path string, reload func() error) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving watch path %s: %w", path, err)
	}
	w.reloaders[abs] = reload
	return nil
}

// Run watches the registered files until ctx is cancelled. The parent
// directories are watched rather than the files themselves: most tools
// replace files via rename, which would silently detach a per-file watch.
func (w *Watcher) Run(ctx context.Context) error {
	if len(w.reloaders) == 0 {
		<-ctx.Done()
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer func() { _ = fsw.Close() }()

	dirs := make(map[string]struct{})
	for path := range w.reloaders {
		dirs[filepath.Dir(path)] = struct{}{}
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}

	slog.InfoContext(ctx, "file watcher started", "files", len(w.reloaders))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return fmt.Errorf("watcher event channel closed")
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil {
				continue
			}
			reload, ok := w.reloaders[abs]
			if !ok {
				continue
			}
			w.schedule(ctx, abs, reload)

		case err, ok := <-fsw.Errors:
			if !ok {
				return fmt.Errorf("watcher error channel closed")
			}
			// Keep watching; a transient error must not kill hot reload.
			slog.ErrorContext(ctx, "file watcher error", "error", err)
		}
	}
}

// schedule arms (or re-arms) the per-file debounce timer.
func (w *Watcher) schedule(ctx context.Context, path string, reload func() error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(debounceInterval, func() {
		if ctx.Err() != nil {
			return
		}
		if err := reload(); err != nil {
			slog.ErrorContext(ctx, "reload failed, keeping previous state",
				"path", path, "error", err)
			return
		}
		slog.InfoContext(ctx, "reloaded", "path", path)
	})
}
