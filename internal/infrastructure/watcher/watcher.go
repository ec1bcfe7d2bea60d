// Package watcher notifies the freshness tracker of file changes made
// outside the agent's own write path — an editor, a build tool, another
// process — so a session's next edit to that file is rejected until the
// session reads it again, rather than silently clobbering the external
// change.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/ag3nt-run/ag3nt/pkg/safego"
)

// FreshnessInvalidator is the one freshness-tracker method the watcher
// needs, kept as an interface so this package doesn't have to import the
// freshness package's full surface.
type FreshnessInvalidator interface {
	InvalidateAllSessions(path string)
}

// Watcher wraps an fsnotify.Watcher and forwards write/remove/rename
// events for any file in a watched directory to a FreshnessInvalidator.
type Watcher struct {
	fsw        *fsnotify.Watcher
	invalidate FreshnessInvalidator
	logger     *zap.Logger

	mu      sync.Mutex
	dirs    map[string]bool // directories currently under watch
	started bool
}

// New builds a Watcher. Start must be called before events are delivered.
func New(invalidate FreshnessInvalidator, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	return &Watcher{
		fsw:        fsw,
		invalidate: invalidate,
		logger:     logger.With(zap.String("component", "file-watcher")),
		dirs:       make(map[string]bool),
	}, nil
}

// Watch begins watching the directory containing path (fsnotify watches
// directories, not individual files, so this is idempotent across
// multiple files in the same directory).
func (w *Watcher) Watch(path string) error {
	dir := filepath.Dir(path)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dirs[dir] {
		return nil
	}
	if err := w.fsw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.dirs[dir] = true
	return nil
}

// Start launches the event loop. It returns immediately; the loop runs
// until ctx is cancelled or Close is called.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	safego.Go(w.logger, "file-watcher-loop", func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.fsw.Events:
				if !ok {
					return
				}
				w.handleEvent(event)
			case err, ok := <-w.fsw.Errors:
				if !ok {
					return
				}
				w.logger.Error("file watcher error", zap.Error(err))
			}
		}
	})

	w.logger.Info("file watcher started")
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	w.logger.Debug("external file change detected",
		zap.String("path", event.Name), zap.String("op", event.Op.String()))
	w.invalidate.InvalidateAllSessions(event.Name)
}

// Close stops the watcher and releases its OS resources.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
