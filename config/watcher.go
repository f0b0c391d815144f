// =============================================================================
// Gateway Configuration File Watcher
// =============================================================================
// Polls a configuration file for modification-time changes and invokes
// callbacks when it changes. No external filesystem-event dependency is
// used; polling is sufficient for a config file that changes on the order
// of minutes, not milliseconds.
// =============================================================================
package config

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FileEvent represents a detected config file change.
type FileEvent struct {
	Path      string
	Timestamp time.Time
	Error     error
}

// FileWatcher polls a single configuration file for changes.
type FileWatcher struct {
	mu sync.Mutex

	path          string
	pollInterval  time.Duration
	lastModTime   time.Time
	callbacks     []func(FileEvent)
	logger        *zap.Logger
	running       bool
	stopChan      chan struct{}
}

// NewFileWatcher creates a watcher for the given path.
func NewFileWatcher(path string, pollInterval time.Duration, logger *zap.Logger) *FileWatcher {
	return &FileWatcher{
		path:         path,
		pollInterval: pollInterval,
		logger:       logger.With(zap.String("component", "config_watcher")),
		stopChan:     make(chan struct{}),
	}
}

// OnChange registers a callback invoked whenever the file's mtime advances.
func (w *FileWatcher) OnChange(cb func(FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Start begins polling in a background goroutine until ctx is cancelled or
// Stop is called.
func (w *FileWatcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	if info, err := os.Stat(w.path); err == nil {
		w.lastModTime = info.ModTime()
	}
	w.mu.Unlock()

	go w.loop(ctx)
}

// Stop halts polling.
func (w *FileWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.running = false
	close(w.stopChan)
}

func (w *FileWatcher) loop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.checkOnce()
		}
	}
}

func (w *FileWatcher) checkOnce() {
	info, err := os.Stat(w.path)
	if err != nil {
		return
	}

	w.mu.Lock()
	changed := info.ModTime().After(w.lastModTime)
	if changed {
		w.lastModTime = info.ModTime()
	}
	callbacks := append([]func(FileEvent){}, w.callbacks...)
	w.mu.Unlock()

	if !changed {
		return
	}

	event := FileEvent{Path: w.path, Timestamp: info.ModTime()}
	for _, cb := range callbacks {
		cb(event)
	}
}
