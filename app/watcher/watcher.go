// Package watcher reloads the monitoring document when its file changes and
// tells listeners about semantic differences only.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/lysyi3m/webmoniter/app/config"
	"github.com/lysyi3m/webmoniter/app/metrics"
)

const DefaultInterval = 3 * time.Second

// Listener receives both snapshots and the sections that differ. It runs on
// the watcher goroutine.
type Listener func(ctx context.Context, old, new *config.Config, diff config.Diff)

type Watcher struct {
	path     string
	interval time.Duration
	store    *config.Store
	load     func(path string) (*config.Config, error)

	mu        sync.Mutex
	listeners []Listener
	modTime   time.Time
	size      int64
}

// New starts without a recorded modification time, so the first check parses
// the file and compares it with the published snapshot. Edits made between
// loading store and starting the watcher are picked up that way.
func New(path string, store *config.Store, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Watcher{
		path:     path,
		interval: interval,
		store:    store,
		load:     config.Load,
	}
}

func (w *Watcher) OnChange(l Listener) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, l)
}

// Run polls until ctx is cancelled. fsnotify events on the parent directory
// shorten the wait; polling alone still works if the notifier is unavailable.
func (w *Watcher) Run(ctx context.Context) {
	var events <-chan fsnotify.Event
	var errs <-chan error

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("File notifications unavailable, polling only", "error", err)
	} else {
		defer fw.Close()
		// Editors often replace the file, so watch the directory.
		if err := fw.Add(filepath.Dir(w.path)); err != nil {
			slog.Warn("Failed to watch config directory, polling only", "path", w.path, "error", err)
		} else {
			events = fw.Events
			errs = fw.Errors
		}
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	slog.Info("Config watcher started", "path", w.path, "interval", w.interval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Config watcher stopped")
			return
		case <-ticker.C:
			w.Check(ctx)
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(event.Name) == filepath.Clean(w.path) {
				w.Check(ctx)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Warn("Config watcher error", "error", err)
		}
	}
}

// Check compares the file against the last seen version and publishes a new
// snapshot if its typed content changed. It reports whether listeners ran.
func (w *Watcher) Check(ctx context.Context) bool {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Debug("Config file not readable", "path", w.path, "error", err)
		return false
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.modTime) && info.Size() == w.size
	if !unchanged {
		w.modTime = info.ModTime()
		w.size = info.Size()
	}
	w.mu.Unlock()
	if unchanged {
		return false
	}

	next, err := w.load(w.path)
	if err != nil {
		metrics.ConfigReloads.WithLabelValues("invalid").Inc()
		slog.Error("Config reload failed, keeping previous configuration", "path", w.path, "error", err)
		return false
	}

	old := w.store.Get()
	diff := config.Compare(old, next)
	if diff.Empty() {
		metrics.ConfigReloads.WithLabelValues("unchanged").Inc()
		slog.Debug("Config file touched without semantic changes", "path", w.path)
		return false
	}

	w.store.Swap(next)
	metrics.ConfigReloads.WithLabelValues("applied").Inc()
	slog.Info("Config reloaded", "path", w.path, "sections", diff.Sections)

	w.mu.Lock()
	listeners := append([]Listener(nil), w.listeners...)
	w.mu.Unlock()

	for _, l := range listeners {
		w.notify(ctx, l, old, next, diff)
	}
	return true
}

func (w *Watcher) notify(ctx context.Context, l Listener, old, next *config.Config, diff config.Diff) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Config listener panicked", "error", fmt.Sprint(r))
		}
	}()
	l(ctx, old, next, diff)
}
