package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"lux/internal/logging"
)

// Watcher reloads the registry when registry.json is replaced by another
// process.
type Watcher struct {
	reg         *Registry
	watcher     *fsnotify.Watcher
	debounceDur time.Duration
	onReload    func()

	mu      sync.Mutex
	pending time.Time
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewWatcher creates a stopped watcher for reg.
func NewWatcher(reg *Registry) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return &Watcher{
		reg:         reg,
		watcher:     fw,
		debounceDur: 200 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// OnReload registers a callback run after each successful reload.
func (w *Watcher) OnReload(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = fn
}

// Start watches the directory holding registry.json. Writes go through a
// rename, so the file itself cannot be watched.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	dir := filepath.Dir(w.reg.path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	logging.RegistryDebug("watching %s", dir)

	go w.run(ctx)
	return nil
}

// Stop halts the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	running := w.running
	w.running = false
	w.mu.Unlock()

	if running {
		close(w.stopCh)
		<-w.doneCh
	}
	return w.watcher.Close()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.debounceDur / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.RegistryError("watcher error: %v", err)
		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(w.reg.path) {
		if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
			w.reportMissing(event.Name)
		}
		return
	}
	switch {
	case event.Op&fsnotify.Create != 0, event.Op&fsnotify.Write != 0, event.Op&fsnotify.Rename != 0:
		w.mu.Lock()
		w.pending = time.Now()
		w.mu.Unlock()
	}
}

// reportMissing logs when a registered function's source disappears. The
// entry is kept; execution reports the missing file.
func (w *Watcher) reportMissing(path string) {
	ext := filepath.Ext(path)
	if ext != ".go" {
		return
	}
	name := strings.TrimSuffix(filepath.Base(path), ext)
	rec, ok := w.reg.Get(name)
	if !ok || filepath.Clean(rec.FilePath) != filepath.Clean(path) {
		return
	}
	logging.RegistryError("source of %s removed outside the registry: %s", name, path)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	if w.pending.IsZero() || time.Since(w.pending) < w.debounceDur {
		w.mu.Unlock()
		return
	}
	w.pending = time.Time{}
	cb := w.onReload
	w.mu.Unlock()

	if err := w.reg.Reload(); err != nil {
		logging.RegistryError("reload failed: %v", err)
		return
	}
	logging.RegistryDebug("registry reloaded from disk")
	if cb != nil {
		cb()
	}
}

// Watch starts a watcher bound to ctx. The caller stops it with Stop.
func (r *Registry) Watch(ctx context.Context) (*Watcher, error) {
	w, err := NewWatcher(r)
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		w.watcher.Close()
		return nil, err
	}
	return w, nil
}
