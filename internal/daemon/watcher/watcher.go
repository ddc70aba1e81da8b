// Package watcher reports changes to the launcher's files, such as
// settings.yaml edited by hand or by launcherctl.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultDebounce coalesces the bursts of events produced by a single save.
const DefaultDebounce = 100 * time.Millisecond

// Watcher calls a handler when a watched file changes.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	delay     time.Duration
	logger    zerolog.Logger

	mu    sync.RWMutex
	files map[string]func()

	debounce   map[string]*time.Timer
	debounceMu sync.Mutex
}

// New creates a new file system watcher.
func New(delay time.Duration) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if delay <= 0 {
		delay = DefaultDebounce
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		delay:     delay,
		logger:    log.With().Str("component", "watcher").Logger(),
		files:     make(map[string]func()),
		debounce:  make(map[string]*time.Timer),
	}, nil
}

// WatchFile calls fn after path is written, created or replaced. The
// parent directory is watched so atomic renames are seen.
func (w *Watcher) WatchFile(path string, fn func()) error {
	path = filepath.Clean(path)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	if err := w.fsWatcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w.mu.Lock()
	w.files[path] = fn
	w.mu.Unlock()

	w.logger.Debug().Str("path", path).Msg("watching file")
	return nil
}

// Run processes events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("watcher error")
		}
	}
}

func (w *Watcher) stop() {
	_ = w.fsWatcher.Close()

	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	for path, timer := range w.debounce {
		timer.Stop()
		delete(w.debounce, path)
	}
}

// handleEvent processes a single file system event.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	// Atomic writes (write tmp, rename onto target) show up as Create or
	// Rename on the target.
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	path := filepath.Clean(event.Name)
	w.mu.RLock()
	fn, ok := w.files[path]
	w.mu.RUnlock()
	if !ok {
		return
	}

	w.logger.Debug().Str("path", path).Str("op", event.Op.String()).Msg("file changed")
	w.debounceEvent(path, fn)
}

// debounceEvent debounces events for the same path.
func (w *Watcher) debounceEvent(path string, fn func()) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, ok := w.debounce[path]; ok {
		timer.Stop()
	}

	w.debounce[path] = time.AfterFunc(w.delay, func() {
		w.debounceMu.Lock()
		delete(w.debounce, path)
		w.debounceMu.Unlock()
		fn()
	})
}
