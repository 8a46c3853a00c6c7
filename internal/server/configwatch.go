package server

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const reloadDebounce = 100 * time.Millisecond

// ConfigWatcher calls a reload function whenever one config file changes
// on disk. It watches the parent directory rather than the file itself so
// editors that replace the file (write to temp, rename over) keep
// producing events.
type ConfigWatcher struct {
	path   string
	log    zerolog.Logger
	reload func()

	mu       sync.Mutex
	debounce *time.Timer
}

// NewConfigWatcher watches path and runs reload after each change.
func NewConfigWatcher(path string, log zerolog.Logger, reload func()) *ConfigWatcher {
	return &ConfigWatcher{
		path:   path,
		log:    log.With().Str("component", "configwatch").Logger(),
		reload: reload,
	}
}

// Run blocks until ctx is cancelled. Failing to set up the watch is
// logged, not fatal; the host simply runs without hot reload.
func (w *ConfigWatcher) Run(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.log.Error().Err(err).Msg("create fs watcher")
		return
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		w.log.Error().Err(err).Str("dir", dir).Msg("watch config directory")
		return
	}
	base := filepath.Base(w.path)
	w.log.Debug().Str("path", w.path).Msg("watching config file")

	for {
		select {
		case <-ctx.Done():
			w.stopDebounce()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.scheduleReload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("fs watcher error")
		}
	}
}

// scheduleReload coalesces the event bursts editors produce into a single
// reload call.
func (w *ConfigWatcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(reloadDebounce, func() {
		w.log.Info().Str("path", w.path).Msg("config file changed, reloading")
		w.reload()
	})
}

func (w *ConfigWatcher) stopDebounce() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
}
