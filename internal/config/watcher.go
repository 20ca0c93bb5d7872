package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"stepflow-monitor/internal/logger"
)

// ReloadCallback is invoked with the newly loaded configuration after a
// debounced file-change event.
type ReloadCallback func(*Config) error

// Watcher reloads the optional YAML tuning file (log level, max concurrent
// executions) without a restart. Only these soft-tunable values are
// expected to change at runtime; everything else requires a restart.
type Watcher struct {
	path      string
	watcher   *fsnotify.Watcher
	mu        sync.Mutex
	callbacks []ReloadCallback
	debounce  time.Duration
	timer     *time.Timer
}

// NewWatcher watches path for writes and debounces reload callbacks.
func NewWatcher(path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{
		path:     path,
		watcher:  fw,
		debounce: 500 * time.Millisecond,
	}, nil
}

// OnReload registers a callback fired (in registration order) after a
// debounced reload.
func (w *Watcher) OnReload(cb ReloadCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Start begins watching in the background.
func (w *Watcher) Start() {
	go w.loop()
}

// Stop releases the underlying inotify/kqueue handle.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

func (w *Watcher) loop() {
	log := logger.With("config")
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.scheduleReload(log)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warnw("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) scheduleReload(log interface{ Errorw(string, ...interface{}) }) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		cfg, err := LoadFromFile(w.path)
		if err != nil {
			log.Errorw("config reload failed", "error", err)
			return
		}
		w.mu.Lock()
		callbacks := make([]ReloadCallback, len(w.callbacks))
		copy(callbacks, w.callbacks)
		w.mu.Unlock()
		for _, cb := range callbacks {
			_ = cb(cfg)
		}
	})
}
