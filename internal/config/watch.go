package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"

	"mnemos/internal/logging"
)

// Watcher reloads the config file on change and notifies subscribers.
// Only tunables that are safe to change at runtime should be consumed from
// the callback; component wiring is fixed at startup.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	mu      sync.Mutex
	onLoad  []func(*Config)
	done    chan struct{}
}

// NewWatcher starts watching path. Callbacks registered with OnReload run on
// every successful reload, in registration order.
func NewWatcher(path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		path:    path,
		watcher: fw,
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// OnReload registers a callback invoked with the freshly loaded config.
func (w *Watcher) OnReload(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onLoad = append(w.onLoad, fn)
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				logging.Get(logging.CategoryBoot).Warn("Config reload failed: %v", err)
				continue
			}
			logging.Get(logging.CategoryBoot).Info("Config reloaded from %s", w.path)
			logging.Reconfigure(cfg.LoggingOptions())
			w.mu.Lock()
			callbacks := append([]func(*Config){}, w.onLoad...)
			w.mu.Unlock()
			for _, fn := range callbacks {
				fn(cfg)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryBoot).Warn("Config watcher error: %v", err)
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
