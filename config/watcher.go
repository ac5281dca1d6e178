package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/weftworks/weft/pkg/logger"
)

// Watcher reloads the configuration file when it changes on disk and
// fans the new Config out to registered callbacks.
type Watcher struct {
	mu         sync.RWMutex
	watcher    *fsnotify.Watcher
	loader     *Loader
	configPath string
	callbacks  []func(*Config)
	debounce   time.Duration
	stopCh     chan struct{}
	running    bool
}

// WatcherOption adjusts watcher behavior.
type WatcherOption func(*Watcher)

// WithDebounce sets how long the watcher waits after the last write
// event before reloading. Editors often write a file several times.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// NewWatcher creates a watcher for the given config file.
func NewWatcher(configPath string, loader *Loader, opts ...WatcherOption) (*Watcher, error) {
	if configPath == "" {
		return nil, fmt.Errorf("config path is required for watching")
	}

	fswatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		watcher:    fswatcher,
		loader:     loader,
		configPath: configPath,
		debounce:   500 * time.Millisecond,
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Watch blocks processing file events until the context is cancelled
// or Stop is called.
func (w *Watcher) Watch(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher is already running")
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	if err := w.watcher.Add(w.configPath); err != nil {
		return fmt.Errorf("watch config file %s: %w", w.configPath, err)
	}

	// A single timer collapses bursts of write events into one reload.
	reload := time.NewTimer(w.debounce)
	if !reload.Stop() {
		<-reload.C
	}
	defer reload.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-w.stopCh:
			return nil

		case <-reload.C:
			w.reloadConfig()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) {
				if !reload.Stop() {
					select {
					case <-reload.C:
					default:
					}
				}
				reload.Reset(w.debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reloadConfig() {
	cfg, err := w.loader.Load(w.configPath, nil)
	if err != nil {
		logger.Warn("config reload failed, keeping previous config", "error", err)
		return
	}

	w.mu.RLock()
	callbacks := make([]func(*Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	for _, cb := range callbacks {
		go func(callback func(*Config)) {
			defer func() {
				if r := recover(); r != nil {
					logger.Warn("config callback panic", "panic", r)
				}
			}()
			callback(cfg)
		}(cb)
	}
}

// OnChange registers a callback invoked with each successfully reloaded
// config. Callbacks run on their own goroutines.
func (w *Watcher) OnChange(callback func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Stop terminates watching and releases the fsnotify handle.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

// IsRunning reports whether Watch is active.
func (w *Watcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// HotReloadableConfig holds the settings that take effect without a
// restart. Engine limits and storage settings require one.
type HotReloadableConfig struct {
	LogLevel         string
	LogFormat        string
	CleanupInterval  time.Duration
	CleanupRetention time.Duration
}

// ExtractHotReloadable pulls the hot-reloadable subset out of a Config.
func ExtractHotReloadable(cfg *Config) HotReloadableConfig {
	return HotReloadableConfig{
		LogLevel:         cfg.Log.Level,
		LogFormat:        cfg.Log.Format,
		CleanupInterval:  cfg.Engine.Cleanup.Interval,
		CleanupRetention: cfg.Engine.Cleanup.Retention,
	}
}

// Changed reports whether any hot-reloadable setting differs.
func (h HotReloadableConfig) Changed(other HotReloadableConfig) bool {
	return h != other
}
