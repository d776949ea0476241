package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeHandler is called after the config file was reloaded and validated.
type ChangeHandler func(old, new *Config) error

// Watcher reloads the config file when it changes on disk.
type Watcher struct {
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	logger   *zap.Logger

	mu       sync.RWMutex
	current  *Config
	handlers []ChangeHandler
	started  bool

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewWatcher watches path, starting from the already loaded initial config.
func NewWatcher(path string, initial *Config, logger *zap.Logger) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &Watcher{
		path:     abs,
		debounce: 50 * time.Millisecond,
		watcher:  fw,
		logger:   logger,
		current:  initial,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// OnChange registers a handler. Handlers run in registration order on the
// watcher goroutine.
func (w *Watcher) OnChange(h ChangeHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Current returns the most recently applied config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Start watches the file's directory, since editors often replace files by rename.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}
	w.mu.Lock()
	w.started = true
	w.mu.Unlock()
	go w.loop()
	w.logger.Info("Config watcher started", zap.String("path", w.path))
	return nil
}

// Stop ends the watch loop and waits for it to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		if err := w.watcher.Close(); err != nil {
			w.logger.Error("Error closing file watcher", zap.Error(err))
		}
	})
	w.mu.RLock()
	started := w.started
	w.mu.RUnlock()
	if started {
		<-w.doneCh
	}
}

func (w *Watcher) loop() {
	defer close(w.doneCh)
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Config watch loop panicked", zap.Any("panic", r))
		}
	}()

	var pending <-chan time.Time
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			// Coalesce bursts of writes into one reload.
			pending = time.After(w.debounce)
		case <-pending:
			pending = nil
			if err := w.Reload(); err != nil {
				w.logger.Error("Config reload failed, keeping previous config", zap.Error(err))
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	switch {
	case event.Op&fsnotify.Write == fsnotify.Write,
		event.Op&fsnotify.Create == fsnotify.Create,
		event.Op&fsnotify.Rename == fsnotify.Rename:
		return true
	default:
		return false
	}
}

// Reload re-reads the file now. An invalid file leaves the current config in
// place. Handler errors are logged and do not stop later handlers.
func (w *Watcher) Reload() error {
	next, err := Load(w.path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	prev := w.current
	w.current = next
	handlers := append([]ChangeHandler(nil), w.handlers...)
	w.mu.Unlock()

	w.logger.Info("Configuration reloaded", zap.String("path", w.path))
	for _, h := range handlers {
		if err := h(prev, next); err != nil {
			w.logger.Error("Config change handler failed", zap.Error(err))
		}
	}
	return nil
}
