package config

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"tokenrelay/internal/store"
	"tokenrelay/pkg/logging"
)

// DefaultDebounceInterval is how long Watcher waits for further writes before reloading.
const DefaultDebounceInterval = 500 * time.Millisecond

// Watcher reloads a configuration file when it changes.
//
// It watches the file's directory rather than the file so editors that
// replace the file by rename are noticed.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(Config)

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	timer   *time.Timer
	stopCh  chan struct{}
	running bool
}

// NewWatcher creates a watcher for path. onChange receives every reloaded
// configuration that passed validation.
func NewWatcher(path string, debounce time.Duration, onChange func(Config)) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounceInterval
	}
	return &Watcher{path: path, debounce: debounce, onChange: onChange}
}

// Start begins watching. It returns once the watch is established.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		_ = watcher.Close()
		return err
	}

	w.watcher = watcher
	w.stopCh = make(chan struct{})
	w.running = true

	go w.processEvents(ctx, watcher, w.stopCh)

	logging.Info("ConfigWatcher", "Watching %s for changes", w.path)
	return nil
}

// Stop stops watching and cancels a pending reload.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.running = false
	close(w.stopCh)
	if w.timer != nil {
		w.timer.Stop()
	}
	_ = w.watcher.Close()
}

func (w *Watcher) processEvents(ctx context.Context, watcher *fsnotify.Watcher, stopCh chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-stopCh:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			w.handleFsEvent(event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Error("ConfigWatcher", err, "Filesystem watcher error")
		}
	}
}

func (w *Watcher) handleFsEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(w.path) {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	config, err := Load(w.path)
	if err == nil {
		err = config.Validate()
	}
	if err != nil {
		logging.Warn("ConfigWatcher", "Ignoring changed configuration: %v", err)
		return
	}
	logging.Info("ConfigWatcher", "Configuration %s reloaded", w.path)
	w.onChange(config)
}

// RegisterResources stores every configured resource in creds.
func RegisterResources(ctx context.Context, creds *store.CredentialStore, resources []ResourceConfig) error {
	var errs []error
	for _, r := range resources {
		if err := creds.PutResourceConfig(ctx, r.OAuth()); err != nil {
			errs = append(errs, err)
			continue
		}
		logging.Debug("ConfigWatcher", "Registered resource %s", r.ResourceServer)
	}
	return errors.Join(errs...)
}
