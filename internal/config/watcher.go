package config

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultDebounce coalesces the burst of events editors produce on save.
const defaultDebounce = 150 * time.Millisecond

// Watcher reloads the config file when it changes on disk and hands the new
// value to onChange. Invalid files are logged and ignored; the previous
// config stays current.
type Watcher struct {
	loader   Loader
	onChange func(old, updated *Config)
	log      *slog.Logger
	debounce time.Duration

	mu      sync.RWMutex
	current *Config
	raw     []byte
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce overrides the delay between the last file event and the reload.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithWatcherLogger sets the logger; nil keeps slog.Default().
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher loads loader.Path once and returns a watcher holding the result.
// loader.Path must be set.
func NewWatcher(loader Loader, onChange func(old, updated *Config), opts ...WatcherOption) (*Watcher, error) {
	if loader.Path == "" {
		return nil, fmt.Errorf("config: watcher needs a file path")
	}
	w := &Watcher{
		loader:   loader,
		onChange: onChange,
		log:      slog.Default(),
		debounce: defaultDebounce,
	}
	for _, o := range opts {
		o(w)
	}
	w.log = w.log.With("component", "config", "path", loader.Path)

	raw, err := os.ReadFile(loader.Path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", loader.Path, err)
	}
	cfg, err := loader.parse(raw)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", loader.Path, err)
	}
	w.current = cfg
	w.raw = raw
	return w, nil
}

// Current returns the most recently loaded config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Run watches the config file's directory until ctx is cancelled. The
// directory is watched rather than the file so that editors replacing the
// file by rename are still seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	defer fw.Close()

	target := filepath.Clean(w.loader.Path)
	if err := fw.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("config: watch %q: %w", filepath.Dir(target), err)
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", "err", err)
		case <-timer.C:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	raw, err := os.ReadFile(w.loader.Path)
	if err != nil {
		// Mid-rename; the Create that follows triggers another reload.
		w.log.Debug("config unreadable", "err", err)
		return
	}

	w.mu.RLock()
	same := bytes.Equal(raw, w.raw)
	w.mu.RUnlock()
	if same {
		return
	}

	cfg, err := w.loader.parse(raw)
	if err != nil {
		w.log.Warn("config reload rejected", "err", err)
		return
	}

	w.mu.Lock()
	old := w.current
	w.current = cfg
	w.raw = raw
	w.mu.Unlock()

	w.log.Info("config reloaded")
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}
