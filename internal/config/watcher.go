package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is the polling interval of a [Watcher].
const DefaultWatchInterval = 5 * time.Second

// ReloadFunc receives the config that was active and the one replacing it.
// App.ApplyConfig in internal/app is the usual receiver.
type ReloadFunc func(prev, next *Config)

// Watcher keeps a config file and the running journal in step. It polls the
// file and hands every new valid version to a [ReloadFunc]; an edit that
// fails validation is logged and the running config stays in place.
type Watcher struct {
	path     string
	interval time.Duration
	onReload ReloadFunc

	// reloadMu serialises Reload so callbacks run in file order.
	reloadMu sync.Mutex

	mu      sync.Mutex
	current *Config
	mtime   time.Time
	sum     [sha256.Size]byte
	lastErr error

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Zero disables polling; reloads
// then only happen through [Watcher.Reload].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.interval = d }
}

// NewWatcher loads the config at path and, unless polling is disabled,
// starts checking it in the background. Call [Watcher.Stop] when done.
func NewWatcher(path string, onReload ReloadFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onReload: onReload,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	snap, err := readSnapshot(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.mtime, w.sum = snap.cfg, snap.mtime, snap.sum

	if w.interval > 0 {
		go w.poll()
	}
	return w, nil
}

// Current returns the config in effect.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// LastError returns the reason the most recent edit was rejected, or nil
// once a later edit has been accepted.
func (w *Watcher) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Stop ends polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if w.modified() {
				_, _ = w.Reload()
			}
		}
	}
}

// modified reports whether the file's mtime moved since the last read.
func (w *Watcher) modified() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return !info.ModTime().Equal(w.mtime)
}

// Reload reads the file now. It reports whether the content changed and was
// handed to the reload callback. A file that no longer validates returns
// the error and leaves the current config untouched.
func (w *Watcher) Reload() (bool, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	snap, err := readSnapshot(w.path)
	if err != nil {
		w.mu.Lock()
		w.lastErr = err
		// Wait for the next edit instead of re-reading a broken file.
		if info, serr := os.Stat(w.path); serr == nil {
			w.mtime = info.ModTime()
		}
		w.mu.Unlock()
		slog.Warn("config watcher: keeping running config", "path", w.path, "err", err)
		return false, fmt.Errorf("config: reload %s: %w", w.path, err)
	}

	w.mu.Lock()
	w.mtime, w.lastErr = snap.mtime, nil
	if snap.sum == w.sum {
		w.mu.Unlock()
		return false, nil
	}
	prev := w.current
	w.current, w.sum = snap.cfg, snap.sum
	w.mu.Unlock()

	slog.Info("config watcher: journal config reloaded", "path", w.path)
	if w.onReload != nil {
		w.onReload(prev, snap.cfg)
	}
	return true, nil
}

type fileSnapshot struct {
	cfg   *Config
	mtime time.Time
	sum   [sha256.Size]byte
}

// readSnapshot loads and validates path.
func readSnapshot(path string) (fileSnapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return fileSnapshot{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fileSnapshot{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return fileSnapshot{}, err
	}
	return fileSnapshot{cfg: cfg, mtime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
