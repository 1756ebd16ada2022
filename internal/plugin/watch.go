package plugin

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrWatcherClosed is returned when using a closed watcher.
var ErrWatcherClosed = errors.New("watcher is closed")

// Watcher discovers bundles added to a plugins directory while the host
// runs. Bundles that are still being written fail to open; those are
// retried with backoff.
type Watcher struct {
	mu sync.Mutex

	discoverer *Discoverer
	fsw        *fsnotify.Watcher
	logger     *zap.Logger

	newBackOff func() backoff.BackOff
	onResult   func(path string, r *DiscoveryResult)

	closed   bool
	closeCh  chan struct{}
	closedWg sync.WaitGroup
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatchLogger sets the watcher's logger.
func WithWatchLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithRetry sets the backoff policy used for bundles that fail to open.
func WithRetry(newBackOff func() backoff.BackOff) WatcherOption {
	return func(w *Watcher) {
		if newBackOff != nil {
			w.newBackOff = newBackOff
		}
	}
}

// OnDiscovered registers a callback run after each bundle scan.
func OnDiscovered(fn func(path string, r *DiscoveryResult)) WatcherOption {
	return func(w *Watcher) {
		w.onResult = fn
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 5 * time.Second
	return b
}

// NewWatcher starts watching dir. The directory must exist.
func NewWatcher(d *Discoverer, dir string, opts ...WatcherOption) (*Watcher, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, ErrNotADirectory
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(absDir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		discoverer: d,
		fsw:        fsw,
		logger:     zap.NewNop(),
		newBackOff: defaultBackOff,
		closeCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "plugin_watcher"), zap.String("dir", absDir))

	w.closedWg.Add(1)
	go w.processLoop()

	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	w.closedWg.Wait()
	return w.fsw.Close()
}

// processLoop handles incoming fsnotify events.
func (w *Watcher) processLoop() {
	defer w.closedWg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if _, ok := w.discoverer.openerFor(ev.Name); !ok {
		return
	}

	switch {
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		w.discoverer.Forget(ev.Name)
	case ev.Op.Has(fsnotify.Create), ev.Op.Has(fsnotify.Write):
		w.discoverer.Forget(ev.Name)
		w.scan(ev.Name)
	}
}

// scan discovers the bundle at path, retrying while it cannot be read.
func (w *Watcher) scan(path string) {
	var result *DiscoveryResult
	op := func() error {
		select {
		case <-w.closeCh:
			return backoff.Permanent(ErrWatcherClosed)
		default:
		}

		result = w.discoverer.DiscoverBundle(path)
		if err := result.Err(); errors.Is(err, ErrBundleRead) {
			w.discoverer.Forget(path)
			return err
		}
		return nil
	}

	if err := backoff.Retry(op, w.newBackOff()); err != nil {
		w.logger.Warn("bundle scan failed", zap.String("bundle", path), zap.Error(err))
	}
	if result == nil {
		return
	}
	for _, name := range result.Registered {
		w.logger.Info("plugin discovered", zap.String("plugin", name), zap.String("bundle", path))
	}
	if w.onResult != nil {
		w.onResult(path, result)
	}
}
