// Package app wires the plugin host together: configuration, logging, the
// event bus, discovery, the lifecycle manager and the HTTP health and
// metrics surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dshills/plughost/internal/config"
	"github.com/dshills/plughost/internal/event"
	"github.com/dshills/plughost/internal/plugin"
)

// Application owns every host component.
type Application struct {
	mu sync.Mutex

	cfg    *config.Config
	logger *zap.Logger

	bus        *event.Bus
	registry   *plugin.Registry
	metrics    *plugin.Metrics
	promReg    *prometheus.Registry
	discoverer *plugin.Discoverer
	manager    *plugin.Manager
	panes      *HeadlessPanes
	watcher    *plugin.Watcher

	discovered atomic.Bool
	running    atomic.Bool
	closed     atomic.Bool

	opts Options
}

// Options configures the application.
type Options struct {
	// Logger defaults to NewLogger(cfg.LogLevel, nil).
	Logger *zap.Logger

	// Provider supplies built-in plugins.
	Provider plugin.Provider

	// Notifier receives user-facing notices. Defaults to a log notifier.
	Notifier plugin.Notifier

	// Downloader fetches plugin updates.
	Downloader plugin.Downloader

	// TracerProvider traces lifecycle transitions.
	TracerProvider trace.TracerProvider

	// Openers are added to the built-in Lua and Go plugin openers.
	Openers []plugin.BundleOpener

	// Headless attaches placeholder panes to installing plugins. Without it
	// some other component must answer install requests.
	Headless bool
}

// New creates an Application from cfg.
func New(cfg *config.Config, opts Options) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, &InitError{Component: "config", Err: err}
	}

	app := &Application{cfg: cfg, opts: opts}
	b := newBootstrapper(app)
	if err := b.bootstrap(); err != nil {
		return nil, err
	}
	return app, nil
}

// Config returns the active configuration.
func (app *Application) Config() *config.Config { return app.cfg }

// Logger returns the application logger.
func (app *Application) Logger() *zap.Logger { return app.logger }

// Bus returns the event bus.
func (app *Application) Bus() *event.Bus { return app.bus }

// Registry returns the plugin registry.
func (app *Application) Registry() *plugin.Registry { return app.registry }

// Manager returns the lifecycle manager.
func (app *Application) Manager() *plugin.Manager { return app.manager }

// Discoverer returns the plugin discoverer.
func (app *Application) Discoverer() *plugin.Discoverer { return app.discoverer }

// Gatherer returns the metrics registry served on /metrics.
func (app *Application) Gatherer() prometheus.Gatherer { return app.promReg }

// Discover creates the plugins directory if needed, then registers the
// built-in plugins and every bundle in it. Isolated bundle failures are
// logged and returned in the result, not as the error.
func (app *Application) Discover(ctx context.Context) (*plugin.DiscoveryResult, error) {
	if app.closed.Load() {
		return nil, ErrClosed
	}
	if err := app.cfg.EnsurePluginsDir(); err != nil {
		return nil, err
	}

	result, err := app.discoverer.Discover(ctx, app.cfg.PluginsDir)
	if err != nil {
		return result, fmt.Errorf("discover %s: %w", app.cfg.PluginsDir, err)
	}
	for _, e := range result.Errors {
		app.logger.Warn("discovery error", zap.Error(e))
	}
	app.logger.Info("discovery finished",
		zap.String("dir", app.cfg.PluginsDir),
		zap.Strings("registered", result.Registered),
		zap.Int("errors", len(result.Errors)))
	app.discovered.Store(true)
	return result, nil
}

// Watch starts watching the plugins directory for new bundles.
// Calling it again returns the running watcher.
func (app *Application) Watch() (*plugin.Watcher, error) {
	app.mu.Lock()
	defer app.mu.Unlock()

	if app.closed.Load() {
		return nil, ErrClosed
	}
	if app.watcher != nil {
		return app.watcher, nil
	}

	w, err := plugin.NewWatcher(app.discoverer, app.cfg.PluginsDir,
		plugin.WithWatchLogger(app.logger),
		plugin.OnDiscovered(func(path string, r *plugin.DiscoveryResult) {
			if len(r.Registered) > 0 {
				app.logger.Info("bundle discovered",
					zap.String("bundle", path),
					zap.Strings("plugins", r.Registered))
			}
		}),
	)
	if err != nil {
		return nil, err
	}
	app.watcher = w
	return w, nil
}

// Shutdown releases every component in reverse start order.
func (app *Application) Shutdown() error {
	if !app.closed.CompareAndSwap(false, true) {
		return nil
	}

	app.mu.Lock()
	w := app.watcher
	app.mu.Unlock()

	var errs []error
	if w != nil {
		errs = append(errs, w.Close())
	}
	if app.panes != nil {
		errs = append(errs, app.panes.Close())
	}
	if app.manager != nil {
		errs = append(errs, app.manager.Close())
	}
	if app.registry != nil {
		errs = append(errs, app.registry.Close())
	}
	if app.discoverer != nil {
		errs = append(errs, app.discoverer.Close())
	}
	if app.bus != nil {
		app.bus.Close()
	}
	_ = app.logger.Sync()
	return errors.Join(errs...)
}
