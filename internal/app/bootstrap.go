package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/dshills/plughost/internal/event"
	"github.com/dshills/plughost/internal/plugin"
	"github.com/dshills/plughost/internal/plugin/lua"
)

// bootstrapper initializes components in dependency order and cleans up
// the ones already started when a later one fails.
type bootstrapper struct {
	app       *Application
	initOrder []string
}

func newBootstrapper(app *Application) *bootstrapper {
	return &bootstrapper{app: app, initOrder: make([]string, 0, 6)}
}

func (b *bootstrapper) bootstrap() error {
	steps := []struct {
		name string
		init func() error
	}{
		{"logger", b.initLogger},
		{"eventBus", b.initEventBus},
		{"metrics", b.initMetrics},
		{"discoverer", b.initDiscoverer},
		{"manager", b.initManager},
		{"panes", b.initPanes},
	}

	for _, s := range steps {
		if err := s.init(); err != nil {
			b.cleanup()
			return &InitError{Component: s.name, Err: err}
		}
		b.initOrder = append(b.initOrder, s.name)
	}
	return nil
}

func (b *bootstrapper) initLogger() error {
	if b.app.opts.Logger != nil {
		b.app.logger = b.app.opts.Logger
	} else {
		b.app.logger = NewLogger(b.app.cfg.LogLevel, nil)
	}
	return nil
}

func (b *bootstrapper) initEventBus() error {
	b.app.bus = event.NewBus(event.WithLogger(b.app.logger))
	return nil
}

func (b *bootstrapper) initMetrics() error {
	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return err
	}
	m, err := plugin.NewMetrics(reg)
	if err != nil {
		return err
	}
	b.app.promReg = reg
	b.app.metrics = m
	return nil
}

// pluginOptions are shared by the discoverer and the manager.
func (b *bootstrapper) pluginOptions() []plugin.Option {
	app := b.app
	openers := append([]plugin.BundleOpener{
		lua.NewOpener(lua.WithLogger(app.logger)),
		plugin.GoPluginOpener{},
	}, app.opts.Openers...)

	opts := []plugin.Option{
		plugin.WithLogger(app.logger),
		plugin.WithMetrics(app.metrics),
		plugin.WithErrorTitle(app.cfg.ErrorTitle),
		plugin.WithPaneTimeout(app.cfg.PaneTimeout),
		plugin.WithWorkers(app.cfg.Workers),
		plugin.WithOpeners(openers...),
	}
	if app.opts.Notifier != nil {
		opts = append(opts, plugin.WithNotifier(app.opts.Notifier))
	}
	if app.opts.Provider != nil {
		opts = append(opts, plugin.WithProvider(app.opts.Provider))
	}
	if app.opts.Downloader != nil {
		opts = append(opts, plugin.WithDownloader(app.opts.Downloader))
	}
	if app.opts.TracerProvider != nil {
		opts = append(opts, plugin.WithTracerProvider(app.opts.TracerProvider))
	}
	return opts
}

func (b *bootstrapper) initDiscoverer() error {
	b.app.registry = plugin.NewRegistry()
	b.app.discoverer = plugin.NewDiscoverer(b.app.registry, b.pluginOptions()...)
	return nil
}

func (b *bootstrapper) initManager() error {
	m, err := plugin.NewManager(b.app.registry, b.app.bus, b.pluginOptions()...)
	if err != nil {
		return err
	}
	b.app.manager = m
	return nil
}

func (b *bootstrapper) initPanes() error {
	if !b.app.opts.Headless {
		return nil
	}
	p, err := NewHeadlessPanes(b.app.bus, b.app.registry, b.app.logger)
	if err != nil {
		return err
	}
	b.app.panes = p
	return nil
}

// cleanup releases initialized components in reverse order.
func (b *bootstrapper) cleanup() {
	for i := len(b.initOrder) - 1; i >= 0; i-- {
		b.cleanupComponent(b.initOrder[i])
	}
}

func (b *bootstrapper) cleanupComponent(component string) {
	app := b.app
	switch component {
	case "panes":
		if app.panes != nil {
			_ = app.panes.Close()
			app.panes = nil
		}
	case "manager":
		if app.manager != nil {
			_ = app.manager.Close()
			app.manager = nil
		}
	case "discoverer":
		if app.discoverer != nil {
			_ = app.discoverer.Close()
			app.discoverer = nil
		}
	case "eventBus":
		if app.bus != nil {
			app.bus.Close()
			app.bus = nil
		}
	case "logger":
		app.logger.Debug("bootstrap aborted", zap.Strings("initialized", b.initOrder))
		_ = app.logger.Sync()
	}
}
