package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/plughost/internal/event"
	"github.com/dshills/plughost/internal/plugin"
)

// Pane is the placeholder view HeadlessPanes attaches to a plugin.
type Pane struct {
	Plugin  string
	Created time.Time
}

// HeadlessPanes stands in for a rendering front end. It answers every
// install request by attaching a Pane to the plugin and publishing the
// pane-ready event.
type HeadlessPanes struct {
	bus      *event.Bus
	registry *plugin.Registry
	sub      *event.Subscription
	logger   *zap.Logger
}

// NewHeadlessPanes subscribes to install requests on bus.
func NewHeadlessPanes(bus *event.Bus, registry *plugin.Registry, logger *zap.Logger) (*HeadlessPanes, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &HeadlessPanes{
		bus:      bus,
		registry: registry,
		logger:   logger.With(zap.String("component", "headless_panes")),
	}

	sub, err := bus.SubscribeFunc(event.TopicInstallRequested, p.onInstallRequested)
	if err != nil {
		return nil, err
	}
	p.sub = sub
	return p, nil
}

func (p *HeadlessPanes) onInstallRequested(ctx context.Context, ev event.Event) error {
	pane := &Pane{Plugin: ev.Plugin, Created: time.Now()}
	if err := p.registry.AttachPane(ev.Plugin, pane); err != nil {
		return err
	}
	p.logger.Debug("pane attached", zap.String("plugin", ev.Plugin))
	return p.bus.Publish(ctx, event.PaneReady(ev.Plugin))
}

// Close stops answering install requests.
func (p *HeadlessPanes) Close() error {
	return p.bus.Unsubscribe(p.sub)
}
