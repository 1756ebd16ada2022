package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dshills/plughost/api"
	"github.com/dshills/plughost/internal/event"
)

const eventSource = "plugin-manager"

// Transition verbs used in failure notices.
const (
	verbInstall   = "install"
	verbUninstall = "uninstall"
	verbUnload    = "unload"
	verbLoad      = "load"
)

// Manager mediates install, uninstall and unload transitions.
//
// All transitions share one lock, so at most one runs at a time. Install
// holds the lock while it waits for the plugin's pane; a slow renderer
// therefore delays every other transition by up to the pane timeout.
type Manager struct {
	// mu serializes transitions.
	mu sync.Mutex

	registry *Registry
	bus      *event.Bus
	sub      *event.Subscription

	notifier    Notifier
	logger      *zap.Logger
	metrics     *Metrics
	tracer      trace.Tracer
	downloader  Downloader
	errorTitle  string
	paneTimeout time.Duration
}

// NewManager creates a manager over registry and subscribes to pane-ready
// events on bus.
func NewManager(registry *Registry, bus *event.Bus, opts ...Option) (*Manager, error) {
	o := applyOptions(opts)

	tp := o.tracer
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	m := &Manager{
		registry:    registry,
		bus:         bus,
		notifier:    o.notifier,
		logger:      o.logger.With(zap.String("component", "plugin_manager")),
		metrics:     o.metrics,
		tracer:      tp.Tracer("github.com/dshills/plughost/internal/plugin"),
		downloader:  o.downloader,
		errorTitle:  o.errorTitle,
		paneTimeout: o.paneTimeout,
	}

	sub, err := bus.SubscribeFunc(event.TopicPaneReady, m.onPaneReady)
	if err != nil {
		return nil, fmt.Errorf("subscribe pane ready: %w", err)
	}
	m.sub = sub
	return m, nil
}

// Close stops listening for pane-ready events.
func (m *Manager) Close() error {
	if m.sub == nil {
		return nil
	}
	err := m.bus.Unsubscribe(m.sub)
	m.sub = nil
	if errors.Is(err, event.ErrSubscriptionNotFound) {
		return nil
	}
	return err
}

// Registry returns the registry the manager operates on.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// onPaneReady marks the named plugin's pane ready.
func (m *Manager) onPaneReady(_ context.Context, ev event.Event) error {
	h, err := m.registry.Get(ev.Plugin)
	if err != nil {
		m.logger.Debug("pane ready for unknown plugin", zap.String("plugin", ev.Plugin))
		return nil
	}
	h.markPaneReady()
	return nil
}

// Install transitions the named plugin from loaded to installed.
func (m *Manager) Install(ctx context.Context, name string) Status {
	return m.transition(ctx, "install", name, m.install)
}

// Uninstall transitions the named plugin from installed back to loaded.
func (m *Manager) Uninstall(ctx context.Context, name string) Status {
	return m.transition(ctx, "uninstall", name, m.uninstall)
}

// transition runs fn under the transition lock with tracing, logging and
// metrics.
func (m *Manager) transition(ctx context.Context, op, name string, fn func(context.Context, string) Status) Status {
	ctx, span := m.tracer.Start(ctx, "plugin."+op, trace.WithAttributes(attribute.String("plugin", name)))
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.NewString()
	log := m.logger.With(zap.String("plugin", name), zap.String("transition_id", id))
	log.Debug("transition started", zap.String("op", op))

	start := time.Now()
	status := fn(ctx, name)
	m.metrics.observeTransition(op, status, time.Since(start))

	span.SetAttributes(attribute.String("status", status.String()))
	if !status.OK() {
		span.SetStatus(codes.Error, status.String())
	}
	log.Info("transition finished", zap.String("op", op), zap.Stringer("status", status))
	return status
}

func (m *Manager) install(ctx context.Context, name string) Status {
	h, err := m.registry.Get(name)
	if err != nil {
		return StatusNotLoaded
	}
	if h.IsInstalled() {
		m.notify(Notice{
			Header:   fmt.Sprintf("Plugin %q Already Installed!", name),
			Severity: SeverityWarning,
			Plugin:   name,
		})
		return StatusAlreadyInstalled
	}
	if !h.HasStage(api.NormalLoad) {
		m.notify(Notice{
			Header:   fmt.Sprintf("Plugin %q cannot be installed in Normal load stage!", name),
			Severity: SeverityWarning,
			Plugin:   name,
		})
		return StatusInvalidStage
	}

	m.publish(ctx, event.TopicInstallRequested, name)

	if status := m.awaitPane(ctx, h); !status.OK() {
		return status
	}

	ok, recovered := callHook(h.Contract().LoadNormalStage)
	if recovered == nil && ok {
		h.setInstalled(true)
		m.publish(ctx, event.TopicInstallCompleted, name)
		return StatusNoError
	}

	m.reportFailure(h, verbInstall, recovered)
	m.cleanup(h)
	return StatusLoadingError
}

// awaitPane waits for the pane of h, bounded by the pane timeout and ctx.
func (m *Manager) awaitPane(ctx context.Context, h *Handle) Status {
	select {
	case <-h.Ready():
		return StatusNoError
	default:
	}

	timer := time.NewTimer(m.paneTimeout)
	defer timer.Stop()

	select {
	case <-h.Ready():
		return StatusNoError
	case <-timer.C:
		m.logger.Warn("pane not ready before timeout",
			zap.String("plugin", h.Name()),
			zap.Duration("timeout", m.paneTimeout))
		return StatusInstallTimeout
	case <-ctx.Done():
		return StatusCancelled
	}
}

func (m *Manager) uninstall(ctx context.Context, name string) Status {
	h, err := m.registry.Get(name)
	if err != nil {
		return StatusNotLoaded
	}
	if !h.IsInstalled() {
		return StatusNotInstalled
	}

	status, _ := m.unload(h, verbUninstall)
	if status.OK() {
		h.setInstalled(false)
		m.publish(ctx, event.TopicUninstallCompleted, name)
	}
	return status
}

// unload runs the unload hook when the plugin opts in. ran reports whether
// the hook was invoked.
func (m *Manager) unload(h *Handle, verb string) (status Status, ran bool) {
	use, recovered := callHook(h.Contract().UseUnload)
	if recovered != nil {
		m.reportFailure(h, verb, recovered)
		return StatusUnloadingError, false
	}
	if !use {
		return StatusNoError, false
	}

	ok, recovered := callHook(h.Contract().Unload)
	if recovered == nil && ok {
		return StatusNoError, true
	}
	m.reportFailure(h, verb, recovered)
	return StatusUnloadingError, true
}

// cleanup unloads h after a failed install. When the unload hook ran and
// succeeded the plugin is removed from the registry. The result is not
// reported to the caller. Must be called with mu held.
func (m *Manager) cleanup(h *Handle) {
	status, ran := m.unload(h, verbUnload)
	if !status.OK() || !ran {
		return
	}
	if _, removed := m.registry.Remove(h.Name()); !removed {
		return
	}
	m.metrics.setRegistered(m.registry.Len())
	if err := h.closeContract(); err != nil {
		m.logger.Warn("close plugin", zap.String("plugin", h.Name()), zap.Error(err))
	}
	m.logger.Info("plugin removed after failed install", zap.String("plugin", h.Name()))
}

// RunStage runs the pre or post load hook of every plugin declaring stage.
// Failures are reported per plugin and do not stop the remaining plugins.
// It returns the names of the plugins whose hook failed.
func (m *Manager) RunStage(ctx context.Context, stage api.LoadStage) ([]string, error) {
	var hook func(api.Contract) func() bool
	switch stage {
	case api.PreLoad:
		hook = func(c api.Contract) func() bool { return c.LoadPreStage }
	case api.PostLoad:
		hook = func(c api.Contract) func() bool { return c.LoadPostStage }
	default:
		return nil, fmt.Errorf("run stage %s: %w", stage, ErrInvalidStage)
	}

	_, span := m.tracer.Start(ctx, "plugin.stage", trace.WithAttributes(attribute.String("stage", stage.String())))
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	var failed []string
	for _, h := range m.registry.ByStage(stage) {
		if err := ctx.Err(); err != nil {
			return failed, err
		}
		ok, recovered := callHook(hook(h.Contract()))
		if recovered == nil && ok {
			continue
		}
		failed = append(failed, h.Name())
		m.reportFailure(h, verbLoad, recovered)
	}
	return failed, nil
}

// IsInstalled reports whether the named plugin is installed.
func (m *Manager) IsInstalled(name string) bool {
	h, err := m.registry.Get(name)
	return err == nil && h.IsInstalled()
}

// IsLoaded reports whether the named plugin is registered and its pane is
// ready.
func (m *Manager) IsLoaded(name string) bool {
	h, err := m.registry.Get(name)
	return err == nil && h.IsPaneReady()
}

// InstalledPlugin returns the handle of an installed plugin.
func (m *Manager) InstalledPlugin(name string) (*Handle, error) {
	h, err := m.registry.Get(name)
	if err != nil {
		return nil, err
	}
	if !h.IsInstalled() {
		return nil, fmt.Errorf("plugin %q: %w", name, ErrNotInstalled)
	}
	return h, nil
}

// Stages returns the resolved stage set of the named plugin.
func (m *Manager) Stages(name string) (StageSet, error) {
	h, err := m.registry.Get(name)
	if err != nil {
		return 0, err
	}
	return h.Stages(), nil
}

// ContainsStage reports whether the named plugin participates in stage.
func (m *Manager) ContainsStage(name string, stage api.LoadStage) bool {
	s, err := m.Stages(name)
	return err == nil && s.Contains(stage)
}

// InfoString describes a plugin as
// "<kind> <name> <version> by <company>(<author>) - <update status>".
func (m *Manager) InfoString(name string) (string, error) {
	h, err := m.registry.Get(name)
	if err != nil {
		return "", err
	}
	if h.Info() == nil {
		return "", fmt.Errorf("plugin %q: %w", name, ErrMissingPluginIdentity)
	}
	return fmt.Sprintf("%s %s %s by %s(%s) - %s",
		h.Field(api.FieldKind),
		h.Field(api.FieldName),
		h.Field(api.FieldVersion),
		h.Field(api.FieldCompany),
		h.Field(api.FieldAuthor),
		h.UpdateStatus(),
	), nil
}

// UpdateStatus returns "Needs Update" or "Current" for the named plugin.
func (m *Manager) UpdateStatus(name string) (string, error) {
	h, err := m.registry.Get(name)
	if err != nil {
		return "", err
	}
	return h.UpdateStatus(), nil
}

// publish broadcasts a lifecycle event. Listener failures are logged; they
// never change the outcome of a transition.
func (m *Manager) publish(ctx context.Context, topic event.Topic, name string) {
	if err := m.bus.Publish(ctx, event.New(topic, name, eventSource)); err != nil {
		m.logger.Warn("event listener failed",
			zap.String("topic", string(topic)),
			zap.String("plugin", name),
			zap.Error(err))
	}
}

func (m *Manager) notify(n Notice) {
	if n.Title == "" {
		n.Title = m.errorTitle
	}
	m.notifier.Notify(n)
}

// reportFailure surfaces a failed hook. recovered is the panic value when
// the hook panicked, nil when it returned false.
func (m *Manager) reportFailure(h *Handle, verb string, recovered *HookPanic) {
	n := Notice{
		Header:   failureHeader(h.Name(), verb, recovered != nil),
		Severity: SeverityError,
		Plugin:   h.Name(),
	}
	if recovered != nil {
		n.Text = recovered.Text()
	} else {
		n.Text = errorMessage(h.Contract())
	}
	m.notify(n)
}

// HookPanic holds the value recovered from a panicking plugin hook.
type HookPanic struct {
	Value any
}

// Text formats the panic as "[ <type> ]\n<message>".
func (p *HookPanic) Text() string {
	return fmt.Sprintf("[ %T ]\n%v", p.Value, p.Value)
}

// callHook invokes fn, converting a panic into a HookPanic.
func callHook(fn func() bool) (ok bool, recovered *HookPanic) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			recovered = &HookPanic{Value: r}
		}
	}()
	return fn(), nil
}

// errorMessage returns the plugin's error message or the generic fallback.
func errorMessage(c api.Contract) (msg string) {
	defer func() {
		if recover() != nil {
			msg = noMessage
		}
	}()
	if msg = c.ErrorMessage(); msg == "" {
		msg = noMessage
	}
	return msg
}
