package plugin

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dshills/plughost/api"
)

// Handle binds a plugin contract to its resolved stages and lifecycle flags.
type Handle struct {
	contract api.Contract
	name     string
	stages   StageSet

	installed atomic.Bool
	paneReady atomic.Bool

	ready     chan struct{}
	readyOnce sync.Once

	// logger reports plugin queries that panicked.
	logger *zap.Logger
}

// NewHandle wraps c and resolves its stage set. A plugin whose descriptor
// or stage declarations panic gets no name and the default stages.
func NewHandle(c api.Contract) *Handle {
	h, _ := newHandle(c, nil)
	return h
}

// newHandle builds the handle, returning a *QueryPanicError when the
// plugin panics while reporting its identity or stages.
func newHandle(c api.Contract, logger *zap.Logger) (*Handle, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handle{
		contract: c,
		ready:    make(chan struct{}),
		logger:   logger,
	}

	info, recovered := query(h, "info", c.Info)
	if recovered != nil {
		h.stages = ResolveStages(nil)
		return h, &QueryPanicError{Plugin: pluginLabel(c), Method: "info", Value: recovered.Value}
	}
	if info != nil {
		h.name = strings.TrimSpace(info.Name)
	}

	stages, recovered := query(h, "load_stages", func() StageSet { return StagesOf(c) })
	if recovered != nil {
		h.stages = ResolveStages(nil)
		label := h.name
		if label == "" {
			label = pluginLabel(c)
		}
		return h, &QueryPanicError{Plugin: label, Method: "load_stages", Value: recovered.Value}
	}
	h.stages = stages
	return h, nil
}

// Name returns the plugin name. Empty when the plugin has no identity.
func (h *Handle) Name() string {
	return h.name
}

// Contract returns the wrapped plugin.
func (h *Handle) Contract() api.Contract {
	return h.contract
}

// Info returns the plugin descriptor, which may be nil. A panicking
// descriptor is logged and reported as nil.
func (h *Handle) Info() *api.Descriptor {
	info, _ := query(h, "info", h.contract.Info)
	return info
}

// Field returns a descriptor field, normalized to api.NotDefined or
// api.InfoNotDefined.
func (h *Handle) Field(f api.Field) string {
	return h.Info().Field(f)
}

// Stages returns the stage set resolved at construction.
func (h *Handle) Stages() StageSet {
	return h.stages
}

// HasStage reports whether the plugin participates in stage.
func (h *Handle) HasStage(stage api.LoadStage) bool {
	return h.stages.Contains(stage)
}

// IsInstalled reports whether the normal stage hook has succeeded.
func (h *Handle) IsInstalled() bool {
	return h.installed.Load()
}

// IsPaneReady reports whether the rendering collaborator has reported the
// plugin's pane.
func (h *Handle) IsPaneReady() bool {
	return h.paneReady.Load()
}

// Ready returns a channel closed once the pane is ready.
func (h *Handle) Ready() <-chan struct{} {
	return h.ready
}

// State derives the lifecycle state from the handle's flags.
func (h *Handle) State() State {
	switch {
	case h.IsInstalled():
		return StateInstalled
	case h.IsPaneReady():
		return StateLoaded
	default:
		return StateDiscovered
	}
}

// UpdateNeeded reports the plugin's update flag. A panicking flag reads as
// false.
func (h *Handle) UpdateNeeded() bool {
	v, _ := query(h, "update_needed", h.contract.UpdateNeeded)
	return v
}

// DownloadURL returns the plugin's download URL, or "" when it panics.
func (h *Handle) DownloadURL() string {
	v, _ := query(h, "download_url", h.contract.DownloadURL)
	return v
}

// UpdateStatus returns "Needs Update" or "Current".
func (h *Handle) UpdateStatus() string {
	if h.UpdateNeeded() {
		return "Needs Update"
	}
	return "Current"
}

// closeContract releases the contract when it implements io.Closer. A panicking
// Close is returned as a *QueryPanicError.
func (h *Handle) closeContract() (err error) {
	c, ok := h.contract.(io.Closer)
	if !ok {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = &QueryPanicError{Plugin: h.name, Method: "close", Value: r}
		}
	}()
	return c.Close()
}

func (h *Handle) setInstalled(v bool) {
	h.installed.Store(v)
}

func (h *Handle) markPaneReady() {
	h.readyOnce.Do(func() {
		h.paneReady.Store(true)
		close(h.ready)
	})
}

// query calls a non-hook contract method. A panic is logged and turned into
// the zero value plus the recovered HookPanic.
func query[T any](h *Handle, method string, fn func() T) (v T, recovered *HookPanic) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			v, recovered = zero, &HookPanic{Value: r}
			h.logger.Warn("plugin query panicked",
				zap.String("plugin", h.name),
				zap.String("method", method),
				zap.Any("panic", r))
		}
	}()
	return fn(), nil
}

// pluginLabel names c for errors raised before its name is known.
func pluginLabel(c api.Contract) string {
	return fmt.Sprintf("%T", c)
}
