package lua

import (
	"archive/zip"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/valyala/bytebufferpool"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/dshills/plughost/api"
	"github.com/dshills/plughost/internal/plugin"
)

// Opener opens .zip bundles of Lua scripts. Every .lua file in the archive
// is a candidate entry point; it is a plugin when, once run, it defines the
// global new_plugin function.
type Opener struct {
	logger  *zap.Logger
	timeout time.Duration
}

// OpenerOption configures an Opener.
type OpenerOption func(*Opener)

// WithLogger sets the logger for the opener and the Lua states it creates.
func WithLogger(l *zap.Logger) OpenerOption {
	return func(o *Opener) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTimeout sets the execution timeout of each call into plugin code.
func WithTimeout(d time.Duration) OpenerOption {
	return func(o *Opener) {
		o.timeout = d
	}
}

// NewOpener creates a Lua bundle opener.
func NewOpener(opts ...OpenerOption) *Opener {
	o := &Opener{
		logger:  zap.NewNop(),
		timeout: DefaultExecutionTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With(zap.String("component", "lua_opener"))
	return o
}

var _ plugin.BundleOpener = (*Opener)(nil)

// Ext implements plugin.BundleOpener.
func (o *Opener) Ext() string {
	return ".zip"
}

// Open implements plugin.BundleOpener.
func (o *Opener) Open(bundlePath string) (plugin.Bundle, error) {
	r, err := zip.OpenReader(bundlePath)
	if err != nil {
		return nil, err
	}
	return &bundle{path: bundlePath, r: r, opener: o}, nil
}

type bundle struct {
	path   string
	r      *zip.ReadCloser
	opener *Opener
}

// Entries lists the .lua files in archive order.
func (b *bundle) Entries() ([]plugin.Entry, error) {
	var entries []plugin.Entry
	for _, f := range b.r.File {
		if f.FileInfo().IsDir() || !strings.EqualFold(path.Ext(f.Name), ".lua") {
			continue
		}
		entries = append(entries, &entry{bundle: b, file: f})
	}
	return entries, nil
}

func (b *bundle) Close() error {
	return b.r.Close()
}

type entry struct {
	bundle *bundle
	file   *zip.File
}

func (e *entry) Name() string {
	return e.file.Name
}

// Instantiate runs the script in a fresh state and calls new_plugin.
func (e *entry) Instantiate() (api.Contract, error) {
	code, err := e.read()
	if err != nil {
		return nil, err
	}

	o := e.bundle.opener
	state := NewState(
		WithExecutionTimeout(o.timeout),
		WithStateLogger(o.logger.With(zap.String("entry", e.file.Name))),
	)

	p, err := e.load(state, code)
	if err != nil || p == nil {
		state.Close()
		return nil, err
	}
	return p, nil
}

// load returns a nil plugin when the script defines no factory.
func (e *entry) load(state *State, code string) (*Plugin, error) {
	if err := state.DoString(e.file.Name, code); err != nil {
		return nil, err
	}

	if _, ok := state.GetGlobal(FactoryName).(*lua.LFunction); !ok {
		return nil, nil
	}

	ret, err := state.CallGlobal(FactoryName)
	if err != nil {
		return nil, err
	}
	if len(ret) == 0 {
		return nil, fmt.Errorf("%w: %s returned nothing", ErrInvalidPlugin, FactoryName)
	}
	self, ok := ret[0].(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("%w: %s returned a %s, want table", ErrInvalidPlugin, FactoryName, ret[0].Type())
	}
	return newPlugin(state, self, e.file.Name)
}

func (e *entry) read() (string, error) {
	rc, err := e.file.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	if _, err := buf.ReadFrom(rc); err != nil {
		return "", fmt.Errorf("read %s: %w", e.file.Name, err)
	}
	return buf.String(), nil
}
