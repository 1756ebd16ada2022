package plugin

import (
	"fmt"
	"path/filepath"
	goplugin "plugin"

	"github.com/dshills/plughost/api"
)

// GoPluginOpener opens Go plugins built with -buildmode=plugin. The bundle
// has a single entry: the exported api.FactorySymbol.
type GoPluginOpener struct{}

// Ext implements BundleOpener.
func (GoPluginOpener) Ext() string {
	return ".so"
}

// Open implements BundleOpener. The Go runtime never unloads plugins, so
// opening the same path again returns the already loaded plugin.
func (GoPluginOpener) Open(path string) (Bundle, error) {
	p, err := goplugin.Open(path)
	if err != nil {
		return nil, err
	}
	return &goBundle{path: path, p: p}, nil
}

type goBundle struct {
	path string
	p    *goplugin.Plugin
}

func (b *goBundle) Entries() ([]Entry, error) {
	return []Entry{&goEntry{bundle: b}}, nil
}

func (b *goBundle) Close() error {
	return nil
}

type goEntry struct {
	bundle *goBundle
}

func (e *goEntry) Name() string {
	return filepath.Base(e.bundle.path) + ":" + api.FactorySymbol
}

func (e *goEntry) Instantiate() (api.Contract, error) {
	sym, err := e.bundle.p.Lookup(api.FactorySymbol)
	if err != nil {
		// No factory: not a plugin entry.
		return nil, nil
	}

	var factory func() api.Contract
	switch f := sym.(type) {
	case func() api.Contract:
		factory = f
	case *func() api.Contract:
		factory = *f
	default:
		return nil, fmt.Errorf("symbol %s has type %T, want func() api.Contract", api.FactorySymbol, sym)
	}

	c := factory()
	if c == nil {
		return nil, fmt.Errorf("%s returned nil", api.FactorySymbol)
	}
	return c, nil
}
