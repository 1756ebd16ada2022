package plugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/dshills/plughost/api"
)

// Provider supplies plugins compiled into the host.
type Provider interface {
	Plugins() []api.Contract
}

// StaticProvider is a Provider over a fixed list of plugins.
type StaticProvider struct {
	mu      sync.Mutex
	plugins []api.Contract
}

// NewStaticProvider creates a provider returning plugins.
func NewStaticProvider(plugins ...api.Contract) *StaticProvider {
	return &StaticProvider{plugins: plugins}
}

// Add appends a plugin.
func (p *StaticProvider) Add(c api.Contract) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plugins = append(p.plugins, c)
}

// Plugins implements Provider.
func (p *StaticProvider) Plugins() []api.Contract {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]api.Contract, len(p.plugins))
	copy(out, p.plugins)
	return out
}

// BundleOpener opens bundle files with a given extension.
type BundleOpener interface {
	// Ext returns the file extension handled, including the dot.
	Ext() string

	Open(path string) (Bundle, error)
}

// Bundle is an opened bundle file.
type Bundle interface {
	// Entries lists the plugin entry point candidates in bundle order.
	Entries() ([]Entry, error)
	Close() error
}

// Entry is a candidate plugin entry point inside a bundle.
type Entry interface {
	Name() string

	// Instantiate runs the entry's factory. It returns a nil contract and
	// nil error when the entry does not expose a factory.
	Instantiate() (api.Contract, error)
}

// DiscoveryResult summarizes a discovery pass.
type DiscoveryResult struct {
	// Registered holds the names added to the registry by this pass.
	Registered []string

	// Errors holds isolated per-bundle, per-entry and identity failures.
	Errors []error
}

// Err joins the isolated errors.
func (r *DiscoveryResult) Err() error {
	return errors.Join(r.Errors...)
}

func (r *DiscoveryResult) merge(other *DiscoveryResult) {
	r.Registered = append(r.Registered, other.Registered...)
	r.Errors = append(r.Errors, other.Errors...)
}

// Discoverer finds plugins from the internal provider and from bundle files
// and registers them.
type Discoverer struct {
	registry *Registry
	provider Provider
	openers  map[string]BundleOpener

	// Bundles opened by earlier passes, keyed by path.
	mounted cmap.ConcurrentMap[string, Bundle]

	notifier   Notifier
	errorTitle string
	workers    int
	logger     *zap.Logger
	metrics    *Metrics
}

// NewDiscoverer creates a discoverer registering into registry.
func NewDiscoverer(registry *Registry, opts ...Option) *Discoverer {
	o := applyOptions(opts)

	d := &Discoverer{
		registry:   registry,
		provider:   o.provider,
		openers:    make(map[string]BundleOpener),
		mounted:    cmap.New[Bundle](),
		notifier:   o.notifier,
		errorTitle: o.errorTitle,
		workers:    o.workers,
		logger:     o.logger.With(zap.String("component", "plugin_discoverer")),
		metrics:    o.metrics,
	}
	for _, op := range o.openers {
		d.openers[strings.ToLower(op.Ext())] = op
	}
	return d
}

// Discover runs internal discovery, then external discovery of dir.
func (d *Discoverer) Discover(ctx context.Context, dir string) (*DiscoveryResult, error) {
	result := d.DiscoverInternal()

	ext, err := d.DiscoverExternal(ctx, dir)
	if ext != nil {
		result.merge(ext)
	}
	return result, err
}

// DiscoverInternal registers the provider's plugins.
func (d *Discoverer) DiscoverInternal() *DiscoveryResult {
	result := &DiscoveryResult{}
	if d.provider == nil {
		return result
	}
	for _, c := range d.provider.Plugins() {
		d.register(c, result)
	}
	for _, err := range result.Errors {
		d.metrics.observeDiscoveryError(err)
	}
	d.metrics.setRegistered(d.registry.Len())
	return result
}

// DiscoverExternal scans dir for bundle files and registers the first
// plugin found in each. A missing directory yields no plugins.
func (d *Discoverer) DiscoverExternal(ctx context.Context, dir string) (*DiscoveryResult, error) {
	result := &DiscoveryResult{}

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return nil, fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", dir, ErrNotADirectory)
	}

	paths, err := d.bundlePaths(dir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return result, nil
	}

	scans := d.scanAll(ctx, paths)

	// Register in file-name order so the first registration is deterministic.
	for _, s := range scans {
		if !s.done {
			continue
		}
		d.metrics.observeBundle(!s.failed)
		result.Errors = append(result.Errors, s.errs...)
		if s.contract != nil {
			d.register(s.contract, result)
		}
	}

	for _, err := range result.Errors {
		d.metrics.observeDiscoveryError(err)
	}
	d.metrics.setRegistered(d.registry.Len())
	return result, ctx.Err()
}

// DiscoverBundle scans a single bundle file and registers its plugin.
func (d *Discoverer) DiscoverBundle(path string) *DiscoveryResult {
	result := &DiscoveryResult{}
	op, ok := d.openerFor(path)
	if !ok {
		return result
	}

	s := d.scanBundle(path, op)
	d.metrics.observeBundle(!s.failed)
	result.Errors = append(result.Errors, s.errs...)
	if s.contract != nil {
		d.register(s.contract, result)
	}
	for _, err := range result.Errors {
		d.metrics.observeDiscoveryError(err)
	}
	d.metrics.setRegistered(d.registry.Len())
	return result
}

// bundlePaths lists bundle files in dir, sorted by name.
func (d *Discoverer) bundlePaths(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	// os.ReadDir returns entries sorted by file name.
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := d.openerFor(e.Name()); ok {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	return paths, nil
}

func (d *Discoverer) openerFor(path string) (BundleOpener, bool) {
	op, ok := d.openers[strings.ToLower(filepath.Ext(path))]
	return op, ok
}

type bundleScan struct {
	contract api.Contract
	errs     []error
	failed   bool
	done     bool
}

// scanAll scans bundles on a bounded pool. Results keep the order of paths.
func (d *Discoverer) scanAll(ctx context.Context, paths []string) []bundleScan {
	scans := make([]bundleScan, len(paths))

	pool, err := ants.NewPool(d.workers)
	if err != nil {
		d.logger.Warn("scan pool unavailable, scanning sequentially", zap.Error(err))
		pool = nil
	} else {
		defer pool.Release()
	}

	var wg sync.WaitGroup
	for i, path := range paths {
		if ctx.Err() != nil {
			break
		}
		op, _ := d.openerFor(path)

		task := func() {
			defer wg.Done()
			scans[i] = d.scanBundle(path, op)
		}

		wg.Add(1)
		if pool == nil {
			task()
			continue
		}
		if err := pool.Submit(task); err != nil {
			task()
		}
	}
	wg.Wait()
	return scans
}

// scanBundle mounts the bundle and instantiates entries until one yields a
// plugin. Entry failures are isolated.
func (d *Discoverer) scanBundle(path string, op BundleOpener) bundleScan {
	s := bundleScan{done: true}

	b, err := d.mount(path, op)
	if err != nil {
		s.failed = true
		s.errs = append(s.errs, &BundleError{Path: path, Err: err})
		return s
	}

	entries, err := b.Entries()
	if err != nil {
		s.failed = true
		s.errs = append(s.errs, &BundleError{Path: path, Err: err})
		return s
	}

	for _, e := range entries {
		c, err := instantiate(e)
		if err != nil {
			d.logger.Warn("plugin entry failed",
				zap.String("bundle", path),
				zap.String("entry", e.Name()),
				zap.Error(err))
			s.errs = append(s.errs, &InstantiationError{Bundle: path, Entry: e.Name(), Err: err})
			continue
		}
		if c != nil {
			s.contract = c
			return s
		}
	}
	return s
}

// mount opens the bundle once; later passes reuse it.
func (d *Discoverer) mount(path string, op BundleOpener) (Bundle, error) {
	if b, ok := d.mounted.Get(path); ok {
		return b, nil
	}

	b, err := op.Open(path)
	if err != nil {
		return nil, err
	}
	if !d.mounted.SetIfAbsent(path, b) {
		// Lost a race with another pass.
		b.Close()
		existing, _ := d.mounted.Get(path)
		return existing, nil
	}
	return b, nil
}

// Forget closes and unmounts the bundle at path so the next pass reopens it.
func (d *Discoverer) Forget(path string) {
	if b, ok := d.mounted.Pop(path); ok {
		if err := b.Close(); err != nil {
			d.logger.Debug("close bundle", zap.String("bundle", path), zap.Error(err))
		}
	}
}

// Close unmounts every bundle.
func (d *Discoverer) Close() error {
	var errs []error
	for _, path := range d.mounted.Keys() {
		if b, ok := d.mounted.Pop(path); ok {
			if err := b.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", path, err))
			}
		}
	}
	return errors.Join(errs...)
}

// instantiate calls the entry factory, converting a panic into an error.
func instantiate(e Entry) (c api.Contract, err error) {
	defer func() {
		if r := recover(); r != nil {
			c = nil
			err = fmt.Errorf("factory panicked: %v", r)
		}
	}()
	return e.Instantiate()
}

// Register wraps c in a handle and adds it to the registry. A plugin whose
// name is already registered is dropped and the existing handle returned.
func (d *Discoverer) Register(c api.Contract) (*Handle, error) {
	result := &DiscoveryResult{}
	h := d.register(c, result)
	if len(result.Errors) > 0 {
		return nil, result.Errors[0]
	}
	return h, nil
}

// register adds c to the registry. Identity failures and panics from the
// plugin's descriptor or stage declarations are recorded in result and do
// not stop the pass.
func (d *Discoverer) register(c api.Contract, result *DiscoveryResult) *Handle {
	h, err := newHandle(c, d.logger)
	if err != nil {
		d.logger.Warn("plugin rejected", zap.Error(err))
		result.Errors = append(result.Errors, err)
		closePlugin(c, d.logger)
		return nil
	}

	if err := d.checkIdentity(h.Info()); err != nil {
		result.Errors = append(result.Errors, err)
		closePlugin(c, d.logger)
		return nil
	}

	if !d.registry.Add(h) {
		d.logger.Debug("plugin already registered", zap.String("plugin", h.Name()))
		closePlugin(c, d.logger)
		existing, _ := d.registry.Get(h.Name())
		return existing
	}

	d.logger.Info("plugin registered",
		zap.String("plugin", h.Name()),
		zap.Stringer("stages", h.Stages()))
	result.Registered = append(result.Registered, h.Name())
	return h
}

// checkIdentity rejects plugins without a descriptor or name and raises
// a notice for them.
func (d *Discoverer) checkIdentity(info *api.Descriptor) error {
	var text string
	switch {
	case info == nil:
		text = "Plugin info not defined!"
	case strings.TrimSpace(info.Name) == "":
		text = "Plugin name not defined!"
	default:
		return nil
	}

	d.notifier.Notify(Notice{
		Title:    d.errorTitle,
		Header:   "Plugin failed to load!",
		Text:     text,
		Severity: SeverityError,
	})
	return fmt.Errorf("%s: %w", strings.TrimSuffix(text, "!"), ErrMissingPluginIdentity)
}

// closePlugin releases c when it holds resources. A panicking Close is
// logged.
func closePlugin(c api.Contract, logger *zap.Logger) {
	cl, ok := c.(io.Closer)
	if !ok {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("close plugin panicked", zap.String("plugin", pluginLabel(c)), zap.Any("panic", r))
		}
	}()
	if err := cl.Close(); err != nil {
		logger.Debug("close plugin", zap.Error(err))
	}
}
