package plugin

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dshills/plughost/api"
	"github.com/dshills/plughost/internal/event"
)

// fakePlugin is a configurable api.Contract.
type fakePlugin struct {
	info *api.Descriptor

	normal    func() bool
	pre       func() bool
	post      func() bool
	unload    func() bool
	useUnload bool
	message   string

	updateNeeded bool
	downloadURL  string

	normalCalls atomic.Int32
	unloadCalls atomic.Int32
	closed      atomic.Bool
}

func newFake(name string) *fakePlugin {
	return &fakePlugin{
		info:      &api.Descriptor{Name: name, Version: "1.0.0"},
		useUnload: true,
	}
}

func (p *fakePlugin) Info() *api.Descriptor { return p.info }

func (p *fakePlugin) LoadPreStage() bool { return call(p.pre) }

func (p *fakePlugin) LoadNormalStage() bool {
	p.normalCalls.Add(1)
	return call(p.normal)
}

func (p *fakePlugin) LoadPostStage() bool { return call(p.post) }

func (p *fakePlugin) Unload() bool {
	p.unloadCalls.Add(1)
	return call(p.unload)
}

func (p *fakePlugin) UseUnload() bool      { return p.useUnload }
func (p *fakePlugin) ErrorMessage() string { return p.message }
func (p *fakePlugin) UpdateNeeded() bool   { return p.updateNeeded }
func (p *fakePlugin) DownloadURL() string  { return p.downloadURL }

func (p *fakePlugin) Close() error {
	p.closed.Store(true)
	return nil
}

func call(fn func() bool) bool {
	if fn == nil {
		return true
	}
	return fn()
}

// stagedPlugin adds stage declarations to a fakePlugin.
type stagedPlugin struct {
	*fakePlugin
	decls []api.StageDeclaration
}

func (p *stagedPlugin) LoadStages() []api.StageDeclaration { return p.decls }

func staged(name string, decls ...api.StageDeclaration) *stagedPlugin {
	return &stagedPlugin{fakePlugin: newFake(name), decls: decls}
}

// panickyPlugin panics from the contract queries named in panics.
type panickyPlugin struct {
	*fakePlugin
	panics map[string]bool
}

func panicky(name string, methods ...string) *panickyPlugin {
	p := &panickyPlugin{fakePlugin: newFake(name), panics: make(map[string]bool)}
	p.panicOn(methods...)
	return p
}

func (p *panickyPlugin) panicOn(methods ...string) {
	for _, m := range methods {
		p.panics[m] = true
	}
}

func (p *panickyPlugin) maybePanic(method string) {
	if p.panics[method] {
		panic(method + " exploded")
	}
}

func (p *panickyPlugin) Info() *api.Descriptor {
	p.maybePanic("info")
	return p.fakePlugin.Info()
}

func (p *panickyPlugin) LoadStages() []api.StageDeclaration {
	p.maybePanic("load_stages")
	return nil
}

func (p *panickyPlugin) UpdateNeeded() bool {
	p.maybePanic("update_needed")
	return p.fakePlugin.UpdateNeeded()
}

func (p *panickyPlugin) DownloadURL() string {
	p.maybePanic("download_url")
	return p.fakePlugin.DownloadURL()
}

func (p *panickyPlugin) Close() error {
	p.maybePanic("close")
	return p.fakePlugin.Close()
}

// noticeRecorder collects notices.
type noticeRecorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *noticeRecorder) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *noticeRecorder) all() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notice, len(r.notices))
	copy(out, r.notices)
	return out
}

func (r *noticeRecorder) last(t *testing.T) Notice {
	t.Helper()
	all := r.all()
	require.NotEmpty(t, all, "no notices recorded")
	return all[len(all)-1]
}

type testEnv struct {
	registry *Registry
	bus      *event.Bus
	manager  *Manager
	notices  *noticeRecorder
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	env := &testEnv{
		registry: NewRegistry(),
		bus:      event.NewBus(),
		notices:  &noticeRecorder{},
	}
	opts = append([]Option{WithNotifier(env.notices), WithPaneTimeout(time.Second)}, opts...)

	m, err := NewManager(env.registry, env.bus, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	env.manager = m
	return env
}

// register adds c to the registry directly.
func (e *testEnv) register(t *testing.T, c api.Contract) *Handle {
	t.Helper()
	h := NewHandle(c)
	require.True(t, e.registry.Add(h), "plugin %q already registered", h.Name())
	return h
}

// headless answers every install request with a pane-ready event, as a
// renderer that builds panes instantly would.
func (e *testEnv) headless(t *testing.T) {
	t.Helper()
	_, err := e.bus.SubscribeFunc(event.TopicInstallRequested, func(ctx context.Context, ev event.Event) error {
		return e.bus.Publish(ctx, event.PaneReady(ev.Plugin))
	})
	require.NoError(t, err)
}

// count counts events published on topic.
func (e *testEnv) count(t *testing.T, topic event.Topic) *atomic.Int32 {
	t.Helper()
	var n atomic.Int32
	_, err := e.bus.SubscribeFunc(topic, func(ctx context.Context, ev event.Event) error {
		n.Add(1)
		return nil
	})
	require.NoError(t, err)
	return &n
}

// fakeOpener opens ".fake" bundles: text files with one entry per line.
//
//	plugin NAME   entry yields a plugin named NAME
//	noname        entry yields a plugin with a blank name
//	skip          entry has no factory
//	fail          factory returns an error
//	panic         factory panics
//
// A file starting with "corrupt" cannot be opened.
type fakeOpener struct {
	opened atomic.Int32
}

func (o *fakeOpener) Ext() string { return ".fake" }

func (o *fakeOpener) Open(path string) (Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(string(data), "corrupt") {
		return nil, os.ErrInvalid
	}
	o.opened.Add(1)

	b := &fakeBundle{}
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			b.entries = append(b.entries, &fakeEntry{line: line})
		}
	}
	return b, nil
}

type fakeBundle struct {
	entries []Entry
	closed  atomic.Bool
}

func (b *fakeBundle) Entries() ([]Entry, error) { return b.entries, nil }

func (b *fakeBundle) Close() error {
	b.closed.Store(true)
	return nil
}

type fakeEntry struct {
	line string
}

func (e *fakeEntry) Name() string { return e.line }

func (e *fakeEntry) Instantiate() (api.Contract, error) {
	fields := strings.Fields(e.line)
	switch fields[0] {
	case "plugin":
		return newFake(fields[1]), nil
	case "noname":
		return newFake(""), nil
	case "fail":
		return nil, os.ErrPermission
	case "panic":
		panic("factory exploded")
	default:
		return nil, nil
	}
}

func writeBundle(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0644))
	return path
}
