package lua_test

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/plughost/api"
	"github.com/dshills/plughost/internal/event"
	"github.com/dshills/plughost/internal/plugin"
	"github.com/dshills/plughost/internal/plugin/lua"
)

type host struct {
	registry   *plugin.Registry
	bus        *event.Bus
	discoverer *plugin.Discoverer
	manager    *plugin.Manager

	mu      sync.Mutex
	notices []plugin.Notice
}

func (h *host) Notify(n plugin.Notice) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notices = append(h.notices, n)
}

func (h *host) headers() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.notices))
	for _, n := range h.notices {
		out = append(out, n.Header)
	}
	return out
}

// newHost wires a discoverer and manager around the Lua opener and answers
// install requests with a pane.
func newHost(t *testing.T) *host {
	t.Helper()
	h := &host{registry: plugin.NewRegistry(), bus: event.NewBus()}

	opts := []plugin.Option{
		plugin.WithNotifier(h),
		plugin.WithOpeners(lua.NewOpener()),
		plugin.WithPaneTimeout(time.Second),
	}
	h.discoverer = plugin.NewDiscoverer(h.registry, opts...)

	m, err := plugin.NewManager(h.registry, h.bus, opts...)
	require.NoError(t, err)
	h.manager = m

	_, err = h.bus.SubscribeFunc(event.TopicInstallRequested, func(ctx context.Context, ev event.Event) error {
		if err := h.registry.AttachPane(ev.Plugin, "pane:"+ev.Plugin); err != nil {
			return err
		}
		return h.bus.Publish(ctx, event.PaneReady(ev.Plugin))
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		m.Close()
		h.discoverer.Close()
		h.bus.Close()
	})
	return h
}

func writeBundle(t *testing.T, dir, name string, files map[string]string, order ...string) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, name))
	require.NoError(t, err)
	defer f.Close()

	w := zip.NewWriter(f)
	for _, entry := range order {
		fw, err := w.Create(entry)
		require.NoError(t, err)
		_, err = fw.Write([]byte(files[entry]))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
}

const samplePlugin = `
function new_plugin()
  return {
    info = { name = "Sample", version = "1.0.0", kind = "tool", author = "jg", company = "Acme" },
    stages = { "NORMAL_LOAD", "POST_LOAD" },
    post_ran = false,
    load_normal = function(self) return true end,
    load_post = function(self) self.post_ran = true; return true end,
    unload = function(self) return true end,
  }
end
`

const brokenPlugin = `
function new_plugin()
  return {
    info = { name = "Broken", version = "0.1.0" },
    load_normal = function(self) error("no pane for you") end,
    unload = function(self) return true end,
  }
end
`

func TestLuaPluginLifecycle(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, "a-sample.zip", map[string]string{
		"util.lua": `helper = 1`,
		"main.lua": samplePlugin,
	}, "util.lua", "main.lua")
	writeBundle(t, dir, "b-broken.zip", map[string]string{"main.lua": brokenPlugin}, "main.lua")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c-corrupt.zip"), []byte("garbage"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	h := newHost(t)
	ctx := context.Background()

	result, err := h.discoverer.Discover(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"Sample", "Broken"}, result.Registered)
	require.Len(t, result.Errors, 1)
	assert.ErrorIs(t, result.Errors[0], plugin.ErrBundleRead)

	// Install and uninstall the healthy plugin.
	assert.Equal(t, plugin.StatusNoError, h.manager.Install(ctx, "Sample"))
	assert.True(t, h.manager.IsInstalled("Sample"))
	pane, ok := h.registry.Pane("Sample")
	require.True(t, ok)
	assert.Equal(t, "pane:Sample", pane)

	info, err := h.manager.InfoString("Sample")
	require.NoError(t, err)
	assert.Equal(t, "tool Sample 1.0.0 by Acme(jg) - Current", info)

	failed, err := h.manager.RunStage(ctx, api.PostLoad)
	require.NoError(t, err)
	assert.Empty(t, failed)

	assert.Equal(t, plugin.StatusAlreadyInstalled, h.manager.Install(ctx, "Sample"))
	assert.Equal(t, plugin.StatusNoError, h.manager.Uninstall(ctx, "Sample"))
	assert.False(t, h.manager.IsInstalled("Sample"))
	assert.True(t, h.manager.IsLoaded("Sample"))

	// A raising load hook is reported and the plugin removed.
	assert.Equal(t, plugin.StatusLoadingError, h.manager.Install(ctx, "Broken"))
	assert.False(t, h.registry.Exists("Broken"))
	assert.Contains(t, h.headers(), `"Broken" Plugin failed to install! Uncaught Exception!`)
}

func TestLuaPluginRediscovery(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, "sample.zip", map[string]string{"main.lua": samplePlugin}, "main.lua")

	h := newHost(t)
	ctx := context.Background()

	first, err := h.discoverer.Discover(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"Sample"}, first.Registered)

	second, err := h.discoverer.Discover(ctx, dir)
	require.NoError(t, err)
	assert.Empty(t, second.Registered)
	assert.Equal(t, 1, h.registry.Len())
}

func TestSingleLuaBundle(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, "sample.zip", map[string]string{"main.lua": `
function new_plugin()
  return { info = { name = "Sample", version = "1.0.0" } }
end
`}, "main.lua")

	h := newHost(t)
	result, err := h.discoverer.Discover(context.Background(), dir)
	require.NoError(t, err)
	require.Empty(t, result.Errors)

	require.Equal(t, 1, h.registry.Len())
	handle, err := h.registry.Get("Sample")
	require.NoError(t, err)
	assert.Equal(t, plugin.NewStageSet(api.NormalLoad), handle.Stages())
	assert.False(t, handle.IsInstalled())
	assert.Equal(t, plugin.StateDiscovered, handle.State())
}

const flakyPlugin = `
function new_plugin()
  return {
    info = { name = "Flaky", version = "2.0.0", kind = "tool" },
    update_needed = function(self) error("update check exploded") end,
    download_url = "https://example.com/flaky.zip",
  }
end
`

func TestLuaPluginQueryErrorsStayInside(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, "flaky.zip", map[string]string{"main.lua": flakyPlugin}, "main.lua")
	writeBundle(t, dir, "sample.zip", map[string]string{"main.lua": samplePlugin}, "main.lua")

	h := newHost(t)
	result, err := h.discoverer.DiscoverExternal(context.Background(), dir)
	require.NoError(t, err)
	require.Equal(t, []string{"Flaky", "Sample"}, result.Registered)

	info, err := h.manager.InfoString("Flaky")
	require.NoError(t, err)
	assert.Equal(t, "tool Flaky 2.0.0 by NOT_DEFINED(NOT_DEFINED) - Current", info)

	status, err := h.manager.UpdateStatus("Flaky")
	require.NoError(t, err)
	assert.Equal(t, "Current", status)

	got, err := h.manager.Update(context.Background(), "Flaky")
	require.NoError(t, err)
	assert.Equal(t, plugin.UpdateFailed, got)

	f, err := plugin.CompileFilter(`plugin.update_needed || plugin.name == "Sample"`)
	require.NoError(t, err)
	matched, err := f.Apply(h.registry.All())
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "Sample", matched[0].Name())

	// The plugin still installs; only its update query is broken.
	assert.Equal(t, plugin.StatusNoError, h.manager.Install(context.Background(), "Flaky"))
}
