package lua

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/plughost/api"
	"github.com/dshills/plughost/internal/plugin"
)

type zipFile struct {
	name, body string
}

// writeZip creates a bundle in dir with files in the given order.
func writeZip(t *testing.T, dir, name string, files ...zipFile) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := zip.NewWriter(f)
	for _, zf := range files {
		fw, err := w.Create(zf.name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(zf.body))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return path
}

const sampleScript = `
function new_plugin()
  return {
    info = {
      name = "Sample", version = "1.0.0", kind = "tool",
      author = "jg", company = "Acme", license = "MIT",
    },
    stages = { "NORMAL_LOAD", { stage = "POST_LOAD", active = false }, { stage = "PRE_LOAD" } },
    loads = 0,

    load_normal = function(self)
      self.loads = self.loads + 1
      return true
    end,
    unload = function(self) return true end,

    error_message = function(self) return "loads=" .. self.loads end,
    update_needed = true,
    download_url = "https://example.com/sample.zip",
  }
end
`

func openSingle(t *testing.T, path string) (plugin.Bundle, []plugin.Entry) {
	t.Helper()
	b, err := NewOpener().Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	entries, err := b.Entries()
	require.NoError(t, err)
	return b, entries
}

func instantiatePlugin(t *testing.T, script string) *Plugin {
	t.Helper()
	path := writeZip(t, t.TempDir(), "p.zip", zipFile{"main.lua", script})
	_, entries := openSingle(t, path)
	require.Len(t, entries, 1)

	c, err := entries[0].Instantiate()
	require.NoError(t, err)
	require.NotNil(t, c)
	p := c.(*Plugin)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestOpenerExt(t *testing.T) {
	assert.Equal(t, ".zip", NewOpener().Ext())
}

func TestOpenerEntries(t *testing.T) {
	path := writeZip(t, t.TempDir(), "b.zip",
		zipFile{"README.md", "docs"},
		zipFile{"lib/", ""},
		zipFile{"lib/util.lua", "x = 1"},
		zipFile{"Main.LUA", sampleScript},
	)
	_, entries := openSingle(t, path)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"lib/util.lua", "Main.LUA"}, names)
}

func TestOpenerOpenCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.zip")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0o644))

	_, err := NewOpener().Open(path)
	assert.Error(t, err)
}

func TestInstantiateSample(t *testing.T) {
	p := instantiatePlugin(t, sampleScript)

	info := p.Info()
	require.NotNil(t, info)
	assert.Equal(t, api.Descriptor{
		Name: "Sample", Version: "1.0.0", Kind: "tool",
		Author: "jg", Company: "Acme", License: "MIT",
	}, *info)
	assert.Equal(t, "main.lua", p.Entry())

	assert.Equal(t, []api.StageDeclaration{
		{Stage: api.NormalLoad, Active: true},
		{Stage: api.PostLoad, Active: false},
		{Stage: api.PreLoad, Active: true},
	}, p.LoadStages())

	assert.True(t, p.LoadNormalStage())
	assert.True(t, p.LoadNormalStage())
	assert.Equal(t, "loads=2", p.ErrorMessage())

	assert.True(t, p.UseUnload())
	assert.True(t, p.Unload())
	assert.True(t, p.UpdateNeeded())
	assert.Equal(t, "https://example.com/sample.zip", p.DownloadURL())

	// Missing hooks succeed.
	assert.True(t, p.LoadPreStage())
	assert.True(t, p.LoadPostStage())

	assert.Equal(t, plugin.NewStageSet(api.NormalLoad, api.PreLoad), plugin.StagesOf(p))
}

func TestInstantiateDefaults(t *testing.T) {
	p := instantiatePlugin(t, `function new_plugin() return { info = { name = "Bare" } } end`)

	assert.Equal(t, "Bare", p.Info().Name)
	assert.Empty(t, p.Info().Version)
	assert.Empty(t, p.LoadStages())
	assert.False(t, p.UseUnload())
	assert.Empty(t, p.ErrorMessage())
	assert.False(t, p.UpdateNeeded())
	assert.Empty(t, p.DownloadURL())
}

func TestInstantiateNoInfo(t *testing.T) {
	p := instantiatePlugin(t, `function new_plugin() return {} end`)
	assert.Nil(t, p.Info())
}

func TestHookResults(t *testing.T) {
	p := instantiatePlugin(t, `
function new_plugin()
  return {
    info = { name = "Hooks" },
    use_unload = false,
    load_pre = function(self) end,
    load_normal = function(self) return false end,
    load_post = function(self) return 1 end,
    unload = function(self) error("unload exploded") end,
  }
end`)

	assert.False(t, p.LoadPreStage(), "no return value is failure")
	assert.False(t, p.LoadNormalStage())
	assert.True(t, p.LoadPostStage())
	assert.False(t, p.UseUnload())


	defer func() {
		r := recover()
		err, ok := r.(error)
		require.True(t, ok, "panic value %v", r)
		assert.Contains(t, err.Error(), "unload exploded")
	}()
	p.Unload()
	t.Fatal("Unload did not panic")
}

func TestInstantiateNotAPlugin(t *testing.T) {
	path := writeZip(t, t.TempDir(), "p.zip", zipFile{"util.lua", `helper = function() return 1 end`})
	_, entries := openSingle(t, path)
	require.Len(t, entries, 1)

	c, err := entries[0].Instantiate()
	assert.NoError(t, err)
	assert.Nil(t, c)
}

func TestInstantiateErrors(t *testing.T) {
	tests := []struct {
		name   string
		script string
		is     error
	}{
		{"syntax", `function new_plugin( return {} end`, nil},
		{"runtime", `error("top level")`, nil},
		{"factory raises", `function new_plugin() error("nope") end`, nil},
		{"returns nothing", `function new_plugin() end`, ErrInvalidPlugin},
		{"returns string", `function new_plugin() return "Sample" end`, ErrInvalidPlugin},
		{"bad stage", `function new_plugin() return { stages = { "LATER" } } end`, ErrInvalidPlugin},
		{"bad stage entry", `function new_plugin() return { stages = { 3 } } end`, ErrInvalidPlugin},
		{"stage table without stage", `function new_plugin() return { stages = { { active = true } } } end`, ErrInvalidPlugin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeZip(t, t.TempDir(), "p.zip", zipFile{"main.lua", tt.script})
			_, entries := openSingle(t, path)
			require.Len(t, entries, 1)

			c, err := entries[0].Instantiate()
			require.Error(t, err)
			assert.Nil(t, c)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}
}

func TestPluginClose(t *testing.T) {
	p := instantiatePlugin(t, sampleScript)
	require.NoError(t, p.Close())
	assert.True(t, p.state.IsClosed())

	// Hooks on a closed plugin raise.
	assert.Panics(t, func() { p.LoadNormalStage() })
}
