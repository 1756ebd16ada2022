package main

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/plughost/internal/plugin"
)

const sampleLua = `
function new_plugin()
  return {
    info = { name = "Sample", version = "1.0.0", kind = "tool", author = "jg", company = "Acme" },
    stages = { "NORMAL_LOAD", "POST_LOAD" },
    update_needed = true,
    download_url = "https://example.com/sample.zip",
    load_normal = function(self) return true end,
    unload = function(self) return true end,
  }
end
`

const lateLua = `
function new_plugin()
  return {
    info = { name = "Late", version = "2.0.0", kind = "theme" },
    stages = { "POST_LOAD" },
  }
end
`

func pluginsDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for name, script := range map[string]string{"sample.zip": sampleLua, "late.zip": lateLua} {
		f, err := os.Create(filepath.Join(dir, name))
		require.NoError(t, err)
		w := zip.NewWriter(f)
		fw, err := w.Create("main.lua")
		require.NoError(t, err)
		_, err = fw.Write([]byte(script))
		require.NoError(t, err)
		require.NoError(t, w.Close())
		require.NoError(t, f.Close())
	}
	return dir
}

// run executes the CLI and returns its stdout.
func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	// Keep the user's environment and config out of the test.
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	var out, errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--plugins-dir", dir, "--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestDiscoverCommand(t *testing.T) {
	out, err := run(t, pluginsDir(t), "discover")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "Sample")
	assert.Contains(t, out, "Late")
	assert.Contains(t, out, "{NORMAL_LOAD, POST_LOAD}")
	assert.Contains(t, out, "2 plugin(s)")
}

func TestDiscoverEmpty(t *testing.T) {
	out, err := run(t, filepath.Join(t.TempDir(), "missing"), "discover")
	require.NoError(t, err)
	assert.Contains(t, out, "No plugins found.")
}

func TestListFilter(t *testing.T) {
	dir := pluginsDir(t)

	out, err := run(t, dir, "list", "--filter", `plugin.kind == "theme"`)
	require.NoError(t, err)
	assert.Contains(t, out, "Late")
	assert.NotContains(t, out, "Sample")

	out, err = run(t, dir, "list", "--installed")
	require.NoError(t, err)
	assert.Contains(t, out, "No plugins found.")

	_, err = run(t, dir, "list", "--filter", "plugin.name ==")
	assert.Error(t, err)
}

func TestInfoCommand(t *testing.T) {
	dir := pluginsDir(t)

	out, err := run(t, dir, "info", "Sample")
	require.NoError(t, err)
	assert.Equal(t, "tool Sample 1.0.0 by Acme(jg) - Needs Update\n", out)

	_, err = run(t, dir, "info", "Ghost")
	assert.ErrorIs(t, err, plugin.ErrPluginNotFound)
}

func TestInstallCommands(t *testing.T) {
	dir := pluginsDir(t)

	out, err := run(t, dir, "install", "Sample")
	require.NoError(t, err)
	assert.Contains(t, out, "Sample: no error")

	out, err = run(t, dir, "install", "Late")
	assert.ErrorIs(t, err, plugin.ErrInvalidStage)
	assert.Contains(t, out, "invalid stage")

	_, err = run(t, dir, "install", "Ghost")
	assert.ErrorIs(t, err, plugin.ErrNotLoaded)

	out, err = run(t, dir, "uninstall", "Sample")
	require.NoError(t, err)
	assert.Contains(t, out, "Sample: no error")
}

func TestUpdateCommand(t *testing.T) {
	dir := pluginsDir(t)

	out, err := run(t, dir, "update", "Sample")
	require.NoError(t, err)
	assert.Equal(t, "Sample: Update Failed\n", out)

	out, err = run(t, dir, "update", "Late")
	require.NoError(t, err)
	assert.Equal(t, "Late: Update Not Needed\n", out)
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := run(t, pluginsDir(t), "--log-level", "loud", "discover")
	assert.Error(t, err)
}
