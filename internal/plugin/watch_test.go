package plugin

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_DiscoversNewBundles(t *testing.T) {
	d, reg, _, _ := newTestDiscoverer(t)
	dir := t.TempDir()

	var mu sync.Mutex
	var scanned []string
	w, err := NewWatcher(d, dir,
		WithRetry(func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(10*time.Millisecond), 3)
		}),
		OnDiscovered(func(path string, r *DiscoveryResult) {
			mu.Lock()
			defer mu.Unlock()
			scanned = append(scanned, filepath.Base(path))
		}),
	)
	require.NoError(t, err)
	defer w.Close()

	writeBundle(t, dir, "late.fake", "plugin Late")
	writeBundle(t, dir, "notes.txt", "plugin Ignored")

	require.Eventually(t, func() bool { return reg.Exists("Late") }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, reg.Exists("Ignored"))

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, scanned, "late.fake")
	assert.NotContains(t, scanned, "notes.txt")
}

func TestWatcher_RetriesUnreadableBundle(t *testing.T) {
	d, reg, _, _ := newTestDiscoverer(t)
	dir := t.TempDir()

	w, err := NewWatcher(d, dir, WithRetry(func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(20*time.Millisecond), 50)
	}))
	require.NoError(t, err)
	defer w.Close()

	// A bundle that is unreadable at first, then completed.
	path := writeBundle(t, dir, "slow.fake", "corrupt")
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("plugin Slow"), 0644))

	require.Eventually(t, func() bool { return reg.Exists("Slow") }, 3*time.Second, 10*time.Millisecond)
}

func TestNewWatcher_Errors(t *testing.T) {
	d, _, _, _ := newTestDiscoverer(t)

	_, err := NewWatcher(d, filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	file := writeBundle(t, t.TempDir(), "x.fake", "plugin X")
	_, err = NewWatcher(d, file)
	assert.ErrorIs(t, err, ErrNotADirectory)
}

func TestWatcher_CloseIsIdempotent(t *testing.T) {
	d, _, _, _ := newTestDiscoverer(t)
	w, err := NewWatcher(d, t.TempDir())
	require.NoError(t, err)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}
