package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/comfort.gate/internal/monitoring"
)

func waitReload(t *testing.T, w *Watcher) Reload {
	t.Helper()
	select {
	case r, ok := <-w.Updates():
		require.True(t, ok, "updates closed")
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
		return Reload{}
	}
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	original := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = original })

	dir := t.TempDir()
	path := filepath.Join(dir, "tuning.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0644))

	w, err := NewWatcher(path, 100*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, os.WriteFile(path, []byte(`{"velocity_weight": 0.1}`), 0644))
	r := waitReload(t, w)
	require.NoError(t, r.Err)
	assert.Equal(t, 0.1, r.Config.VelocityWeight)

	require.NoError(t, os.WriteFile(path, []byte(`{"velocity_weight": -1}`), 0644))
	r = waitReload(t, w)
	assert.Error(t, r.Err)

	// other files in the directory are ignored
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte(`{}`), 0644))
	select {
	case r := <-w.Updates():
		t.Fatalf("unexpected reload %+v", r)
	case <-time.After(300 * time.Millisecond):
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	_, ok := <-w.Updates()
	assert.False(t, ok)
}

func TestNewWatcher_MissingDirectory(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "nope", "tuning.json"), 0)
	assert.Error(t, err)
}
