package reload

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	var reloads atomic.Int32
	w := NewWatcher()
	require.NoError(t, w.Register(path, func() error {
		reloads.Add(1)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to arm before mutating the file.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{"data":[]}`), 0o644))

	require.Eventually(t, func() bool {
		return reloads.Load() >= 1
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestWatcherDebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tokens.txt")
	require.NoError(t, os.WriteFile(path, []byte("a\n"), 0o644))

	var reloads atomic.Int32
	w := NewWatcher()
	require.NoError(t, w.Register(path, func() error {
		reloads.Add(1)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	for range 5 {
		require.NoError(t, os.WriteFile(path, []byte("b\n"), 0o644))
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return reloads.Load() >= 1
	}, 3*time.Second, 20*time.Millisecond)

	// The burst collapsed into far fewer reloads than writes.
	time.Sleep(2 * debounceInterval)
	assert.LessOrEqual(t, reloads.Load(), int32(2))
}

func TestWatcherIgnoresUnregisteredFiles(t *testing.T) {
	dir := t.TempDir()
	watched := filepath.Join(dir, "models.json")
	other := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(watched, []byte("{}"), 0o644))

	var reloads atomic.Int32
	w := NewWatcher()
	require.NoError(t, w.Register(watched, func() error {
		reloads.Add(1)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(other, []byte("x"), 0o644))

	time.Sleep(3 * debounceInterval)
	assert.Equal(t, int32(0), reloads.Load())
}

func TestWatcherWithoutFilesWaitsForCancel(t *testing.T) {
	w := NewWatcher()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
