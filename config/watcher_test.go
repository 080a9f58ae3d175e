package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/syranol/inference-gateway/testutil"
)

// touch rewrites the file with a strictly later modification time
func touch(t *testing.T, path, content string, offset time.Duration) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	ts := time.Now().Add(offset)
	require.NoError(t, os.Chtimes(path, ts, ts))
}

// --- Constructor ---

func TestNewFileWatcher_Defaults(t *testing.T) {
	f := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(f, []byte("key: val"), 0644))

	w, err := NewFileWatcher(f)
	require.NoError(t, err)

	assert.False(t, w.IsRunning())
	assert.Equal(t, 100*time.Millisecond, w.debounceDelay)
	assert.Equal(t, time.Second, w.pollInterval)
}

func TestNewFileWatcher_WithOptions(t *testing.T) {
	f := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(f, []byte("key: val"), 0644))

	w, err := NewFileWatcher(f,
		WithDebounceDelay(500*time.Millisecond),
		WithPollInterval(20*time.Millisecond),
		WithWatcherLogger(zap.NewNop()),
	)
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, w.debounceDelay)
	assert.Equal(t, 20*time.Millisecond, w.pollInterval)
}

func TestNewFileWatcher_NonExistentPathIsAllowed(t *testing.T) {
	w, err := NewFileWatcher("/nonexistent/path/gateway.yaml")
	require.NoError(t, err)
	require.NotNil(t, w)
}

func TestNewFileWatcher_EmptyPath(t *testing.T) {
	_, err := NewFileWatcher("")
	assert.Error(t, err)
}

// --- Lifecycle ---

func TestFileWatcher_Lifecycle(t *testing.T) {
	f := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(f, []byte("key: val"), 0644))

	w, err := NewFileWatcher(f, WithDebounceDelay(50*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, w.Start(ctx))
	assert.True(t, w.IsRunning())

	err = w.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	w.Stop()
	assert.False(t, w.IsRunning())
	w.Stop()
}

// --- Change detection ---

func TestFileWatcher_DetectsWrite(t *testing.T) {
	f := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(f, []byte("v1"), 0644))

	w, err := NewFileWatcher(f,
		WithPollInterval(20*time.Millisecond),
		WithDebounceDelay(20*time.Millisecond))
	require.NoError(t, err)

	var mu sync.Mutex
	var events []FileEvent
	w.OnChange(func(evt FileEvent) {
		mu.Lock()
		events = append(events, evt)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, w.Start(ctx))
	t.Cleanup(w.Stop)

	touch(t, f, "v2", 2*time.Second)

	testutil.AssertEventuallyTrue(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) > 0
	}, 2*time.Second)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, events)
	assert.Equal(t, f, events[0].Path)
	assert.Equal(t, FileOpWrite, events[0].Op)
}

func TestFileWatcher_CheckCreateAndRemove(t *testing.T) {
	f := filepath.Join(t.TempDir(), "later.yaml")

	w, err := NewFileWatcher(f)
	require.NoError(t, err)

	_, changed := w.check()
	assert.False(t, changed)

	require.NoError(t, os.WriteFile(f, []byte("x"), 0644))
	evt, changed := w.check()
	require.True(t, changed)
	assert.Equal(t, FileOpCreate, evt.Op)

	_, changed = w.check()
	assert.False(t, changed)

	require.NoError(t, os.Remove(f))
	evt, changed = w.check()
	require.True(t, changed)
	assert.Equal(t, FileOpRemove, evt.Op)
}

// TestFileWatcher_DispatchCoalesces verifies that events arriving inside the
// debounce window produce a single callback carrying the latest event.
func TestFileWatcher_DispatchCoalesces(t *testing.T) {
	w, err := NewFileWatcher(filepath.Join(t.TempDir(), "c.yaml"), WithDebounceDelay(50*time.Millisecond))
	require.NoError(t, err)

	var mu sync.Mutex
	var got []FileEvent
	w.OnChange(func(evt FileEvent) {
		mu.Lock()
		got = append(got, evt)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	events := make(chan FileEvent)
	go w.dispatchLoop(ctx, events)

	events <- FileEvent{Op: FileOpCreate}
	time.Sleep(5 * time.Millisecond)
	events <- FileEvent{Op: FileOpWrite}
	time.Sleep(5 * time.Millisecond)
	events <- FileEvent{Op: FileOpWrite}

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, FileOpWrite, got[0].Op)
}

func TestFileOp_String(t *testing.T) {
	assert.Equal(t, "CREATE", FileOpCreate.String())
	assert.Equal(t, "WRITE", FileOpWrite.String())
	assert.Equal(t, "REMOVE", FileOpRemove.String())
	assert.Equal(t, "UNKNOWN", FileOp(42).String())
}
