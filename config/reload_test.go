package config

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/syranol/inference-gateway/testutil"
)

func newTestReloader(t *testing.T, content string) (*Reloader, string) {
	t.Helper()
	path := writeConfig(t, content)
	loader := NewLoader().WithConfigPath(path)
	initial, err := loader.Load()
	require.NoError(t, err)
	return NewReloader(loader, initial, zaptest.NewLogger(t)), path
}

func TestReloader_AppliesModelChanges(t *testing.T) {
	r, path := newTestReloader(t, "models:\n  allow: [\"a\"]\n")
	assert.Equal(t, []string{"a"}, r.Current().Models.Allow)

	var calls atomic.Int32
	r.OnReload(func(oldCfg, newCfg *Config) {
		calls.Add(1)
		assert.Equal(t, []string{"a"}, oldCfg.Models.Allow)
		assert.Equal(t, []string{"a", "b"}, newCfg.Models.Allow)
	})

	touch(t, path, "models:\n  allow: [\"a\", \"b\"]\n  summary_default: s\n", time.Second)
	require.NoError(t, r.Reload())

	assert.Equal(t, []string{"a", "b"}, r.Current().Models.Allow)
	assert.Equal(t, "s", r.Current().Models.SummaryDefault)
	assert.Equal(t, int32(1), calls.Load())
}

func TestReloader_RestartOnlySectionsAreNotApplied(t *testing.T) {
	r, path := newTestReloader(t, "server:\n  http_port: 8000\n")

	touch(t, path, "server:\n  http_port: 9000\n", time.Second)
	require.NoError(t, r.Reload())

	assert.Equal(t, 8000, r.Current().Server.HTTPPort)
}

func TestReloader_InvalidConfigKeepsCurrent(t *testing.T) {
	r, path := newTestReloader(t, "models:\n  allow: [\"a\"]\n")
	before := r.Current()

	touch(t, path, "upstream:\n  base_url: \"not a url\"\nmodels:\n  allow: [\"z\"]\n", time.Second)
	assert.Error(t, r.Reload())
	assert.Same(t, before, r.Current())

	touch(t, path, "models: [broken", 2*time.Second)
	assert.Error(t, r.Reload())
	assert.Same(t, before, r.Current())
}

func TestReloader_CallbackPanicIsContained(t *testing.T) {
	r, path := newTestReloader(t, "models:\n  allow: [\"a\"]\n")
	r.OnReload(func(_, _ *Config) { panic("boom") })

	touch(t, path, "models:\n  allow: [\"b\"]\n", time.Second)
	assert.NotPanics(t, func() { require.NoError(t, r.Reload()) })
	assert.Equal(t, []string{"b"}, r.Current().Models.Allow)
}

func TestReloader_WatchesFile(t *testing.T) {
	r, path := newTestReloader(t, "models:\n  allow: [\"a\"]\n")

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, r.Start(ctx,
		WithPollInterval(20*time.Millisecond),
		WithDebounceDelay(20*time.Millisecond)))
	t.Cleanup(r.Stop)

	touch(t, path, "models:\n  allow: [\"c\"]\n", 2*time.Second)

	testutil.AssertEventuallyEqual(t, []string{"c"}, func() any {
		return r.Current().Models.Allow
	}, 3*time.Second)
}

func TestReloader_StartWithoutFileIsNoop(t *testing.T) {
	r := NewReloader(NewLoader(), DefaultConfig(), nil)
	require.NoError(t, r.Start(context.Background()))
	r.Stop()
}
