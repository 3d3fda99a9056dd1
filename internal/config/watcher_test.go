package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenrelay/internal/store"
)

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logLevel: info\n"), 0600))

	reloaded := make(chan Config, 4)
	w := NewWatcher(path, 100*time.Millisecond, func(c Config) { reloaded <- c })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	// Several quick writes collapse into one reload of the final content.
	require.NoError(t, os.WriteFile(path, []byte("logLevel: warn\n"), 0600))
	require.NoError(t, os.WriteFile(path, []byte("logLevel: debug\n"), 0600))

	select {
	case c := <-reloaded:
		assert.Equal(t, "debug", c.LogLevel)
	case <-time.After(5 * time.Second):
		t.Fatal("configuration was not reloaded")
	}

	select {
	case c := <-reloaded:
		t.Fatalf("unexpected second reload: %+v", c)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_IgnoresInvalidAndUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logLevel: info\n"), 0600))

	reloaded := make(chan Config, 4)
	w := NewWatcher(path, 20*time.Millisecond, func(c Config) { reloaded <- c })
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("logLevel: debug\n"), 0600))
	require.NoError(t, os.WriteFile(path, []byte("logLevel: loud\n"), 0600))

	select {
	case c := <-reloaded:
		t.Fatalf("unexpected reload: %+v", c)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	w := NewWatcher(path, 0, func(Config) {})
	require.NoError(t, w.Start(context.Background()))
	w.Stop()
	w.Stop()
}

func TestRegisterResources(t *testing.T) {
	ctx := context.Background()
	creds, err := store.NewCredentialStore(ctx, store.NewMemoryStore())
	require.NoError(t, err)

	err = RegisterResources(ctx, creds, []ResourceConfig{
		{ResourceServer: "https://a.example.com/", TokenEndpoint: "https://auth.example.com/a"},
		{ResourceServer: "https://b.example.com/", TokenEndpoint: ""},
		{ResourceServer: "https://c.example.com/", TokenEndpoint: "https://auth.example.com/c"},
	})
	assert.Error(t, err, "the entry without a token endpoint is rejected")

	configs, err := creds.ResourceConfigs(ctx)
	require.NoError(t, err)
	assert.Len(t, configs, 2)
}
