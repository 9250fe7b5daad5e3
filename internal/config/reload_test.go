// SPDX-License-Identifier: MIT
package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, path, logLevel string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path,
		[]byte("logLevel: "+logLevel+"\ntmdb:\n  apiKey: k\n"), 0o600))
}

func newTestHolder(t *testing.T) (*Holder, string, chan Config) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "info")

	cfg, err := Load(path)
	require.NoError(t, err)

	h := NewHolder(cfg, path)
	updates := make(chan Config, 1)
	h.RegisterListener(updates)
	return h, path, updates
}

func TestHolderReloadNotifiesListeners(t *testing.T) {
	h, path, updates := newTestHolder(t)

	writeConfig(t, path, "debug")
	require.NoError(t, h.Reload(context.Background()))

	assert.Equal(t, "debug", h.Current().LogLevel)
	select {
	case got := <-updates:
		assert.Equal(t, "debug", got.LogLevel)
	default:
		t.Fatal("listener was not notified")
	}
}

func TestHolderReloadKeepsOldConfigOnError(t *testing.T) {
	h, path, updates := newTestHolder(t)

	require.NoError(t, os.WriteFile(path, []byte("logLevel: [broken\n"), 0o600))
	require.Error(t, h.Reload(context.Background()))

	assert.Equal(t, "info", h.Current().LogLevel, "invalid file must not replace the running config")
	assert.Empty(t, updates, "listeners must not see a failed reload")
}

func TestHolderReloadKeepsOldConfigOnValidationError(t *testing.T) {
	h, path, _ := newTestHolder(t)

	// Parses fine but fails validation: blank data directory.
	require.NoError(t, os.WriteFile(path,
		[]byte("logLevel: debug\ndataDir: \"  \"\ntmdb:\n  apiKey: k\n"), 0o600))
	require.Error(t, h.Reload(context.Background()))

	assert.Equal(t, "info", h.Current().LogLevel)
}

func TestWatcherReloadsOnFileChange(t *testing.T) {
	h, path, _ := newTestHolder(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.StartWatcher(ctx))

	writeConfig(t, path, "debug")

	// Reload is debounced behind the write event.
	require.Eventually(t, func() bool {
		return h.Current().LogLevel == "debug"
	}, 5*time.Second, 50*time.Millisecond)
}
