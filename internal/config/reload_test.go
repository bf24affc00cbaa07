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

func writeConfig(t *testing.T, path, listen string) {
	t.Helper()
	content := "listen: \"" + listen + "\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestHolderReloadSwapsConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, ":9000")

	loader := NewLoader(path, "test")
	initial, err := loader.Load()
	require.NoError(t, err)

	holder := NewHolder(initial, loader, path)
	assert.Equal(t, ":9000", holder.Current().Listen)

	writeConfig(t, path, ":9001")
	require.NoError(t, holder.Reload(context.Background()))
	assert.Equal(t, ":9001", holder.Current().Listen)
}

func TestHolderReloadKeepsOldOnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, ":9000")

	loader := NewLoader(path, "test")
	initial, err := loader.Load()
	require.NoError(t, err)
	holder := NewHolder(initial, loader, path)

	// Break the file: unknown key fails the strict parser.
	require.NoError(t, os.WriteFile(path, []byte("bogus_key: 1\n"), 0o600))
	require.Error(t, holder.Reload(context.Background()))
	assert.Equal(t, ":9000", holder.Current().Listen, "failed reload must keep the old config")
}

func TestHolderNotifiesListeners(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, ":9000")

	loader := NewLoader(path, "test")
	initial, err := loader.Load()
	require.NoError(t, err)
	holder := NewHolder(initial, loader, path)

	ch := make(chan AppConfig, 1)
	holder.RegisterListener(ch)

	writeConfig(t, path, ":9002")
	require.NoError(t, holder.Reload(context.Background()))

	select {
	case got := <-ch:
		assert.Equal(t, ":9002", got.Listen)
	case <-time.After(time.Second):
		t.Fatal("listener was not notified")
	}
}

func TestHolderWatcherPicksUpFileChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, ":9000")

	loader := NewLoader(path, "test")
	initial, err := loader.Load()
	require.NoError(t, err)
	holder := NewHolder(initial, loader, path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, holder.StartWatcher(ctx))
	defer holder.Stop()

	writeConfig(t, path, ":9003")

	assert.Eventually(t, func() bool {
		return holder.Current().Listen == ":9003"
	}, 5*time.Second, 50*time.Millisecond, "watcher should reload after file change")
}

func TestHolderWatcherDisabledWithoutPath(t *testing.T) {
	holder := NewHolder(Defaults(), NewLoader("", "test"), "")
	require.NoError(t, holder.StartWatcher(context.Background()))
	holder.Stop()
}
