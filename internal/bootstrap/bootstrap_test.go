package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, watched, metaDir, shardDir string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "rs_guard.toml")
	body := `
watched_directories = ["` + watched + `"]
data_shards = 2
parity_shards = 1
stripe_size = 4096
check_interval_secs = 3600
metadata_dir = "` + metaDir + `"
shard_dir = "` + shardDir + `"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadWiresEverySubsystem(t *testing.T) {
	watched := t.TempDir()
	metaDir := filepath.Join(t.TempDir(), "meta")
	shardDir := filepath.Join(t.TempDir(), "shards")
	cfgPath := writeConfig(t, watched, metaDir, shardDir)

	sys, err := Load(cfgPath)
	require.NoError(t, err)
	defer sys.Close()

	assert.NotNil(t, sys.Engine)
	assert.NotNil(t, sys.Facade)
	assert.NotNil(t, sys.Checker)
	assert.NotNil(t, sys.Repair)
	assert.DirExists(t, metaDir)
	assert.DirExists(t, shardDir)
}

func TestRunProtectsAnExistingFileThenStopsOnCancel(t *testing.T) {
	watched := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(watched, "a.txt"), []byte("hello world"), 0o644))

	metaDir := filepath.Join(t.TempDir(), "meta")
	shardDir := filepath.Join(t.TempDir(), "shards")
	cfgPath := writeConfig(t, watched, metaDir, shardDir)

	sys, err := Load(cfgPath)
	require.NoError(t, err)
	defer sys.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sys.Run(ctx)
		close(done)
	}()

	// The startup reconciliation walk (watcher.Run's fullWalk) synthesizes
	// a Create event for the pre-existing file without requiring an fsnotify
	// event to fire.
	require.Eventually(t, func() bool {
		files, err := sys.Facade.ListFiles()
		return err == nil && len(files) == 1
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
