package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsguard/rs_guard/internal/rserrors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "rs_guard.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadValidConfigAppliesDefaults(t *testing.T) {
	root := t.TempDir()
	path := writeConfig(t, `
watched_directories = ["`+root+`"]
data_shards = 4
parity_shards = 2
metadata_dir = "/var/lib/rs_guard/meta"
shard_dir = "/var/lib/rs_guard/shards"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.DataShards)
	assert.Equal(t, 2, cfg.ParityShards)
	assert.EqualValues(t, defaultStripeSize, cfg.StripeSize)
	assert.EqualValues(t, defaultCheckIntervalS, cfg.CheckInterval.Seconds())
	assert.Equal(t, defaultCheckerWorkers, cfg.CheckerWorkers)
	assert.Equal(t, defaultEncoderWorkers, cfg.EncoderWorkers)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, defaultCheckerIOPerSec, cfg.CheckerIOPerSec)
}

func TestLoadOverlappingRootsIsFatal(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "sub")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	path := writeConfig(t, `
watched_directories = ["`+root+`", "`+sub+`"]
data_shards = 4
parity_shards = 2
metadata_dir = "/meta"
shard_dir = "/shards"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, rserrors.Is(err, rserrors.KindConfig))
}

func TestLoadTooManyShardsIsFatal(t *testing.T) {
	root := t.TempDir()
	path := writeConfig(t, `
watched_directories = ["`+root+`"]
data_shards = 200
parity_shards = 100
metadata_dir = "/meta"
shard_dir = "/shards"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, rserrors.Is(err, rserrors.KindConfig))
}

func TestLoadMissingWatchedDirectoriesIsFatal(t *testing.T) {
	path := writeConfig(t, `
data_shards = 4
parity_shards = 2
metadata_dir = "/meta"
shard_dir = "/shards"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, rserrors.Is(err, rserrors.KindConfig))
}

func TestLoadMissingFileIsFatal(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.Error(t, err)
	assert.True(t, rserrors.Is(err, rserrors.KindConfig))
}

func TestLoadWatchFilterAppliesToMatchingRoot(t *testing.T) {
	root := t.TempDir()
	path := writeConfig(t, `
watched_directories = ["`+root+`"]
data_shards = 4
parity_shards = 2
metadata_dir = "/meta"
shard_dir = "/shards"

[[watch_filter]]
root = "`+root+`"
excludes = ["tmp"]
includes = ["important"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	spec, ok := cfg.PathFilters[cfg.WatchedRoots[0]]
	require.True(t, ok)
	assert.Equal(t, []string{"tmp"}, spec.Excludes)
	assert.Equal(t, []string{"important"}, spec.Includes)
}

func TestLoadWatchFilterForUnknownRootIsFatal(t *testing.T) {
	root := t.TempDir()
	other := t.TempDir()
	path := writeConfig(t, `
watched_directories = ["`+root+`"]
data_shards = 4
parity_shards = 2
metadata_dir = "/meta"
shard_dir = "/shards"

[[watch_filter]]
root = "`+other+`"
excludes = ["tmp"]
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, rserrors.Is(err, rserrors.KindConfig))
}

func TestLoadZeroDataShardsIsFatal(t *testing.T) {
	root := t.TempDir()
	path := writeConfig(t, `
watched_directories = ["`+root+`"]
data_shards = 0
parity_shards = 2
metadata_dir = "/meta"
shard_dir = "/shards"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, rserrors.Is(err, rserrors.KindConfig))
}
