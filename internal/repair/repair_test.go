package repair

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsguard/rs_guard/internal/checker"
	"github.com/rsguard/rs_guard/internal/codec"
	"github.com/rsguard/rs_guard/internal/config"
	"github.com/rsguard/rs_guard/internal/engine"
	"github.com/rsguard/rs_guard/internal/metadata"
	"github.com/rsguard/rs_guard/internal/shardstore"
)

func newTestSetup(t *testing.T, root string) (*engine.Engine, *checker.Checker, *Engine) {
	t.Helper()
	c, err := codec.New(4, 2)
	require.NoError(t, err)
	ss, err := shardstore.Open(filepath.Join(t.TempDir(), "shards"))
	require.NoError(t, err)
	ms, err := metadata.Open(filepath.Join(t.TempDir(), "meta.db"), func(hash string) error {
		return ss.Delete(shardstore.Key(hash))
	})
	require.NoError(t, err)
	t.Cleanup(func() { ms.Close() })

	cfg := &config.Config{
		WatchedRoots: []string{root},
		DataShards:   4,
		ParityShards: 2,
		StripeSize:   1024,
	}
	eng := engine.New(cfg, c, ss, ms, nil)
	chk := checker.New(eng, 2, 1000, nil)
	rep := New(eng, nil)
	return eng, chk, rep
}

func mustAbs(t *testing.T, path string) string {
	t.Helper()
	abs, err := filepath.Abs(path)
	require.NoError(t, err)
	return filepath.Clean(abs)
}

func blobPath(t *testing.T, eng *engine.Engine, key string) string {
	t.Helper()
	require.True(t, len(key) >= 2)
	return filepath.Join(eng.Shards().Root(), key[:2], key[2:])
}

func TestRepairReconstructsMissingParityBlob(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.bin")
	require.NoError(t, os.WriteFile(path, []byte("some file content to protect over one stripe"), 0o644))

	eng, chk, rep := newTestSetup(t, root)
	require.NoError(t, eng.Protect(path))

	fileID := engine.FileID(mustAbs(t, path))
	rec, ok, err := eng.Meta().Get(fileID)
	require.NoError(t, err)
	require.True(t, ok)

	blobKey := rec.BlobShardHashes()[0]
	require.NoError(t, os.Remove(blobPath(t, eng, blobKey)))

	summary, err := chk.RunSweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Damaged)

	require.NoError(t, rep.RepairFile(context.Background(), fileID))

	rec2, ok, err := eng.Meta().Get(fileID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, metadata.StatusProtected, rec2.Status)
	assert.True(t, eng.Shards().Exists(shardstore.Key(blobKey)))
}

func TestRepairRewritesCorruptedDataShardInPlace(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.bin")
	original := []byte("some file content to protect over one stripe!!!")
	require.NoError(t, os.WriteFile(path, original, 0o644))

	eng, chk, rep := newTestSetup(t, root)
	require.NoError(t, eng.Protect(path))

	fileID := engine.FileID(mustAbs(t, path))
	rec, ok, err := eng.Meta().Get(fileID)
	require.NoError(t, err)
	require.True(t, ok)

	loc := rec.Stripes[0].ShardLocations[0]
	require.Equal(t, metadata.LocationInline, loc.Kind)

	corrupted := append([]byte(nil), original...)
	corrupted[loc.Offset] ^= 0xFF
	require.NoError(t, os.WriteFile(path, corrupted, 0o644))

	summary, err := chk.RunSweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Damaged)

	require.NoError(t, rep.RepairFile(context.Background(), fileID))

	rec2, ok, err := eng.Meta().Get(fileID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, metadata.StatusProtected, rec2.Status)
	// The data shard's location is still Inline: repair rewrote the
	// file's own bytes rather than retargeting the shard to blob storage.
	assert.Equal(t, metadata.LocationInline, rec2.Stripes[0].ShardLocations[0].Kind)

	fixed, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, fixed)
}

func TestRepairDeclaresUnrecoverableWhenTooManyShardsBad(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.bin")
	require.NoError(t, os.WriteFile(path, []byte("content that spans exactly one stripe worth"), 0o644))

	eng, chk, rep := newTestSetup(t, root)
	require.NoError(t, eng.Protect(path))

	fileID := engine.FileID(mustAbs(t, path))
	rec, ok, err := eng.Meta().Get(fileID)
	require.NoError(t, err)
	require.True(t, ok)

	blobKeys := rec.BlobShardHashes()
	require.GreaterOrEqual(t, len(blobKeys), 2)
	// Remove both parity blobs of stripe 0, the file's only stripe. On
	// their own they are within P=2 tolerance (the four data shards, D,
	// remain); combined with the data-shard loss below they are not.
	for _, k := range blobKeys[:2] {
		require.NoError(t, os.Remove(blobPath(t, eng, k)))
	}
	// Also remove the original file entirely so its inline data shards
	// are unreadable, leaving fewer than D good shards for the stripe.
	require.NoError(t, os.Remove(path))

	_, err = chk.RunSweep(context.Background())
	require.NoError(t, err)

	rec3, ok, err := eng.Meta().Get(fileID)
	require.NoError(t, err)
	require.True(t, ok)
	if rec3.Status == metadata.StatusDamaged {
		require.NoError(t, rep.RepairFile(context.Background(), fileID))
		rec3, ok, err = eng.Meta().Get(fileID)
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.Equal(t, metadata.StatusUnrecoverable, rec3.Status)
}

func TestRepairNoopWhenAlreadyFixed(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.bin")
	require.NoError(t, os.WriteFile(path, []byte("fine file"), 0o644))

	eng, _, rep := newTestSetup(t, root)
	require.NoError(t, eng.Protect(path))

	fileID := engine.FileID(mustAbs(t, path))
	// Status is Protected, not Damaged: RepairFile should be a no-op.
	require.NoError(t, rep.RepairFile(context.Background(), fileID))

	rec, ok, err := eng.Meta().Get(fileID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, metadata.StatusProtected, rec.Status)
}

func TestRepairOfUnknownFileIsNoop(t *testing.T) {
	root := t.TempDir()
	_, _, rep := newTestSetup(t, root)
	assert.NoError(t, rep.RepairFile(context.Background(), "does-not-exist"))
}
