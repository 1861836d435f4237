// Package shardstore implements C2: a directory-rooted, content-addressed
// blob store for parity shards (and any data shards materialized during
// repair). Keys are hex of the shard's content hash; puts are durable via
// write-to-tempfile-then-rename, matching spec.md §4.2.
//
// Grounded on the teacher's content-addressed DHT shard storage
// (internal/dht/filestorage.go: StoreShard/RetrieveShard keyed by content,
// sentinel not-found errors, fmt.Errorf %w wrapping) generalized from an
// in-memory/DHT-backed store to a real filesystem tree, and on
// bureau-foundation-bureau/lib/artifact/store.go's flushContainer and
// ContainerPath for the tempfile+fsync+rename durability idiom and the
// sharded directory fan-out, here a single level named by the first two
// hex characters of the key.
package shardstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rsguard/rs_guard/internal/rserrors"
)

// Store is a content-addressed blob store rooted at a directory. Blobs are
// sharded by the first byte of their hash (2 hex chars) to keep directory
// fan-out bounded, per spec.md §6's persisted-layout table.
type Store struct {
	root string
}

// Open ensures root exists and returns a Store rooted there.
func Open(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("shardstore: create root %s: %w", root, err)
	}
	return &Store{root: root}, nil
}

// Root returns the directory this store is rooted at.
func (s *Store) Root() string { return s.root }

// Key is the hex-encoded content hash used to name a blob.
type Key string

// HashKey computes the content-addressed Key for a shard's bytes.
func HashKey(data []byte) Key {
	sum := sha256.Sum256(data)
	return Key(hex.EncodeToString(sum[:]))
}

func (s *Store) pathFor(key Key) (string, error) {
	k := string(key)
	if len(k) < 2 {
		return "", fmt.Errorf("shardstore: malformed key %q", k)
	}
	return filepath.Join(s.root, k[:2], k[2:]), nil
}

// Put writes bytes to a unique on-disk name derived from their content
// hash and returns that Key. The write is durable: it writes to a
// tempfile in the same directory, fsyncs it, then renames it into place.
// Puts for identical content are idempotent and safe under concurrency
// because the final name is derived from the content itself.
func (s *Store) Put(data []byte) (Key, error) {
	key := HashKey(data)
	dest, err := s.pathFor(key)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("shardstore: create shard dir %s: %w", dir, err)
	}

	if _, err := os.Stat(dest); err == nil {
		// Already present; content-addressing makes this a safe no-op.
		return key, nil
	}

	tmp, err := os.CreateTemp(dir, ".tmp-shard-*")
	if err != nil {
		return "", fmt.Errorf("shardstore: create tempfile in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	// If anything below fails before the rename, clean up the tempfile.
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return "", fmt.Errorf("shardstore: write tempfile %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("shardstore: fsync tempfile %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("shardstore: close tempfile %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return "", fmt.Errorf("shardstore: rename %s -> %s: %w", tmpPath, dest, err)
	}
	success = true
	return key, nil
}

// Get reads a blob by key. It returns rserrors.ErrShardMissing if the file
// is absent, or rserrors.ErrShardCorrupt if present but its content does
// not hash back to key — the caller decides which is fatal, per spec.md.
func (s *Store) Get(key Key) ([]byte, error) {
	path, err := s.pathFor(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("shardstore: get %s: %w", key, rserrors.ErrShardMissing)
		}
		return nil, fmt.Errorf("shardstore: read %s: %w", path, err)
	}
	if HashKey(data) != key {
		return nil, fmt.Errorf("shardstore: get %s: %w", key, rserrors.ErrShardCorrupt)
	}
	return data, nil
}

// Exists reports whether a blob for key is present on disk. It does not
// verify content — use Get for that.
func (s *Store) Exists(key Key) bool {
	path, err := s.pathFor(key)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Delete best-effort unlinks a blob. A missing blob is not an error,
// matching spec.md §4.2.
func (s *Store) Delete(key Key) error {
	path, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("shardstore: delete %s: %w", path, err)
	}
	return nil
}

// Stats reports the number of blobs and total bytes on disk. This is an
// observability convenience (SPEC_FULL.md §4.2) and is never used for
// correctness decisions; the façade's status snapshot does not include it.
type Stats struct {
	BlobCount int
	TotalSize int64
}

// Stats walks the store directory tree and reports aggregate size.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		st.BlobCount++
		st.TotalSize += info.Size()
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("shardstore: stats: %w", err)
	}
	return st, nil
}
