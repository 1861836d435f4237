package metadata

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/rsguard/rs_guard/internal/rserrors"
)

var (
	bucketFiles     = []byte("files")
	bucketShardsRef = []byte("shards_ref")
)

// GCFunc is invoked once per shard hash whose refcount has reached zero,
// so the caller can unlink the corresponding blob from the shard store.
// GC proceeds even if the blob is already missing, per spec.md §4.3, so
// GCFunc implementations should treat a missing blob as success.
type GCFunc func(shardHash string) error

// Store is the embedded ordered key-value metadata index (C3).
type Store struct {
	db *bolt.DB
	gc GCFunc
}

// Open opens (creating if necessary) the bbolt database at path, ensures
// both namespaces exist, and runs the crash-recovery pass described in
// spec.md §4.3: any FileRecord left in Encoding status is reset to its
// prior committed record (recoverable because step 3 of the protection
// engine only flips the status field, leaving prior stripe data intact)
// or dropped if there is no prior data to fall back to.
func Open(path string, gc GCFunc) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, rserrors.New(rserrors.KindMetadataCorrupt, "metadata.Open", err).WithPath(path)
	}
	s := &Store{db: db, gc: gc}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketFiles); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketShardsRef); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, rserrors.New(rserrors.KindMetadataCorrupt, "metadata.Open.createBuckets", err)
	}

	if err := s.recover(); err != nil {
		db.Close()
		return nil, rserrors.New(rserrors.KindMetadataCorrupt, "metadata.Open.recover", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) recover() error {
	var toDrop []string
	var toFix []FileRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFiles)
		return b.ForEach(func(k, v []byte) error {
			var rec FileRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("recover: unmarshal record %q: %w", k, err)
			}
			if rec.Status != StatusEncoding {
				return nil
			}
			if len(rec.Stripes) == 0 {
				toDrop = append(toDrop, rec.FileID)
			} else {
				rec.Status = StatusProtected
				toFix = append(toFix, rec)
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	for _, rec := range toFix {
		if err := s.Commit(&rec); err != nil {
			return fmt.Errorf("recover: re-commit %s: %w", rec.FileID, err)
		}
	}
	for _, id := range toDrop {
		if err := s.Delete(id); err != nil {
			return fmt.Errorf("recover: drop %s: %w", id, err)
		}
	}
	return nil
}

// Get reads the FileRecord for fileID. ok is false if no record exists.
func (s *Store) Get(fileID string) (rec FileRecord, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketFiles).Get([]byte(fileID))
		if v == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(v, &rec)
	})
	return rec, ok, err
}

// Commit atomically publishes a new FileRecord, adjusting shards_ref
// counts for the delta between the previous and new record's blob-backed
// shard hashes. A writer either publishes the complete new record or
// leaves the old one untouched: the whole operation runs inside one
// bbolt.Update transaction.
func (s *Store) Commit(rec *FileRecord) error {
	var zeroed []string

	err := s.db.Update(func(tx *bolt.Tx) error {
		files := tx.Bucket(bucketFiles)
		refs := tx.Bucket(bucketShardsRef)

		var old FileRecord
		if v := files.Get([]byte(rec.FileID)); v != nil {
			if err := json.Unmarshal(v, &old); err != nil {
				return fmt.Errorf("commit: unmarshal previous record: %w", err)
			}
		}

		delta := diffCounts(old.BlobShardHashes(), rec.BlobShardHashes())
		var err error
		zeroed, err = applyRefDelta(refs, delta)
		if err != nil {
			return err
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("commit: marshal record: %w", err)
		}
		return files.Put([]byte(rec.FileID), data)
	})
	if err != nil {
		return rserrors.New(rserrors.KindMetadataCorrupt, "metadata.Commit", err).WithPath(rec.FileID)
	}
	s.runGC(zeroed)
	return nil
}

// Delete removes a FileRecord entirely (spec.md: "commit a deletion of
// the FileRecord; refcount decrements may trigger blob GC"). Deleting an
// absent record is not an error.
func (s *Store) Delete(fileID string) error {
	var zeroed []string

	err := s.db.Update(func(tx *bolt.Tx) error {
		files := tx.Bucket(bucketFiles)
		refs := tx.Bucket(bucketShardsRef)

		v := files.Get([]byte(fileID))
		if v == nil {
			return nil
		}
		var old FileRecord
		if err := json.Unmarshal(v, &old); err != nil {
			return fmt.Errorf("delete: unmarshal previous record: %w", err)
		}

		delta := diffCounts(old.BlobShardHashes(), nil)
		var err error
		zeroed, err = applyRefDelta(refs, delta)
		if err != nil {
			return err
		}
		return files.Delete([]byte(fileID))
	})
	if err != nil {
		return rserrors.New(rserrors.KindMetadataCorrupt, "metadata.Delete", err).WithPath(fileID)
	}
	s.runGC(zeroed)
	return nil
}

// ListAll returns every FileRecord as of a single consistent snapshot
// (a bbolt View transaction), safe against concurrent writers.
func (s *Store) ListAll() ([]FileRecord, error) {
	var out []FileRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFiles)
		return b.ForEach(func(k, v []byte) error {
			var rec FileRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("list_all: unmarshal %q: %w", k, err)
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, rserrors.New(rserrors.KindMetadataCorrupt, "metadata.ListAll", err)
	}
	return out, nil
}

// RefCount returns the current refcount for a shard hash (0 if absent).
func (s *Store) RefCount(shardHash string) (uint32, error) {
	var count uint32
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketShardsRef).Get([]byte(shardHash))
		if v == nil {
			return nil
		}
		count = binary.BigEndian.Uint32(v)
		return nil
	})
	return count, err
}

func (s *Store) runGC(zeroed []string) {
	if s.gc == nil {
		return
	}
	for _, hash := range zeroed {
		// GC proceeds even if the blob is already missing; GCFunc is
		// expected to treat that as success, so an error here reflects
		// a genuine I/O problem worth surfacing but not worth failing
		// the metadata commit that already succeeded.
		_ = s.gc(hash)
	}
}

// diffCounts returns the net +1/-1 delta per hash between an old and new
// set of blob shard hashes (duplicates within a set count multiply, since
// a single record may reference the same content-addressed hash more
// than once across stripes).
func diffCounts(oldHashes, newHashes []string) map[string]int {
	delta := make(map[string]int)
	for _, h := range oldHashes {
		delta[h]--
	}
	for _, h := range newHashes {
		delta[h]++
	}
	for h, d := range delta {
		if d == 0 {
			delete(delta, h)
		}
	}
	return delta
}

// applyRefDelta applies delta to the shards_ref bucket and returns the
// hashes whose count reached zero (and were removed from the bucket).
func applyRefDelta(refs *bolt.Bucket, delta map[string]int) ([]string, error) {
	var zeroed []string
	for hash, d := range delta {
		key := []byte(hash)
		var count int64
		if v := refs.Get(key); v != nil {
			count = int64(binary.BigEndian.Uint32(v))
		}
		count += int64(d)
		if count < 0 {
			return nil, fmt.Errorf("shards_ref: negative refcount for %s (delta %d)", hash, d)
		}
		if count == 0 {
			if err := refs.Delete(key); err != nil {
				return nil, err
			}
			zeroed = append(zeroed, hash)
			continue
		}
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, uint32(count))
		if err := refs.Put(key, buf); err != nil {
			return nil, err
		}
	}
	return zeroed, nil
}
