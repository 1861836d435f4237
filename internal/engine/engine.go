// Package engine implements C4 (the protection engine) and C8 (the
// engine façade): the hot path that turns a watcher event into a
// striped, parity-protected FileRecord, plus the read-only status
// surface a bootstrap CLI or HTTP adapter consumes. Grounded on the
// teacher's distribution pipeline (internal/dht/filedist.go:
// DistributeFile/ReconstructFile/DeleteDistributedFile — stripe, encode,
// persist, commit, in that order) generalized from a fixed DHT peer
// count to spec.md §4.4's D+P shard model. The background loops that
// drive it (internal/checker, internal/repair, internal/bootstrap) follow
// internal/dht/repair.go's ticker/worker-cap idiom.
package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log"
	"os"

	"github.com/rsguard/rs_guard/internal/codec"
	"github.com/rsguard/rs_guard/internal/config"
	"github.com/rsguard/rs_guard/internal/metadata"
	"github.com/rsguard/rs_guard/internal/rserrors"
	"github.com/rsguard/rs_guard/internal/shardstore"
)

// Engine wires the codec, shard store, and metadata store together and
// owns the per-file_id lock map shared with the repair engine.
type Engine struct {
	cfg    *config.Config
	codec  *codec.Codec
	shards *shardstore.Store
	meta   *metadata.Store
	locks  *LockMap
	logger *log.Logger
}

// New builds an Engine. logger may be nil, in which case log.Default()
// is used, matching the teacher's package-level *log.Logger convention.
func New(cfg *config.Config, c *codec.Codec, shards *shardstore.Store, meta *metadata.Store, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{cfg: cfg, codec: c, shards: shards, meta: meta, locks: newLockMap(), logger: logger}
}

// Locks exposes the shared per-file_id lock map so the repair engine
// (C7) can coordinate with in-flight encodes, per spec.md §5: "the
// per-file_id lock map is the only coordination point between C4 and C7."
func (e *Engine) Locks() *LockMap { return e.locks }

// Codec exposes the shared codec instance for the repair engine.
func (e *Engine) Codec() *codec.Codec { return e.codec }

// Shards exposes the shared shard store for the checker and repair engine.
func (e *Engine) Shards() *shardstore.Store { return e.shards }

// Meta exposes the shared metadata store for the checker and repair engine.
func (e *Engine) Meta() *metadata.Store { return e.meta }

// Config exposes the loaded configuration.
func (e *Engine) Config() *config.Config { return e.cfg }

// Protect runs spec.md §4.4's algorithm for a change event on path. A
// path outside every watched root is silently dropped, matching step 1.
func (e *Engine) Protect(path string) error {
	canon, fileID, err := resolve(e.cfg.WatchedRoots, path)
	if err != nil {
		if err == rserrors.ErrNotWatched {
			return nil
		}
		return err
	}

	g := e.locks.Guard(fileID)
	if !g.TryLock() {
		g.SetPending()
		return nil
	}
	defer g.Unlock()

	for {
		retry, err := e.encodeOnce(fileID, canon)
		if err != nil {
			e.logger.Printf("[engine] file_id=%s protect failed: %v", fileID, err)
			return err
		}
		if !retry && !g.ConsumePending() {
			return nil
		}
	}
}

// Delete commits a deletion of path's FileRecord, per spec.md §4.4's
// delete-event edge policy. It blocks on the file's lock rather than
// dropping the event, since a delete must never be silently skipped.
func (e *Engine) Delete(path string) error {
	canon, fileID, err := resolve(e.cfg.WatchedRoots, path)
	if err != nil {
		if err == rserrors.ErrNotWatched {
			return nil
		}
		return err
	}
	_ = canon

	g := e.locks.Guard(fileID)
	g.Lock()
	defer g.Unlock()

	if err := e.meta.Delete(fileID); err != nil {
		e.logger.Printf("[engine] file_id=%s delete failed: %v", fileID, err)
		return err
	}
	return nil
}

// encodeOnce runs steps 3-6 of spec.md §4.4 for one pass, returning
// retry=true when the modify-during-encode edge policy fired and the
// caller should re-run immediately while still holding the lock.
func (e *Engine) encodeOnce(fileID, canon string) (retry bool, err error) {
	old, hadOld, err := e.meta.Get(fileID)
	if err != nil {
		return false, rserrors.New(rserrors.KindMetadataCorrupt, "engine.encodeOnce.get", err).WithPath(canon)
	}

	transitional := old
	if !hadOld {
		transitional = metadata.FileRecord{FileID: fileID, Path: canon}
	}
	transitional.Status = metadata.StatusEncoding
	if err := e.meta.Commit(&transitional); err != nil {
		return false, err
	}

	info, statErr := os.Stat(canon)
	if statErr != nil {
		e.restore(fileID, old, hadOld)
		return false, rserrors.New(rserrors.KindIO, "engine.encodeOnce.stat", statErr).WithPath(canon)
	}

	f, openErr := os.Open(canon)
	if openErr != nil {
		e.restore(fileID, old, hadOld)
		return false, rserrors.New(rserrors.KindIO, "engine.encodeOnce.open", openErr).WithPath(canon)
	}
	stripes, contentHash, encErr := e.streamEncode(f, info.Size())
	f.Close()
	if encErr != nil {
		e.restore(fileID, old, hadOld)
		return false, encErr
	}

	// Modify-during-encode: re-stat immediately before commit. Any
	// difference means the bytes just striped are already stale.
	info2, statErr2 := os.Stat(canon)
	if statErr2 != nil || info2.Size() != info.Size() || !info2.ModTime().Equal(info.ModTime()) {
		e.restore(fileID, old, hadOld)
		return true, nil
	}

	final := metadata.FileRecord{
		FileID:      fileID,
		Path:        canon,
		Size:        info.Size(),
		ModTimeUnix: info.ModTime().Unix(),
		ContentHash: contentHash,
		Stripes:     stripes,
		Status:      metadata.StatusProtected,
	}
	if err := e.meta.Commit(&final); err != nil {
		return false, err
	}
	return false, nil
}

// restore rolls the metadata's transient Encoding record back to the
// prior committed state, or drops it if this was the file's first-ever
// encode attempt — the same policy metadata.Store's crash-recovery pass
// applies on startup, run inline here so a same-process failure doesn't
// need a restart to self-heal.
func (e *Engine) restore(fileID string, old metadata.FileRecord, hadOld bool) {
	if hadOld && len(old.Stripes) > 0 {
		old.Status = metadata.StatusProtected
		if err := e.meta.Commit(&old); err != nil {
			e.logger.Printf("[engine] file_id=%s restore-after-failure commit error: %v", fileID, err)
		}
		return
	}
	if err := e.meta.Delete(fileID); err != nil {
		e.logger.Printf("[engine] file_id=%s restore-after-failure delete error: %v", fileID, err)
	}
}

// streamEncode reads f in stripe-sized chunks, striping and encoding
// each per spec.md §4.4 step 5, and returns the assembled stripe
// descriptors plus a whole-file content hash. Files shorter than one
// stripe (including empty files) still produce exactly one short,
// zero-padded stripe.
func (e *Engine) streamEncode(f *os.File, size int64) ([]metadata.StripeDescriptor, string, error) {
	d := e.codec.DataShards()
	shardLen := e.cfg.StripeSize / int64(d)
	if shardLen < 1 {
		shardLen = 1
	}
	stripeBytes := shardLen * int64(d)

	h := sha256.New()
	var stripes []metadata.StripeDescriptor

	var offset int64
	for idx := 0; offset == 0 || offset < size; idx++ {
		want := stripeBytes
		if remain := size - offset; remain < want {
			want = remain
		}
		if want < 0 {
			want = 0
		}

		buf := make([]byte, want)
		if want > 0 {
			if _, err := io.ReadFull(f, buf); err != nil {
				return nil, "", rserrors.New(rserrors.KindIO, "engine.streamEncode.read", err)
			}
		}
		h.Write(buf)

		dataShards := codec.SplitPadded(buf, d, int(shardLen))
		parity, err := e.codec.Encode(dataShards)
		if err != nil {
			return nil, "", rserrors.New(rserrors.KindIO, "engine.streamEncode.encode", err)
		}

		hashes := make([]string, 0, d+e.codec.ParityShards())
		locs := make([]metadata.ShardLocation, 0, d+e.codec.ParityShards())
		for i, ds := range dataShards {
			key := shardstore.HashKey(ds)
			hashes = append(hashes, string(key))
			realLen := want - int64(i)*shardLen
			if realLen < 0 {
				realLen = 0
			}
			if realLen > shardLen {
				realLen = shardLen
			}
			locs = append(locs, metadata.ShardLocation{
				Kind:   metadata.LocationInline,
				Offset: offset + int64(i)*shardLen,
				Length: realLen,
			})
		}
		for _, ps := range parity {
			key, err := e.shards.Put(ps)
			if err != nil {
				return nil, "", rserrors.New(rserrors.KindIO, "engine.streamEncode.putParity", err)
			}
			hashes = append(hashes, string(key))
			locs = append(locs, metadata.ShardLocation{Kind: metadata.LocationBlob, BlobKey: string(key)})
		}

		stripes = append(stripes, metadata.StripeDescriptor{
			Index:          idx,
			ByteOffset:     offset,
			ByteLen:        want,
			ShardHashes:    hashes,
			ShardLocations: locs,
		})

		offset += want
		if want == 0 {
			break
		}
	}
	return stripes, hex.EncodeToString(h.Sum(nil)), nil
}
