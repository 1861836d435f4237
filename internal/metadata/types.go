// Package metadata implements C3: a durable, crash-safe key-value index
// mapping file identity to stripe/shard descriptors, and the shard
// refcounts that drive garbage collection. Built on go.etcd.io/bbolt,
// whose ordered on-disk B+tree and native transactions give exactly the
// per-file atomicity and snapshot-read guarantees spec.md §4.3 requires.
//
// Grounded on the teacher's storage layer (internal/storage/sqlite.go,
// internal/dht/store.go: an embedded-database wrapper opened once per
// process, schema/bucket creation on first open, JSON-serialized
// values keyed by a stable identifier) and on the retrieved corpus's
// bbolt-based block store (fingon-go-tfhfs/storage/bolt.go), which keeps
// distinct buckets per logical namespace exactly as spec.md's `files/`
// and `shards_ref/` table calls for.
package metadata

// FileStatus is the lifecycle state of a FileRecord, per spec.md §3.
type FileStatus string

const (
	StatusProtected    FileStatus = "protected"
	StatusEncoding     FileStatus = "encoding"
	StatusDamaged      FileStatus = "damaged"
	StatusUnrecoverable FileStatus = "unrecoverable"
)

// LocationKind distinguishes an inline (borrowed slice of the original
// file) shard location from a blob (shard-store-backed) one.
type LocationKind string

const (
	LocationInline LocationKind = "inline"
	LocationBlob   LocationKind = "blob"
)

// ShardLocation records where a single shard's bytes live.
type ShardLocation struct {
	Kind LocationKind `json:"kind"`
	// Offset/Length are valid for LocationInline: the byte range within
	// the original file where this shard's bytes are found (on the last,
	// short stripe Length may be less than the padded shard length, down
	// to zero for shards made entirely of padding).
	Offset int64 `json:"offset,omitempty"`
	Length int64 `json:"length,omitempty"`
	// BlobKey is valid for LocationBlob: the shardstore.Key naming the
	// blob on disk.
	BlobKey string `json:"blob_key,omitempty"`
}

// StripeDescriptor describes one stripe of a protected file.
type StripeDescriptor struct {
	Index int `json:"index"`
	// ByteOffset/ByteLen give [offset, offset+len) in the original
	// file. Only the last stripe of a file may have ByteLen < the
	// configured stripe size; the codec zero-pads the shortfall.
	ByteOffset int64 `json:"byte_offset"`
	ByteLen    int64 `json:"byte_len"`
	// ShardHashes has exactly D+P entries, hex-encoded content hashes,
	// positionally ordered: 0..D-1 data shards, D..D+P-1 parity shards.
	ShardHashes []string `json:"shard_hashes"`
	// ShardLocations mirrors ShardHashes positionally.
	ShardLocations []ShardLocation `json:"shard_locations"`
}

// FileRecord is the durable metadata entry describing a protected file.
type FileRecord struct {
	FileID      string             `json:"file_id"`
	Path        string             `json:"path"`
	Size        int64              `json:"size"`
	ModTimeUnix int64              `json:"mtime_unix"`
	ContentHash string             `json:"content_hash"`
	Stripes     []StripeDescriptor `json:"stripes"`
	Status      FileStatus         `json:"status"`
}

// AllShardHashes returns every shard hash referenced by the record,
// across all stripes, inline and blob alike. Refcount deltas on commit
// use BlobShardHashes instead.
func (r *FileRecord) AllShardHashes() []string {
	var hashes []string
	for _, st := range r.Stripes {
		hashes = append(hashes, st.ShardHashes...)
	}
	return hashes
}

// BlobShardHashes returns only the hashes of shards whose location is a
// shard-store blob (i.e. excluding inline data shards), since only blob
// shards participate in shardstore garbage collection.
func (r *FileRecord) BlobShardHashes() []string {
	var hashes []string
	for _, st := range r.Stripes {
		for i, loc := range st.ShardLocations {
			if loc.Kind == LocationBlob && i < len(st.ShardHashes) {
				hashes = append(hashes, st.ShardHashes[i])
			}
		}
	}
	return hashes
}
