// Package rserrors defines the typed error kinds shared across rs_guard's
// components, so that component boundaries can translate failures instead
// of leaking ad-hoc strings.
package rserrors

import "errors"

// Kind classifies an error for the purposes of propagation policy: which
// errors are fatal at startup, which are scoped to a single file, and which
// drive a status transition.
type Kind int

const (
	// KindConfig marks a fatal startup configuration error.
	KindConfig Kind = iota
	// KindIO marks a retriable, per-file I/O failure.
	KindIO
	// KindCodecInsufficientShards marks a stripe that cannot be
	// reconstructed with the shards on hand.
	KindCodecInsufficientShards
	// KindMetadataCorrupt marks a fatal metadata-layer failure.
	KindMetadataCorrupt
	// KindShardMissing marks a shard absent from the store.
	KindShardMissing
	// KindShardCorrupt marks a shard present but hash-mismatched.
	KindShardCorrupt
	// KindShutdown marks a clean cancellation, not an operator-visible error.
	KindShutdown
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindIO:
		return "io"
	case KindCodecInsufficientShards:
		return "insufficient_shards"
	case KindMetadataCorrupt:
		return "metadata_corrupt"
	case KindShardMissing:
		return "shard_missing"
	case KindShardCorrupt:
		return "shard_corrupt"
	case KindShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Error is a typed error carrying a Kind plus context. Component
// boundaries wrap leaf errors in an Error so callers can branch on Kind
// with errors.As instead of string matching.
type Error struct {
	Kind    Kind
	Op      string // component/operation that produced the error, e.g. "codec.Encode"
	Path    string // file or shard path involved, if any
	Err     error  // wrapped cause, if any
}

func (e *Error) Error() string {
	msg := e.Kind.String() + ": " + e.Op
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithPath attaches a path to an Error, returning a new value.
func (e *Error) WithPath(path string) *Error {
	cp := *e
	cp.Path = path
	return &cp
}

// Is reports whether err is or wraps an *Error whose Kind is kind, e.g.
// rserrors.Is(err, KindIO).
func Is(err error, kind Kind) bool {
	var rsErr *Error
	if errors.As(err, &rsErr) {
		return rsErr.Kind == kind
	}
	return false
}

// Sentinel errors for conditions that do not need file/op context attached
// at the point they are raised (leaf components return these directly;
// callers wrap them into a typed Error at the component boundary).
var (
	// ErrInsufficientShards is returned by the codec when fewer than D
	// shards are present to reconstruct a stripe.
	ErrInsufficientShards = errors.New("insufficient shards to reconstruct")
	// ErrShardMissing is returned by the shard store when a key has no
	// backing blob.
	ErrShardMissing = errors.New("shard missing")
	// ErrShardCorrupt is returned by the shard store when a blob's
	// content does not hash to its key.
	ErrShardCorrupt = errors.New("shard corrupt")
	// ErrNotWatched is returned when a path falls outside every
	// watched root.
	ErrNotWatched = errors.New("path not under any watched root")
)
