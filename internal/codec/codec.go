// Package codec implements the pure Reed-Solomon shard codec (C1): a
// stateless encode/reconstruct pair over fixed-size byte matrices. It
// performs no I/O and allocates only the output buffers it returns.
//
// Grounded on the teacher's internal/mesh/sharding.go, which wraps
// klauspost/reedsolomon the same way; generalized here into a reusable
// instance (spec.md requires the Vandermonde/Cauchy matrix be computed
// once and shared across stripes) and a reconstruct contract driven by an
// explicit present-shard mask rather than nil-slice sentinels.
package codec

import (
	"fmt"

	"github.com/klauspost/reedsolomon"

	"github.com/rsguard/rs_guard/internal/rserrors"
)

// Codec encodes and reconstructs stripes for a fixed (D, P) pair. A Codec
// is safe for concurrent use: klauspost/reedsolomon encoders do not
// mutate internal state during Encode/Reconstruct, only the shard slices
// passed in.
type Codec struct {
	dataShards   int
	parityShards int
	enc          reedsolomon.Encoder
}

// New builds a Codec for the given data/parity shard counts. D and P must
// satisfy 1 <= D, 1 <= P, D+P <= 255, matching spec.md §3's Config
// invariant; New re-validates because a Codec can be constructed
// independently of a Config in tests.
func New(dataShards, parityShards int) (*Codec, error) {
	if dataShards < 1 || parityShards < 1 {
		return nil, fmt.Errorf("codec: data and parity shard counts must be >= 1, got D=%d P=%d", dataShards, parityShards)
	}
	if dataShards+parityShards > 255 {
		return nil, fmt.Errorf("codec: D+P must be <= 255, got %d", dataShards+parityShards)
	}
	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, fmt.Errorf("codec: creating reed-solomon encoder: %w", err)
	}
	return &Codec{dataShards: dataShards, parityShards: parityShards, enc: enc}, nil
}

// DataShards returns D.
func (c *Codec) DataShards() int { return c.dataShards }

// ParityShards returns P.
func (c *Codec) ParityShards() int { return c.parityShards }

// Total returns D+P.
func (c *Codec) Total() int { return c.dataShards + c.parityShards }

// Encode computes P parity shards from D equal-length data shards. It
// never mutates dataShards and never returns a partial result: on error
// the returned slice is nil.
func (c *Codec) Encode(dataShards [][]byte) ([][]byte, error) {
	if len(dataShards) != c.dataShards {
		return nil, fmt.Errorf("codec: Encode expected %d data shards, got %d", c.dataShards, len(dataShards))
	}
	shardLen := len(dataShards[0])
	all := make([][]byte, c.Total())
	for i, d := range dataShards {
		if len(d) != shardLen {
			return nil, fmt.Errorf("codec: Encode requires equal-length shards, shard %d has length %d, want %d", i, len(d), shardLen)
		}
		// The encoder only reads data shards and writes parity shards, so
		// the caller's buffers are used in place without being mutated.
		all[i] = d
	}
	for i := c.dataShards; i < c.Total(); i++ {
		all[i] = make([]byte, shardLen)
	}
	if err := c.enc.Encode(all); err != nil {
		return nil, fmt.Errorf("codec: encoding parity shards: %w", err)
	}
	return all[c.dataShards:], nil
}

// Reconstruct fills in the missing entries of shards (indices 0..D+P-1,
// data shards first) given a present mask of the same length. It requires
// at least D shards marked present; otherwise it returns
// rserrors.ErrInsufficientShards. On success every entry of shards is
// populated (including previously-present ones, left unmodified).
func (c *Codec) Reconstruct(shards [][]byte, present []bool) error {
	total := c.Total()
	if len(shards) != total || len(present) != total {
		return fmt.Errorf("codec: Reconstruct expects %d shards and mask entries, got %d/%d", total, len(shards), len(present))
	}
	haveCount := 0
	work := make([][]byte, total)
	for i := range shards {
		if present[i] {
			haveCount++
			work[i] = shards[i]
		} else {
			work[i] = nil
		}
	}
	if haveCount < c.dataShards {
		return rserrors.ErrInsufficientShards
	}
	if err := c.enc.Reconstruct(work); err != nil {
		return fmt.Errorf("codec: reconstructing shards: %w", err)
	}
	ok, err := c.enc.Verify(work)
	if err != nil {
		return fmt.Errorf("codec: verifying reconstructed shards: %w", err)
	}
	if !ok {
		return fmt.Errorf("codec: shard verification failed after reconstruction")
	}
	copy(shards, work)
	return nil
}

// Join concatenates the D data shards of a stripe and trims the result to
// originalSize, undoing the zero-padding applied to a short final stripe.
func Join(shards [][]byte, dataShards, originalSize int) ([]byte, error) {
	var out []byte
	for i := 0; i < dataShards; i++ {
		out = append(out, shards[i]...)
	}
	if originalSize > len(out) {
		return nil, fmt.Errorf("codec: original size %d exceeds joined data length %d", originalSize, len(out))
	}
	return out[:originalSize], nil
}

// SplitPadded splits data into dataShards equal-length shards, zero-padding
// the last one if data does not divide evenly. shardLen is
// ceil(len(data)/dataShards) unless forcedShardLen is given (>0), which is
// used when the caller needs every stripe in a file to share one shard
// length (spec.md: stripe_size = D * shard_size, fixed per process
// lifetime).
func SplitPadded(data []byte, dataShards int, forcedShardLen int) [][]byte {
	shardLen := forcedShardLen
	if shardLen <= 0 {
		shardLen = (len(data) + dataShards - 1) / dataShards
		if shardLen == 0 {
			shardLen = 1
		}
	}
	out := make([][]byte, dataShards)
	for i := 0; i < dataShards; i++ {
		out[i] = make([]byte, shardLen)
		start := i * shardLen
		if start >= len(data) {
			continue
		}
		end := start + shardLen
		if end > len(data) {
			end = len(data)
		}
		copy(out[i], data[start:end])
	}
	return out
}
