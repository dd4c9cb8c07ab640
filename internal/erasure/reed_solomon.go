// Package erasure adds optional Reed-Solomon parity streams on top of
// the transfer engine's data parts: additive redundancy that lets a
// receiver recover a handful of missing parts without re-dialing them.
package erasure

import (
	"fmt"

	rs "github.com/klauspost/reedsolomon"
)

// ErasureCoder wraps a Reed-Solomon codec sized for one descriptor's
// data-part/parity-shard split. ShardSize is set once the first batch of
// shards is built, since the transfer's uneven partitioning means it is
// not known until the file and part count are.
type ErasureCoder struct {
	DataShards   int
	ParityShards int
	ShardSize    int

	codec rs.Encoder
}

// NewErasureCoder creates an ErasureCoder for the given shard counts.
func NewErasureCoder(dataShards, parityShards int) (*ErasureCoder, error) {
	if dataShards <= 0 || parityShards <= 0 {
		return nil, fmt.Errorf("erasure: dataShards and parityShards must be > 0")
	}
	codec, err := rs.New(dataShards, parityShards)
	if err != nil {
		return nil, err
	}
	return &ErasureCoder{
		DataShards:   dataShards,
		ParityShards: parityShards,
		codec:        codec,
	}, nil
}

// Reconstruct fills in any missing (nil) entries of shards in place,
// given at least DataShards non-nil, equal-length shards. Callers that
// padded variable-length parts to a common shard size are responsible
// for trimming each shard back to its real length afterward.
func (e *ErasureCoder) Reconstruct(shards [][]byte) error {
	if len(shards) != e.DataShards+e.ParityShards {
		return fmt.Errorf("erasure: expected %d shards, got %d", e.DataShards+e.ParityShards, len(shards))
	}
	return e.codec.Reconstruct(shards)
}
