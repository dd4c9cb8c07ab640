package erasure

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/airtrans-project/airtrans/internal/engine"
	"github.com/airtrans-project/airtrans/internal/integrity"
	"github.com/airtrans-project/airtrans/internal/partition"
	"github.com/airtrans-project/airtrans/pkg/descriptor"
)

// BuildShards reads every data part named by plan from the file at path,
// padding each to the length of the largest part so Reed-Solomon's
// equal-shard-length requirement holds, and returns each part's true
// (unpadded) length alongside the shards.
func BuildShards(path string, plan partition.Plan) ([][]byte, []int, error) {
	size := maxLength(plan)
	lengths := make([]int, plan.NumParts)

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("erasure: open %s: %w", path, err)
	}
	defer f.Close()

	shards := make([][]byte, plan.NumParts)
	for i := 0; i < plan.NumParts; i++ {
		offset, length, err := plan.Bounds(i)
		if err != nil {
			return nil, nil, err
		}
		lengths[i] = int(length)

		shard := make([]byte, size)
		section := io.NewSectionReader(f, offset, length)
		if _, err := io.ReadFull(section, shard[:length]); err != nil {
			return nil, nil, fmt.Errorf("erasure: read part %d: %w", i, err)
		}
		shards[i] = shard
	}
	return shards, lengths, nil
}

// EncodeParity computes parityShards parity shards over the data parts of
// the file at path, keyed to the same partitioning the transfer engine
// uses for its data ports.
func EncodeParity(path string, plan partition.Plan, parityShards int) ([][]byte, error) {
	coder, err := NewErasureCoder(plan.NumParts, parityShards)
	if err != nil {
		return nil, err
	}

	dataShards, _, err := BuildShards(path, plan)
	if err != nil {
		return nil, err
	}

	size := len(dataShards[0])
	coder.ShardSize = size
	total := plan.NumParts + parityShards
	allShards := make([][]byte, total)
	copy(allShards, dataShards)
	for i := plan.NumParts; i < total; i++ {
		allShards[i] = make([]byte, size)
	}

	if err := coder.codec.Encode(allShards); err != nil {
		return nil, fmt.Errorf("erasure: encode parity: %w", err)
	}
	return allShards[plan.NumParts:], nil
}

// SendParity streams each computed parity shard on its own port, one
// listener per shard, following the same preamble-then-payload contract
// the data ports use. Parity chunk_ids continue numbering after the last
// data part: chunk_id = NumParts + i. This is additive redundancy
// alongside the data ports, not a replacement for any of them.
func SendParity(ctx context.Context, path string, plan partition.Plan, parityPorts []int, algorithm string) error {
	parityShards := len(parityPorts)
	shards, err := EncodeParity(path, plan, parityShards)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	errs := make([]error, parityShards)
	for i := 0; i < parityShards; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sum, err := integrity.HashBytes(shards[i], algorithm)
			if err != nil {
				errs[i] = err
				return
			}
			_, err = engine.SendBytes(ctx, parityPorts[i], plan.NumParts+i, shards[i], sum, 0)
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return fmt.Errorf("erasure: parity shard %d: %w", i, err)
		}
	}
	return nil
}

// ReconstructMissingParts dials every data and parity port concurrently,
// tolerating failures on up to ParityShards of the data ports, and
// returns the NumParts data shards (each trimmed to its true length). A
// receiver that fails to connect to or read from up to K of the N data
// ports within timeout reconstructs the missing shard(s) from whatever
// data and parity shards it did receive. This is additive redundancy, not
// retry: a part that failed is never re-dialed.
func ReconstructMissingParts(ctx context.Context, d descriptor.Descriptor, plan partition.Plan, timeout time.Duration) ([][]byte, error) {
	if d.ParityShards == 0 {
		return nil, fmt.Errorf("erasure: descriptor carries no parity shards")
	}

	size := maxLength(plan)
	total := d.NumParts + d.ParityShards
	shards := make([][]byte, total)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < d.NumParts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload, err := engine.ReceivePart(ctx, d.IP, d.Ports[i], i, d.ChunkChecksums[i], "", timeout)
			if err != nil {
				return
			}
			mu.Lock()
			shards[i] = padShard(payload, size)
			mu.Unlock()
		}(i)
	}
	for i := 0; i < d.ParityShards; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload, err := engine.ReceivePart(ctx, d.IP, d.ParityPorts[i], d.NumParts+i, "", "", timeout)
			if err != nil {
				return
			}
			mu.Lock()
			shards[d.NumParts+i] = padShard(payload, size)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	missing := 0
	for i := 0; i < d.NumParts; i++ {
		if shards[i] == nil {
			missing++
		}
	}
	if missing == 0 {
		return trimShards(shards[:d.NumParts], plan), nil
	}
	if missing > d.ParityShards {
		return nil, fmt.Errorf("erasure: %d data parts missing, only %d parity shards available", missing, d.ParityShards)
	}

	coder, err := NewErasureCoder(d.NumParts, d.ParityShards)
	if err != nil {
		return nil, err
	}
	if err := coder.Reconstruct(shards); err != nil {
		return nil, fmt.Errorf("erasure: reconstruct: %w", err)
	}
	return trimShards(shards[:d.NumParts], plan), nil
}

func maxLength(plan partition.Plan) int {
	max := 0
	for _, l := range plan.Lengths {
		if int(l) > max {
			max = int(l)
		}
	}
	return max
}

func padShard(payload []byte, size int) []byte {
	if len(payload) >= size {
		return payload
	}
	padded := make([]byte, size)
	copy(padded, payload)
	return padded
}

func trimShards(shards [][]byte, plan partition.Plan) [][]byte {
	out := make([][]byte, len(shards))
	for i, s := range shards {
		if s == nil {
			continue
		}
		length := int(plan.Lengths[i])
		if len(s) > length {
			out[i] = s[:length]
		} else {
			out[i] = s
		}
	}
	return out
}
