package engine

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/airtrans-project/airtrans/internal/integrity"
	"github.com/airtrans-project/airtrans/internal/partition"
	"github.com/airtrans-project/airtrans/internal/telemetry"
	"github.com/airtrans-project/airtrans/pkg/descriptor"
	"github.com/airtrans-project/airtrans/pkg/framing"
)

// Reconstructor recovers a transfer's data parts from whatever out-of-band
// redundancy the descriptor carries (for example Reed-Solomon parity
// shards), when one or more data ports fail outright. It is supplied by
// the caller rather than imported directly, since the redundancy layer
// itself depends on this package to stream shards — taking it as a
// parameter here avoids a cyclic dependency. It returns all NumParts data
// shards, each trimmed to its true (unpadded) length.
type Reconstructor func(ctx context.Context, d descriptor.Descriptor, plan partition.Plan, timeout time.Duration) ([][]byte, error)

// ReceiveOptions configures ReceiveFile.
type ReceiveOptions struct {
	ConnectTimeout time.Duration
	OverallTimeout time.Duration
	Algorithm      string
	Telemetry      *telemetry.TelemetryCollector
	// Reconstruct, when set, is invoked if one or more data parts fail to
	// arrive and d.ParityShards > 0, instead of failing the transfer
	// outright.
	Reconstruct Reconstructor
}

func (o *ReceiveOptions) normalize() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnTimeout
	}
	if o.OverallTimeout <= 0 {
		o.OverallTimeout = DefaultOverallTimeout
	}
}

// ReceiveResult is returned by a successful ReceiveFile call.
type ReceiveResult struct {
	OutputPath   string
	Filesize     int64
	Checksum     string
	Elapsed      time.Duration
	AvgSpeedMbps float64
	LatencyMs    float64
}

// ReceiveFile opens one connection per part named in d, verifies each
// part's digest, writes the reassembled file under outputDir, and then
// verifies the whole-file digest before renaming it into place. The
// output is never surfaced under its final name unless that check
// passes.
func ReceiveFile(ctx context.Context, d descriptor.Descriptor, outputDir string, opts ReceiveOptions) (*ReceiveResult, error) {
	opts.normalize()
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("engine: invalid descriptor: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, opts.OverallTimeout)
	defer cancel()

	partCtx, cancelParts := context.WithCancel(ctx)
	defer cancelParts()
	canReconstruct := d.ParityShards > 0 && opts.Reconstruct != nil

	parts := make([][]byte, d.NumParts)
	errs := make([]error, d.NumParts)
	var firstFailOnce sync.Once
	firstFailed := -1
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < d.NumParts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload, err := receivePart(partCtx, d, i, opts)
			if err != nil {
				errs[i] = err
				firstFailOnce.Do(func() { firstFailed = i })
				if !canReconstruct {
					cancelParts()
				}
				return
			}
			parts[i] = payload
			if opts.Telemetry != nil {
				opts.Telemetry.RecordBytesSent(len(payload))
			}
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	var failed []int
	for i, err := range errs {
		if err != nil {
			failed = append(failed, i)
		}
	}
	if len(failed) > 0 {
		if !canReconstruct {
			return nil, fmt.Errorf("engine: part %d failed: %w", firstFailed, errs[firstFailed])
		}
		plan, err := partition.Split(d.Filesize, d.NumParts)
		if err != nil {
			return nil, fmt.Errorf("engine: plan partitioning for reconstruction: %w", err)
		}
		recovered, err := opts.Reconstruct(ctx, d, plan, opts.ConnectTimeout)
		if err != nil {
			return nil, fmt.Errorf("engine: parts %v failed and reconstruction failed: %w", failed, err)
		}
		for _, i := range failed {
			sum, err := integrity.HashBytes(recovered[i], opts.Algorithm)
			if err != nil {
				return nil, err
			}
			if !integrity.Verify(sum, d.ChunkChecksums[i]) {
				return nil, fmt.Errorf("engine: reconstructed part %d checksum mismatch: got %s, want %s", i, sum, d.ChunkChecksums[i])
			}
		}
		parts = recovered
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("engine: create output dir: %w", err)
	}
	outPath := filepath.Join(outputDir, d.Filename)
	tmpPath := outPath + ".partial"

	out, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("engine: create output: %w", err)
	}
	for i, p := range parts {
		if _, err := out.Write(p); err != nil {
			out.Close()
			os.Remove(tmpPath)
			return nil, fmt.Errorf("engine: write part %d to output: %w", i, err)
		}
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("engine: close output: %w", err)
	}

	checksum, err := integrity.HashFile(tmpPath, opts.Algorithm)
	if err != nil {
		os.Remove(tmpPath)
		return nil, err
	}
	if !integrity.Verify(checksum, d.Checksum) {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("engine: whole-file checksum mismatch: got %s, want %s", checksum, d.Checksum)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("engine: rename into place: %w", err)
	}

	var avg float64
	if elapsed > 0 {
		avg = float64(d.Filesize*8) / elapsed.Seconds() / 1e6
	}
	var latencyMs float64
	if opts.Telemetry != nil {
		if bw := opts.Telemetry.BandwidthMbps(); bw > 0 {
			avg = bw
		}
		latencyMs = opts.Telemetry.LatencyMs()
	}

	return &ReceiveResult{
		OutputPath:   outPath,
		Filesize:     d.Filesize,
		Checksum:     checksum,
		Elapsed:      elapsed,
		AvgSpeedMbps: avg,
		LatencyMs:    latencyMs,
	}, nil
}

// receivePart dials (d.IP, d.Ports[i]), reads the preamble, verifies the
// chunk_id matches i, reads the payload, and verifies its digest against
// d.ChunkChecksums[i]. When opts.Telemetry is set, the dial-plus-read
// duration is recorded as the observed round trip for this connection.
func receivePart(ctx context.Context, d descriptor.Descriptor, i int, opts ReceiveOptions) ([]byte, error) {
	start := time.Now()
	payload, err := ReceivePart(ctx, d.IP, d.Ports[i], i, d.ChunkChecksums[i], opts.Algorithm, opts.ConnectTimeout)
	if err == nil && opts.Telemetry != nil {
		opts.Telemetry.RecordRTT(time.Since(start))
	}
	return payload, err
}

// ReceivePart dials (ip, port), reads the preamble, verifies its chunk_id
// equals wantChunkID, reads the payload, and — if expectedChecksum is
// non-empty — verifies the payload digest against it. It is exported so
// other packages (such as the optional erasure-redundancy layer) can pull
// a single part stream without going through the whole-file orchestration
// in ReceiveFile.
func ReceivePart(ctx context.Context, ip string, port, wantChunkID int, expectedChecksum, algorithm string, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = DefaultConnTimeout
	}
	addr := fmt.Sprintf("%s:%d", ip, port)
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("engine: dial %s: %w", addr, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("engine: set deadline on %s: %w", addr, err)
	}

	preamble, err := framing.ReadPreamble(conn)
	if err != nil {
		return nil, fmt.Errorf("engine: read preamble from %s: %w", addr, err)
	}
	if preamble.ChunkID != wantChunkID {
		return nil, fmt.Errorf("engine: unexpected chunk_id %d on port for part %d", preamble.ChunkID, wantChunkID)
	}

	payload, err := framing.ReadPayload(conn, preamble.Size)
	if err != nil {
		return nil, fmt.Errorf("engine: read payload from %s: %w", addr, err)
	}

	if expectedChecksum != "" {
		sum, err := integrity.HashBytes(payload, algorithm)
		if err != nil {
			return nil, err
		}
		if !integrity.Verify(sum, expectedChecksum) {
			return nil, fmt.Errorf("engine: checksum mismatch for chunk_id %d: got %s, want %s", preamble.ChunkID, sum, expectedChecksum)
		}
	}

	return payload, nil
}
