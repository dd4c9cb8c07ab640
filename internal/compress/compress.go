// Package compress implements optional whole-file zstd compression,
// applied before a transfer and transparent to the engine: a compressed
// file is just bytes to split, send, and verify like any other.
package compress

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// CompressFile writes a zstd-compressed copy of src to dst, streaming
// through the encoder rather than buffering the whole file in memory.
func CompressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("compress: open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("compress: create %s: %w", dst, err)
	}
	defer out.Close()

	enc, err := zstd.NewWriter(out)
	if err != nil {
		return fmt.Errorf("compress: create zstd encoder: %w", err)
	}

	if _, err := io.Copy(enc, in); err != nil {
		enc.Close()
		return fmt.Errorf("compress: encode %s: %w", src, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("compress: flush encoder: %w", err)
	}
	return nil
}

// DecompressFile writes a decompressed copy of the zstd-compressed src to
// dst, streaming through the decoder.
func DecompressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("compress: open %s: %w", src, err)
	}
	defer in.Close()

	dec, err := zstd.NewReader(in)
	if err != nil {
		return fmt.Errorf("compress: create zstd decoder: %w", err)
	}
	defer dec.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("compress: create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, dec); err != nil {
		return fmt.Errorf("compress: decode %s: %w", src, err)
	}
	return nil
}
