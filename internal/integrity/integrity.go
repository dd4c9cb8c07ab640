// Package integrity computes and verifies file- and chunk-level digests.
// The default algorithm is SHA-256; callers on both sides of a transfer
// must agree on the configured algorithm tag.
package integrity

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
)

// DefaultAlgorithm is the hash algorithm used when none is configured.
const DefaultAlgorithm = "sha256"

// readBufferSize is the fixed-size buffer used when streaming a file for
// hashing, so large files are never read into memory in one shot.
const readBufferSize = 8 * 1024 // 8 KiB

// newHash returns a fresh hash.Hash for the given algorithm tag.
func newHash(algorithm string) (hash.Hash, error) {
	switch algorithm {
	case "", DefaultAlgorithm:
		return sha256.New(), nil
	case "sha1":
		return sha1.New(), nil
	default:
		return nil, fmt.Errorf("integrity: unsupported algorithm %q", algorithm)
	}
}

// HashFile computes the whole-file digest of path under algorithm,
// streaming through a fixed-size buffer.
func HashFile(path string, algorithm string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("integrity: open %s: %w", path, err)
	}
	defer f.Close()
	return HashReader(f, algorithm)
}

// HashReader computes a digest by streaming r through a fixed-size buffer.
func HashReader(r io.Reader, algorithm string) (string, error) {
	h, err := newHash(algorithm)
	if err != nil {
		return "", err
	}
	buf := make([]byte, readBufferSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", fmt.Errorf("integrity: hash stream: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes computes the digest of data under algorithm.
func HashBytes(data []byte, algorithm string) (string, error) {
	h, err := newHash(algorithm)
	if err != nil {
		return "", err
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashPart computes the digest of the byte range [offset, offset+length)
// of the file at path, reading only that range (never the whole file).
func HashPart(path string, offset, length int64, algorithm string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("integrity: open %s: %w", path, err)
	}
	defer f.Close()

	h, err := newHash(algorithm)
	if err != nil {
		return "", err
	}
	section := io.NewSectionReader(f, offset, length)
	buf := make([]byte, readBufferSize)
	if _, err := io.CopyBuffer(h, section, buf); err != nil {
		return "", fmt.Errorf("integrity: hash part at offset %d: %w", offset, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashParts computes the per-part digest for every one of numParts parts
// of the file at path, using the same deterministic partitioning as
// descriptor.PartBounds. The result is idempotent: calling it twice over
// the same file yields equal sequences.
func HashParts(path string, filesize int64, numParts int, algorithm string) ([]string, error) {
	if numParts <= 0 {
		return nil, fmt.Errorf("integrity: numParts must be positive, got %d", numParts)
	}
	base := filesize / int64(numParts)
	checksums := make([]string, numParts)
	for i := 0; i < numParts; i++ {
		offset := int64(i) * base
		length := base
		if i == numParts-1 {
			length = filesize - offset
		}
		sum, err := HashPart(path, offset, length, algorithm)
		if err != nil {
			return nil, err
		}
		checksums[i] = sum
	}
	return checksums, nil
}

// Verify reports whether actual matches expected. Comparison is exact
// string equality over hex digests; both sides must use the same
// algorithm for this to be meaningful.
func Verify(actual, expected string) bool {
	return actual != "" && expected != "" && actual == expected
}
