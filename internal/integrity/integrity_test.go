package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, data []byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestHashFileMatchesStdlibSHA256(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	path := writeTempFile(t, data)

	got, err := HashFile(path, "")
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}

	sum := sha256.Sum256(data)
	want := hex.EncodeToString(sum[:])
	if got != want {
		t.Fatalf("HashFile() = %q, want %q", got, want)
	}
}

func TestHashPartCoversExactRange(t *testing.T) {
	data := []byte("0123456789")
	path := writeTempFile(t, data)

	got, err := HashPart(path, 3, 4, "")
	if err != nil {
		t.Fatalf("HashPart: %v", err)
	}

	want, err := HashBytes(data[3:7], "")
	if err != nil {
		t.Fatalf("HashBytes: %v", err)
	}
	if got != want {
		t.Fatalf("HashPart() = %q, want %q", got, want)
	}
}

func TestHashPartsUnevenSplitMatchesConcatenation(t *testing.T) {
	data := []byte("0123456789") // 10 bytes, 3 parts -> 3,3,4
	path := writeTempFile(t, data)

	sums, err := HashParts(path, int64(len(data)), 3, "")
	if err != nil {
		t.Fatalf("HashParts: %v", err)
	}
	if len(sums) != 3 {
		t.Fatalf("expected 3 checksums, got %d", len(sums))
	}

	wantRanges := [][2]int{{0, 3}, {3, 6}, {6, 10}}
	for i, r := range wantRanges {
		want, err := HashBytes(data[r[0]:r[1]], "")
		if err != nil {
			t.Fatalf("HashBytes: %v", err)
		}
		if sums[i] != want {
			t.Fatalf("part %d checksum = %q, want %q", i, sums[i], want)
		}
	}
}

func TestHashPartsIsIdempotent(t *testing.T) {
	data := []byte("repeatable content for idempotence check")
	path := writeTempFile(t, data)

	first, err := HashParts(path, int64(len(data)), 4, "")
	if err != nil {
		t.Fatalf("HashParts (first): %v", err)
	}
	second, err := HashParts(path, int64(len(data)), 4, "")
	if err != nil {
		t.Fatalf("HashParts (second): %v", err)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("part %d differs across calls: %q vs %q", i, first[i], second[i])
		}
	}
}

func TestVerifyDetectsMismatch(t *testing.T) {
	if !Verify("abc", "abc") {
		t.Fatalf("expected matching digests to verify")
	}
	if Verify("abc", "def") {
		t.Fatalf("expected mismatched digests to fail verification")
	}
	if Verify("", "") {
		t.Fatalf("expected empty digests to fail verification")
	}
}

func TestHashFileRejectsUnsupportedAlgorithm(t *testing.T) {
	path := writeTempFile(t, []byte("data"))
	if _, err := HashFile(path, "md5"); err == nil {
		t.Fatalf("expected error for unsupported algorithm")
	}
}
