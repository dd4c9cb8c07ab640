package qrcode

import (
	"encoding/json"
	"testing"

	"github.com/airtrans-project/airtrans/pkg/descriptor"
)

func sampleDescriptor() descriptor.Descriptor {
	return descriptor.Descriptor{
		Filename:       "movie.mp4",
		Filesize:       1024,
		IP:             "192.168.1.10",
		Ports:          []int{5001},
		NumParts:       1,
		Checksum:       "abc123",
		ChunkChecksums: []string{"abc123"},
		Version:        descriptor.CurrentVersion,
	}
}

func TestEncodePNGProducesNonEmptyImage(t *testing.T) {
	png, err := EncodePNG(sampleDescriptor())
	if err != nil {
		t.Fatalf("EncodePNG: %v", err)
	}
	if len(png) == 0 {
		t.Fatalf("expected non-empty PNG bytes")
	}
	// PNG magic bytes.
	want := []byte{0x89, 'P', 'N', 'G'}
	for i, b := range want {
		if png[i] != b {
			t.Fatalf("missing PNG signature at byte %d: got %x", i, png[i])
		}
	}
}

func TestDecodeRoundTripsJSONPayload(t *testing.T) {
	d := sampleDescriptor()
	payload, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	got, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Filename != d.Filename || got.Checksum != d.Checksum {
		t.Fatalf("decoded descriptor = %+v, want %+v", got, d)
	}
}

func TestDecodeRejectsInvalidDescriptor(t *testing.T) {
	bad, _ := json.Marshal(map[string]any{"filename": "x"})
	if _, err := Decode(bad); err == nil {
		t.Fatalf("expected error decoding invalid descriptor")
	}
}
