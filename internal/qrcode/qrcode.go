// Package qrcode renders a transfer descriptor as a scannable QR code, so
// it can travel to a receiver by camera instead of copy-paste.
package qrcode

import (
	"encoding/json"
	"fmt"

	"github.com/skip2/go-qrcode"

	"github.com/airtrans-project/airtrans/pkg/descriptor"
)

// Size is the default PNG edge length, in pixels, used by EncodePNG.
const Size = 512

// EncodePNG marshals d as JSON and renders it as a PNG QR code.
func EncodePNG(d descriptor.Descriptor) ([]byte, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("qrcode: marshal descriptor: %w", err)
	}

	png, err := qrcode.Encode(string(payload), qrcode.Medium, Size)
	if err != nil {
		return nil, fmt.Errorf("qrcode: encode: %w", err)
	}
	return png, nil
}

// Decode parses a scanned QR payload back into a descriptor. Scanning the
// image itself (camera capture, frame decode) is outside this package's
// scope; callers hand it the already-extracted text payload.
func Decode(payload []byte) (descriptor.Descriptor, error) {
	var d descriptor.Descriptor
	if err := json.Unmarshal(payload, &d); err != nil {
		return descriptor.Descriptor{}, fmt.Errorf("qrcode: decode payload: %w", err)
	}
	if err := d.Validate(); err != nil {
		return descriptor.Descriptor{}, fmt.Errorf("qrcode: decoded descriptor invalid: %w", err)
	}
	return d, nil
}
