package source

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// EncodeCursor converts interior cursor bytes to the boundary form:
// base64-encoded JSON. The interior shape belongs to the source; the
// boundary only guarantees it is JSON.
func EncodeCursor(interior []byte) (string, error) {
	if len(interior) == 0 {
		return "", nil
	}
	if !json.Valid(interior) {
		return "", fmt.Errorf("source: cursor interior is not valid JSON")
	}
	return base64.StdEncoding.EncodeToString(interior), nil
}

// DecodeCursor converts the boundary form back to interior bytes.
func DecodeCursor(boundary string) ([]byte, error) {
	if boundary == "" {
		return nil, nil
	}
	interior, err := base64.StdEncoding.DecodeString(boundary)
	if err != nil {
		return nil, fmt.Errorf("source: cursor is not valid base64: %w", err)
	}
	if !json.Valid(interior) {
		return nil, fmt.Errorf("source: decoded cursor is not valid JSON")
	}
	return interior, nil
}
