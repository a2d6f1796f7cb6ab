package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"
)

// HashFields computes the stable content hash: string fields are NFC
// normalized, the whole map is serialized as RFC 8785 canonical JSON, and
// the digest is SHA-256 hex. Two entities with the same embeddable fields
// always hash identically, regardless of map ordering or source encoding.
func HashFields(fields map[string]any) (string, error) {
	normalized := make(map[string]any, len(fields))
	for k, v := range fields {
		if s, ok := v.(string); ok {
			normalized[norm.NFC.String(k)] = norm.NFC.String(s)
			continue
		}
		normalized[norm.NFC.String(k)] = v
	}

	raw, err := json.Marshal(normalized)
	if err != nil {
		return "", fmt.Errorf("entity: hash marshal: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("entity: canonicalize: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
