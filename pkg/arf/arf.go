// Package arf is the archive of raw format: every raw entity payload a
// source produced, stored by identity so a sync can be replayed into a new
// destination without re-crawling the source.
package arf

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Key identifies one archived entity payload.
type Key struct {
	OrganizationID uuid.UUID
	SyncID         uuid.UUID
	EntityID       string
	DefinitionID   string
}

// Path returns the object path for the key. Entity ids may contain slashes,
// so they are escaped before joining.
func (k Key) Path() string {
	return fmt.Sprintf("%s/%s/%s/%s.json",
		k.OrganizationID, k.SyncID, escape(k.DefinitionID), escape(k.EntityID))
}

// escape must rewrite "%" as well as the separators: an id containing a
// literal "%2F" would otherwise alias an id containing "/".
func escape(s string) string {
	return strings.NewReplacer("%", "%25", "/", "%2F", "\\", "%5C").Replace(s)
}

// Store persists raw entity payloads.
type Store interface {
	// Put writes the payload for the key, overwriting any previous version.
	Put(ctx context.Context, key Key, data []byte) error
	// Get retrieves the payload for the key.
	Get(ctx context.Context, key Key) ([]byte, error)
	// Delete removes the payload for the key. Deleting a missing key is not
	// an error.
	Delete(ctx context.Context, key Key) error
	// List returns every key archived for the sync.
	List(ctx context.Context, orgID, syncID uuid.UUID) ([]Key, error)
}

// ErrNotFound is returned by Get when no payload exists for the key.
type ErrNotFound struct {
	Key Key
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("arf: payload not found: %s", e.Key.Path())
}

func unescape(s string) string {
	return strings.NewReplacer("%2F", "/", "%5C", "\\", "%25", "%").Replace(s)
}

// parsePath inverts Key.Path. Returns false for paths this store did not
// produce.
func parsePath(path string) (Key, bool) {
	parts := strings.Split(strings.TrimSuffix(path, ".json"), "/")
	if len(parts) != 4 || !strings.HasSuffix(path, ".json") {
		return Key{}, false
	}
	orgID, err := uuid.Parse(parts[0])
	if err != nil {
		return Key{}, false
	}
	syncID, err := uuid.Parse(parts[1])
	if err != nil {
		return Key{}, false
	}
	return Key{
		OrganizationID: orgID,
		SyncID:         syncID,
		DefinitionID:   unescape(parts[2]),
		EntityID:       unescape(parts[3]),
	}, true
}
