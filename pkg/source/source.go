// Package source defines the contract every connector implements: a lazy,
// finite, non-restartable stream of entities plus an opaque cursor for
// incremental runs. Connectors themselves live out of tree; the registry
// binds kinds to factories with version constraints.
package source

import (
	"context"

	"github.com/skeinhq/skein/pkg/entity"
)

// Source yields entities in batches. After NextBatch returns done=true the
// stream is exhausted and must not be restarted. The source may interleave
// deletion markers for known removals. Cursor returns the interior cursor
// bytes after the most recent logical page; the runtime persists it at batch
// boundaries.
type Source interface {
	NextBatch(ctx context.Context) (batch []*entity.Entity, done bool, err error)
	Cursor() []byte
}

// Config is everything a factory needs to open a stream.
type Config struct {
	// Credentials is the decrypted credential payload. It must not outlive
	// the job run.
	Credentials []byte
	// Cursor is the interior cursor from the previous successful run,
	// nil for a full sync.
	Cursor []byte
}

// Factory opens a Source for one job run.
type Factory func(ctx context.Context, cfg Config) (Source, error)

// IsFullSync reports whether a run starting from this cursor is a full sync.
// Orphan detection only runs on full syncs.
func IsFullSync(cursor []byte) bool {
	return len(cursor) == 0
}
