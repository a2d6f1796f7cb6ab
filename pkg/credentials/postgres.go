package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const schema = `
CREATE TABLE IF NOT EXISTS credentials (
	id UUID PRIMARY KEY,
	organization_id UUID NOT NULL,
	source_kind TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_credentials_org ON credentials(organization_id);
`

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	cipher *Cipher
}

// NewPostgresStore creates a PostgreSQL-backed credential store.
func NewPostgresStore(db *sql.DB, cipher *Cipher) *PostgresStore {
	return &PostgresStore{db: db, cipher: cipher}
}

// Init creates the necessary database tables.
func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *PostgresStore) Save(ctx context.Context, cred *Credential) error {
	if cred.ID == uuid.Nil {
		cred.ID = uuid.New()
	}
	blob, err := s.cipher.Seal(cred.Payload)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credentials (id, organization_id, source_kind, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at
	`, cred.ID, cred.OrganizationID, cred.SourceKind, blob, cred.CreatedAt, cred.UpdatedAt)
	if err != nil {
		return fmt.Errorf("credentials: failed to save: %w", err)
	}
	return nil
}

func (s *PostgresStore) Resolve(ctx context.Context, orgID, id uuid.UUID) (*Credential, error) {
	var cred Credential
	var blob string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, source_kind, payload, created_at, updated_at
		FROM credentials
		WHERE organization_id = $1 AND id = $2
	`, orgID, id).Scan(&cred.ID, &cred.OrganizationID, &cred.SourceKind, &blob, &cred.CreatedAt, &cred.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("credentials: failed to load: %w", err)
	}
	cred.Payload, err = s.cipher.Open(blob)
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

func (s *PostgresStore) Delete(ctx context.Context, orgID, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM credentials WHERE organization_id = $1 AND id = $2
	`, orgID, id)
	if err != nil {
		return fmt.Errorf("credentials: failed to delete: %w", err)
	}
	return nil
}
