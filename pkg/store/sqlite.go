package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteEntityRecords is a single-node entity record backend for dev mode.
// It speaks the same EntityRecordStore contract as Postgres.
type SQLiteEntityRecords struct {
	db *sql.DB
}

// NewSQLiteEntityRecords opens the store and runs the migration.
func NewSQLiteEntityRecords(db *sql.DB) (*SQLiteEntityRecords, error) {
	s := &SQLiteEntityRecords{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteEntityRecords) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS entity_records (
		organization_id TEXT NOT NULL,
		sync_id TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		entity_definition_id TEXT NOT NULL,
		hash TEXT NOT NULL,
		last_seen_job_id TEXT NOT NULL DEFAULT '',
		updated_at DATETIME,
		PRIMARY KEY (organization_id, sync_id, entity_id, entity_definition_id)
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteEntityRecords) GetBatch(ctx context.Context, orgID, syncID uuid.UUID, keys []RecordKey) (map[RecordKey]EntityRecord, error) {
	out := make(map[RecordKey]EntityRecord, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	tuples := make([]string, len(keys))
	args := []any{orgID.String(), syncID.String()}
	for i, key := range keys {
		tuples[i] = "(?, ?)"
		args = append(args, key.EntityID, key.DefinitionID)
	}
	query := fmt.Sprintf(`
		SELECT organization_id, sync_id, entity_id, entity_definition_id, hash, last_seen_job_id, updated_at
		FROM entity_records
		WHERE organization_id = ? AND sync_id = ? AND (entity_id, entity_definition_id) IN (VALUES %s)
	`, strings.Join(tuples, ", "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: failed to load entity records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		rec, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, err
		}
		if err := GuardOrg(orgID, rec.OrganizationID); err != nil {
			return nil, err
		}
		out[rec.Key()] = rec
	}
	return out, rows.Err()
}

func (s *SQLiteEntityRecords) Upsert(ctx context.Context, records []EntityRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO entity_records (organization_id, sync_id, entity_id, entity_definition_id, hash, last_seen_job_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (organization_id, sync_id, entity_id, entity_definition_id)
		DO UPDATE SET hash = excluded.hash, last_seen_job_id = excluded.last_seen_job_id, updated_at = excluded.updated_at
	`
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, rec := range records {
		lastSeen := ""
		if rec.LastSeenJobID != uuid.Nil {
			lastSeen = rec.LastSeenJobID.String()
		}
		if _, err := tx.ExecContext(ctx, query, rec.OrganizationID.String(), rec.SyncID.String(), rec.EntityID, rec.DefinitionID, rec.Hash, lastSeen, now); err != nil {
			return fmt.Errorf("store: failed to upsert entity record: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteEntityRecords) BumpLastSeen(ctx context.Context, orgID, syncID uuid.UUID, keys []RecordKey, jobID uuid.UUID) error {
	if len(keys) == 0 {
		return nil
	}
	tuples := make([]string, len(keys))
	args := []any{jobID.String(), time.Now().UTC().Format(time.RFC3339Nano), orgID.String(), syncID.String()}
	for i, key := range keys {
		tuples[i] = "(?, ?)"
		args = append(args, key.EntityID, key.DefinitionID)
	}
	query := fmt.Sprintf(`
		UPDATE entity_records
		SET last_seen_job_id = ?, updated_at = ?
		WHERE organization_id = ? AND sync_id = ? AND (entity_id, entity_definition_id) IN (VALUES %s)
	`, strings.Join(tuples, ", "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("store: failed to bump last seen: %w", err)
	}
	return nil
}

func (s *SQLiteEntityRecords) DeleteBatch(ctx context.Context, orgID, syncID uuid.UUID, keys []RecordKey) error {
	if len(keys) == 0 {
		return nil
	}
	tuples := make([]string, len(keys))
	args := []any{orgID.String(), syncID.String()}
	for i, key := range keys {
		tuples[i] = "(?, ?)"
		args = append(args, key.EntityID, key.DefinitionID)
	}
	query := fmt.Sprintf(`
		DELETE FROM entity_records
		WHERE organization_id = ? AND sync_id = ? AND (entity_id, entity_definition_id) IN (VALUES %s)
	`, strings.Join(tuples, ", "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("store: failed to delete entity records: %w", err)
	}
	return nil
}

func (s *SQLiteEntityRecords) ListNotSeenInJob(ctx context.Context, orgID, syncID, jobID uuid.UUID) ([]EntityRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT organization_id, sync_id, entity_id, entity_definition_id, hash, last_seen_job_id, updated_at
		FROM entity_records
		WHERE organization_id = ? AND sync_id = ? AND last_seen_job_id != ?
		ORDER BY entity_id
	`, orgID.String(), syncID.String(), jobID.String())
	if err != nil {
		return nil, fmt.Errorf("store: failed to list orphan records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []EntityRecord
	for rows.Next() {
		rec, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, err
		}
		if err := GuardOrg(orgID, rec.OrganizationID); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanSQLiteRecord(rows *sql.Rows) (EntityRecord, error) {
	var rec EntityRecord
	var orgID, syncID, lastSeen, updatedAt string
	if err := rows.Scan(&orgID, &syncID, &rec.EntityID, &rec.DefinitionID, &rec.Hash, &lastSeen, &updatedAt); err != nil {
		return rec, fmt.Errorf("store: failed to scan entity record: %w", err)
	}
	rec.OrganizationID, _ = uuid.Parse(orgID)
	rec.SyncID, _ = uuid.Parse(syncID)
	if lastSeen != "" {
		rec.LastSeenJobID, _ = uuid.Parse(lastSeen)
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		rec.UpdatedAt = t
	}
	return rec, nil
}
