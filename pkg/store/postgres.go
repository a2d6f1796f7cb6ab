package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/skeinhq/skein/pkg/domain"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS entity_records (
	organization_id UUID NOT NULL,
	sync_id UUID NOT NULL,
	entity_id TEXT NOT NULL,
	entity_definition_id TEXT NOT NULL,
	hash TEXT NOT NULL,
	last_seen_job_id UUID,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (organization_id, sync_id, entity_id, entity_definition_id)
);
CREATE TABLE IF NOT EXISTS collection_entity_records (
	organization_id UUID NOT NULL,
	collection_id UUID NOT NULL,
	sync_id UUID NOT NULL,
	entity_id TEXT NOT NULL,
	entity_definition_id TEXT NOT NULL,
	hash TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (organization_id, collection_id, entity_id, entity_definition_id)
);
CREATE TABLE IF NOT EXISTS sync_jobs (
	id UUID PRIMARY KEY,
	organization_id UUID NOT NULL,
	sync_id UUID NOT NULL,
	status TEXT NOT NULL,
	config JSONB,
	stats JSONB,
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	finished_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_sync_jobs_org_sync ON sync_jobs(organization_id, sync_id, created_at DESC);
CREATE TABLE IF NOT EXISTS sync_cursors (
	organization_id UUID NOT NULL,
	sync_id UUID NOT NULL,
	cursor BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (organization_id, sync_id)
);
`

// Postgres implements the core stores on PostgreSQL.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a PostgreSQL-backed store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Init creates the necessary database tables.
func (p *Postgres) Init(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, postgresSchema)
	return err
}

// PostgresEntityRecords implements EntityRecordStore.
type PostgresEntityRecords struct{ *Postgres }

// EntityRecords returns the entity record store view.
func (p *Postgres) EntityRecords() PostgresEntityRecords { return PostgresEntityRecords{p} }

func (p PostgresEntityRecords) GetBatch(ctx context.Context, orgID, syncID uuid.UUID, keys []RecordKey) (map[RecordKey]EntityRecord, error) {
	out := make(map[RecordKey]EntityRecord, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	where, args := keyPredicate(keys, 3)
	args = append([]any{orgID, syncID}, args...)
	query := fmt.Sprintf(`
		SELECT organization_id, sync_id, entity_id, entity_definition_id, hash, last_seen_job_id, updated_at
		FROM entity_records
		WHERE organization_id = $1 AND sync_id = $2 AND %s
	`, where)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: failed to load entity records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var rec EntityRecord
		var lastSeen sql.NullString
		if err := rows.Scan(&rec.OrganizationID, &rec.SyncID, &rec.EntityID, &rec.DefinitionID, &rec.Hash, &lastSeen, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: failed to scan entity record: %w", err)
		}
		if lastSeen.Valid {
			rec.LastSeenJobID, _ = uuid.Parse(lastSeen.String)
		}
		if err := GuardOrg(orgID, rec.OrganizationID); err != nil {
			return nil, err
		}
		out[rec.Key()] = rec
	}
	return out, rows.Err()
}

func (p PostgresEntityRecords) Upsert(ctx context.Context, records []EntityRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entity_records (organization_id, sync_id, entity_id, entity_definition_id, hash, last_seen_job_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (organization_id, sync_id, entity_id, entity_definition_id)
		DO UPDATE SET hash = EXCLUDED.hash, last_seen_job_id = EXCLUDED.last_seen_job_id, updated_at = EXCLUDED.updated_at
	`)
	if err != nil {
		return fmt.Errorf("store: failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UTC()
	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, rec.OrganizationID, rec.SyncID, rec.EntityID, rec.DefinitionID, rec.Hash, nullUUID(rec.LastSeenJobID), now); err != nil {
			return fmt.Errorf("store: failed to upsert entity record: %w", err)
		}
	}
	return tx.Commit()
}

func (p PostgresEntityRecords) BumpLastSeen(ctx context.Context, orgID, syncID uuid.UUID, keys []RecordKey, jobID uuid.UUID) error {
	if len(keys) == 0 {
		return nil
	}
	where, args := keyPredicate(keys, 4)
	args = append([]any{jobID, orgID, syncID}, args...)
	query := fmt.Sprintf(`
		UPDATE entity_records
		SET last_seen_job_id = $1, updated_at = NOW()
		WHERE organization_id = $2 AND sync_id = $3 AND %s
	`, where)
	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("store: failed to bump last seen: %w", err)
	}
	return nil
}

func (p PostgresEntityRecords) DeleteBatch(ctx context.Context, orgID, syncID uuid.UUID, keys []RecordKey) error {
	if len(keys) == 0 {
		return nil
	}
	where, args := keyPredicate(keys, 3)
	args = append([]any{orgID, syncID}, args...)
	query := fmt.Sprintf(`
		DELETE FROM entity_records
		WHERE organization_id = $1 AND sync_id = $2 AND %s
	`, where)
	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("store: failed to delete entity records: %w", err)
	}
	return nil
}

func (p PostgresEntityRecords) ListNotSeenInJob(ctx context.Context, orgID, syncID, jobID uuid.UUID) ([]EntityRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT organization_id, sync_id, entity_id, entity_definition_id, hash, last_seen_job_id, updated_at
		FROM entity_records
		WHERE organization_id = $1 AND sync_id = $2 AND (last_seen_job_id IS NULL OR last_seen_job_id != $3)
		ORDER BY entity_id
	`, orgID, syncID, jobID)
	if err != nil {
		return nil, fmt.Errorf("store: failed to list orphan records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []EntityRecord
	for rows.Next() {
		var rec EntityRecord
		var lastSeen sql.NullString
		if err := rows.Scan(&rec.OrganizationID, &rec.SyncID, &rec.EntityID, &rec.DefinitionID, &rec.Hash, &lastSeen, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: failed to scan entity record: %w", err)
		}
		if lastSeen.Valid {
			rec.LastSeenJobID, _ = uuid.Parse(lastSeen.String)
		}
		if err := GuardOrg(orgID, rec.OrganizationID); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PostgresCollectionRecords implements CollectionRecordStore.
type PostgresCollectionRecords struct{ *Postgres }

// CollectionRecords returns the collection record store view.
func (p *Postgres) CollectionRecords() PostgresCollectionRecords { return PostgresCollectionRecords{p} }

func (p PostgresCollectionRecords) GetBatch(ctx context.Context, orgID, collectionID uuid.UUID, keys []RecordKey) (map[RecordKey]CollectionEntityRecord, error) {
	out := make(map[RecordKey]CollectionEntityRecord, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	where, args := keyPredicate(keys, 3)
	args = append([]any{orgID, collectionID}, args...)
	query := fmt.Sprintf(`
		SELECT organization_id, collection_id, sync_id, entity_id, entity_definition_id, hash, updated_at
		FROM collection_entity_records
		WHERE organization_id = $1 AND collection_id = $2 AND %s
	`, where)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: failed to load collection records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var rec CollectionEntityRecord
		if err := rows.Scan(&rec.OrganizationID, &rec.CollectionID, &rec.SyncID, &rec.EntityID, &rec.DefinitionID, &rec.Hash, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: failed to scan collection record: %w", err)
		}
		if err := GuardOrg(orgID, rec.OrganizationID); err != nil {
			return nil, err
		}
		out[rec.Key()] = rec
	}
	return out, rows.Err()
}

func (p PostgresCollectionRecords) Upsert(ctx context.Context, records []CollectionEntityRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO collection_entity_records (organization_id, collection_id, sync_id, entity_id, entity_definition_id, hash, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (organization_id, collection_id, entity_id, entity_definition_id)
		DO UPDATE SET sync_id = EXCLUDED.sync_id, hash = EXCLUDED.hash, updated_at = EXCLUDED.updated_at
	`)
	if err != nil {
		return fmt.Errorf("store: failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UTC()
	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, rec.OrganizationID, rec.CollectionID, rec.SyncID, rec.EntityID, rec.DefinitionID, rec.Hash, now); err != nil {
			return fmt.Errorf("store: failed to upsert collection record: %w", err)
		}
	}
	return tx.Commit()
}

func (p PostgresCollectionRecords) DeleteBatch(ctx context.Context, orgID, collectionID uuid.UUID, keys []RecordKey) error {
	if len(keys) == 0 {
		return nil
	}
	where, args := keyPredicate(keys, 3)
	args = append([]any{orgID, collectionID}, args...)
	query := fmt.Sprintf(`
		DELETE FROM collection_entity_records
		WHERE organization_id = $1 AND collection_id = $2 AND %s
	`, where)
	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("store: failed to delete collection records: %w", err)
	}
	return nil
}

// PostgresSyncJobs implements SyncJobStore.
type PostgresSyncJobs struct{ *Postgres }

// SyncJobs returns the sync job store view.
func (p *Postgres) SyncJobs() PostgresSyncJobs { return PostgresSyncJobs{p} }

func (p PostgresSyncJobs) Create(ctx context.Context, job *domain.SyncJob) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	stats, err := marshalStats(job.Stats)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO sync_jobs (id, organization_id, sync_id, status, config, stats, error, created_at, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, job.ID, job.OrganizationID, job.SyncID, job.Status, []byte(job.Config), stats, job.Error, job.CreatedAt, job.StartedAt, job.FinishedAt)
	if err != nil {
		return fmt.Errorf("store: failed to create sync job: %w", err)
	}
	return nil
}

func (p PostgresSyncJobs) Get(ctx context.Context, orgID, jobID uuid.UUID) (*domain.SyncJob, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, organization_id, sync_id, status, config, stats, error, created_at, started_at, finished_at
		FROM sync_jobs
		WHERE organization_id = $1 AND id = $2
	`, orgID, jobID)
	job, err := scanJob(row)
	if err != nil {
		return nil, err
	}
	if err := GuardOrg(orgID, job.OrganizationID); err != nil {
		return nil, err
	}
	return job, nil
}

func (p PostgresSyncJobs) Update(ctx context.Context, job *domain.SyncJob) error {
	stats, err := marshalStats(job.Stats)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE sync_jobs
		SET status = $1, stats = $2, error = $3, started_at = $4, finished_at = $5
		WHERE organization_id = $6 AND id = $7
	`, job.Status, stats, job.Error, job.StartedAt, job.FinishedAt, job.OrganizationID, job.ID)
	if err != nil {
		return fmt.Errorf("store: failed to update sync job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errJobNotFound
	}
	return nil
}

func (p PostgresSyncJobs) ListBySync(ctx context.Context, orgID, syncID uuid.UUID) ([]domain.SyncJob, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, organization_id, sync_id, status, config, stats, error, created_at, started_at, finished_at
		FROM sync_jobs
		WHERE organization_id = $1 AND sync_id = $2
		ORDER BY created_at DESC
	`, orgID, syncID)
	if err != nil {
		return nil, fmt.Errorf("store: failed to list sync jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.SyncJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		if err := GuardOrg(orgID, job.OrganizationID); err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

func (p PostgresSyncJobs) HasActive(ctx context.Context, orgID, syncID uuid.UUID) (bool, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM sync_jobs
		WHERE organization_id = $1 AND sync_id = $2 AND status IN ('pending', 'running', 'cancelling')
	`, orgID, syncID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("store: failed to count active jobs: %w", err)
	}
	return count > 0, nil
}

// PostgresCursors implements CursorStore.
type PostgresCursors struct{ *Postgres }

// Cursors returns the cursor store view.
func (p *Postgres) Cursors() PostgresCursors { return PostgresCursors{p} }

func (p PostgresCursors) Get(ctx context.Context, orgID, syncID uuid.UUID) ([]byte, error) {
	var data []byte
	err := p.db.QueryRowContext(ctx, `
		SELECT cursor FROM sync_cursors WHERE organization_id = $1 AND sync_id = $2
	`, orgID, syncID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: failed to load cursor: %w", err)
	}
	return data, nil
}

func (p PostgresCursors) Commit(ctx context.Context, orgID, syncID uuid.UUID, data []byte) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO sync_cursors (organization_id, sync_id, cursor, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (organization_id, sync_id)
		DO UPDATE SET cursor = EXCLUDED.cursor, updated_at = NOW()
	`, orgID, syncID, data)
	if err != nil {
		return fmt.Errorf("store: failed to commit cursor: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.SyncJob, error) {
	var job domain.SyncJob
	var config, stats []byte
	err := row.Scan(&job.ID, &job.OrganizationID, &job.SyncID, &job.Status, &config, &stats, &job.Error, &job.CreatedAt, &job.StartedAt, &job.FinishedAt)
	if err == sql.ErrNoRows {
		return nil, errJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: failed to scan sync job: %w", err)
	}
	job.Config = json.RawMessage(config)
	if len(stats) > 0 {
		job.Stats = &domain.JobStats{}
		if err := json.Unmarshal(stats, job.Stats); err != nil {
			return nil, fmt.Errorf("store: failed to decode job stats: %w", err)
		}
	}
	return &job, nil
}

func marshalStats(stats *domain.JobStats) ([]byte, error) {
	if stats == nil {
		return nil, nil
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return nil, fmt.Errorf("store: failed to marshal job stats: %w", err)
	}
	return data, nil
}

func nullUUID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}

// keyPredicate builds a (entity_id, entity_definition_id) IN (...) predicate
// with placeholders starting at first.
func keyPredicate(keys []RecordKey, first int) (string, []any) {
	tuples := make([]string, len(keys))
	args := make([]any, 0, len(keys)*2)
	n := first
	for i, key := range keys {
		tuples[i] = fmt.Sprintf("($%d, $%d)", n, n+1)
		args = append(args, key.EntityID, key.DefinitionID)
		n += 2
	}
	return "(entity_id, entity_definition_id) IN (" + strings.Join(tuples, ", ") + ")", args
}
