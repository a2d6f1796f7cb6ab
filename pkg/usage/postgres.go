package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/skeinhq/skein/pkg/domain"
)

// PostgresLedger implements Ledger on PostgreSQL. Rows are append-only;
// totals are aggregated on read. The compound index keeps both the flush
// write and the total read org-scoped.
type PostgresLedger struct {
	db *sql.DB
}

// NewPostgresLedger creates a PostgreSQL-backed ledger.
func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS usage_ledger (
	id BIGSERIAL PRIMARY KEY,
	organization_id UUID NOT NULL,
	action_type TEXT NOT NULL,
	delta BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_ledger_org_action ON usage_ledger(organization_id, action_type);
`

// Init creates the ledger table.
func (l *PostgresLedger) Init(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, ledgerSchema)
	return err
}

func (l *PostgresLedger) Apply(ctx context.Context, orgID uuid.UUID, action domain.UsageAction, delta int64) error {
	if action == "" {
		return ErrEmptyAction
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO usage_ledger (organization_id, action_type, delta, created_at)
		VALUES ($1, $2, $3, $4)
	`, orgID, string(action), delta, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("usage: failed to append ledger entry: %w", err)
	}
	return nil
}

func (l *PostgresLedger) Total(ctx context.Context, orgID uuid.UUID, action domain.UsageAction) (int64, error) {
	var total sql.NullInt64
	err := l.db.QueryRowContext(ctx, `
		SELECT SUM(delta) FROM usage_ledger
		WHERE organization_id = $1 AND action_type = $2
	`, orgID, string(action)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("usage: failed to read ledger total: %w", err)
	}
	return total.Int64, nil
}
