package usage

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeinhq/skein/pkg/domain"
)

func TestPostgresLedgerApply(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	orgID := uuid.New()
	mock.ExpectExec("INSERT INTO usage_ledger").
		WithArgs(orgID, "entities", int64(42), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	ledger := NewPostgresLedger(db)
	require.NoError(t, ledger.Apply(context.Background(), orgID, domain.UsageEntities, 42))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedgerApplyRejectsEmptyAction(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ledger := NewPostgresLedger(db)
	assert.ErrorIs(t, ledger.Apply(context.Background(), uuid.New(), "", 1), ErrEmptyAction)
}

func TestPostgresLedgerTotal(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	orgID := uuid.New()
	mock.ExpectQuery("SELECT SUM\\(delta\\) FROM usage_ledger").
		WithArgs(orgID, "entities").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(int64(1337)))

	ledger := NewPostgresLedger(db)
	total, err := ledger.Total(context.Background(), orgID, domain.UsageEntities)
	require.NoError(t, err)
	assert.Equal(t, int64(1337), total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedgerTotalEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	orgID := uuid.New()
	mock.ExpectQuery("SELECT SUM\\(delta\\) FROM usage_ledger").
		WithArgs(orgID, "queries").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(nil))

	ledger := NewPostgresLedger(db)
	total, err := ledger.Total(context.Background(), orgID, domain.UsageQueries)
	require.NoError(t, err)
	assert.Zero(t, total, "empty ledger reads as zero, not an error")
}
