package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockflow/internal/core/apperror"
	"stockflow/internal/domain/packaging"
)

func TestMapGetError(t *testing.T) {
	err := mapGetError(fmt.Errorf("scan: %w", pgx.ErrNoRows), "package", "PKG-1")
	assert.True(t, apperror.IsNotFound(err))

	err = mapGetError(errors.New("connection reset"), "package", "PKG-1")
	assert.Equal(t, apperror.CodeDatabase, apperror.Code(err))
}

func TestMapWriteError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
		entity   string
	}{
		{
			name:     "unique violation",
			err:      &pgconn.PgError{Code: sqlStateUniqueViolation, ConstraintName: "packages_pkey"},
			wantCode: apperror.CodeConflict,
		},
		{
			name:     "missing batch",
			err:      &pgconn.PgError{Code: sqlStateForeignKeyViolation, ConstraintName: "items_batch_id_fkey"},
			wantCode: apperror.CodeNotFound,
			entity:   "batch",
		},
		{
			name:     "other",
			err:      errors.New("boom"),
			wantCode: apperror.CodeDatabase,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapWriteError(tt.err, "item", "X")
			assert.Equal(t, tt.wantCode, apperror.Code(err))
			if tt.entity != "" {
				appErr, ok := apperror.AsAppError(err)
				require.True(t, ok)
				assert.Equal(t, tt.entity, appErr.Details["entity"])
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(fmt.Errorf("commit: %w", &pgconn.PgError{Code: sqlStateSerializationFailure})))
	assert.True(t, isRetryable(&pgconn.PgError{Code: sqlStateDeadlockDetected}))
	assert.False(t, isRetryable(&pgconn.PgError{Code: sqlStateUniqueViolation}))
	assert.False(t, isRetryable(errors.New("plain")))
}

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@localhost:5432/db?sslmode=disable",
		migrateURL("postgres://u:p@localhost:5432/db?sslmode=disable"))
	assert.Equal(t, "pgx5://localhost/db", migrateURL("postgresql://localhost/db"))
	assert.Equal(t, "pgx5://already", migrateURL("pgx5://already"))
}

func TestGuardedUpdateSQL(t *testing.T) {
	sql, args, err := builder().Update("packages").
		Set("status", packaging.StatusReadyForDispatch).
		Set("version", squirrel.Expr("version + 1")).
		Where(squirrel.Eq{"id": "PKG-1", "status": packaging.StatusCreated, "version": 3}).
		ToSql()
	require.NoError(t, err)
	assert.Equal(t,
		"UPDATE packages SET status = $1, version = version + 1 WHERE id = $2 AND status = $3 AND version = $4",
		sql)
	assert.Equal(t, []any{packaging.StatusReadyForDispatch, "PKG-1", packaging.StatusCreated, 3}, args)
}

func TestOpenByItemsSQL(t *testing.T) {
	sql, _, err := builder().Select("id").From("packages").
		Where("item_ids && ?", []string{"a", "b"}).
		Where(squirrel.Eq{"status": openPackageStatuses}).
		ToSql()
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT id FROM packages WHERE item_ids && $1 AND status IN ($2,$3,$4,$5)",
		sql)
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "000001_fulfillment.up.sql")
	assert.Contains(t, names, "000002_system.down.sql")
	assert.Contains(t, names, "000003_products_notify.up.sql")
	assert.Len(t, names, 8)
}
