package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"stockflow/internal/core/apperror"
)

const sqlStateForeignKeyViolation = "23503"

// builder returns a squirrel builder with PostgreSQL placeholders.
func builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// mapGetError converts a missing row into NotFound.
func mapGetError(err error, entity string, id any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperror.NewNotFound(entity, id)
	}
	return apperror.NewDatabase("get "+entity, err)
}

// mapWriteError converts constraint violations into domain errors.
func mapWriteError(err error, entity string, id any) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateUniqueViolation:
			return apperror.NewConflict(fmt.Sprintf("%s already exists", entity)).
				WithDetail("id", id).
				WithDetail("constraint", pgErr.ConstraintName)
		case sqlStateForeignKeyViolation:
			return apperror.NewNotFound(referencedEntity(pgErr.ConstraintName), id).
				WithDetail("constraint", pgErr.ConstraintName)
		}
	}
	return apperror.NewDatabase("write "+entity, err)
}

func referencedEntity(constraint string) string {
	switch constraint {
	case "items_batch_id_fkey":
		return "batch"
	case "packages_order_id_fkey", "returns_order_id_fkey":
		return "order"
	case "transports_package_id_fkey", "returns_package_id_fkey":
		return "package"
	}
	return "reference"
}

// execGuarded runs an UPDATE guarded by status and version and reports
// ConcurrentModification when no row matched.
func execGuarded(ctx context.Context, q Querier, b squirrel.UpdateBuilder, entity, id string) error {
	sql, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return apperror.NewDatabase("update "+entity, err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewConcurrentModification(entity, id)
	}
	return nil
}

// execInsert runs an INSERT and maps constraint violations.
func execInsert(ctx context.Context, q Querier, b squirrel.InsertBuilder, entity, id string) error {
	sql, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := q.Exec(ctx, sql, args...); err != nil {
		return mapWriteError(err, entity, id)
	}
	return nil
}

// selectOne scans a single row into dst.
func selectOne(ctx context.Context, q Querier, dst any, b squirrel.SelectBuilder, entity, id string) error {
	sql, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build select: %w", err)
	}
	if err := pgxscan.Get(ctx, q, dst, sql, args...); err != nil {
		return mapGetError(err, entity, id)
	}
	return nil
}

// selectMany scans all rows into dst.
func selectMany(ctx context.Context, q Querier, dst any, b squirrel.SelectBuilder, entity string) error {
	sql, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build select: %w", err)
	}
	if err := pgxscan.Select(ctx, q, dst, sql, args...); err != nil {
		return apperror.NewDatabase("list "+entity, err)
	}
	return nil
}
