package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"repairsync/internal/db"
)

// Repo is the SQL store for mirrored orders, clients, statuses and the
// webhook log. A Repo obtained through InTx runs every call inside that
// transaction.
type Repo struct {
	DB      *sql.DB
	Dialect db.Dialect

	tx *sql.Tx
}

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func New(conn *sql.DB, dialect db.Dialect) Repo {
	return Repo{DB: conn, Dialect: dialect}
}

func (r Repo) q() querier {
	if r.tx != nil {
		return r.tx
	}
	return r.DB
}

func (r Repo) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.q().ExecContext(ctx, r.Dialect.Rebind(query), args...)
}

func (r Repo) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return r.q().QueryContext(ctx, r.Dialect.Rebind(query), args...)
}

func (r Repo) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return r.q().QueryRowContext(ctx, r.Dialect.Rebind(query), args...)
}

// InTx runs fn with a transaction-scoped Repo. Nested calls reuse the
// outer transaction.
func (r Repo) InTx(ctx context.Context, fn func(Repo) error) error {
	if r.tx != nil {
		return fn(r)
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	scoped := r
	scoped.tx = tx
	if err := fn(scoped); err != nil {
		return err
	}
	return tx.Commit()
}

// InTransaction reports whether r is bound to a transaction.
func (r Repo) InTransaction() bool { return r.tx != nil }

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func affectedOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

// Cursor pagination uses "sort key|id" pairs, newest first.
func cursorClause(column string, cursorKey string, cursorID int64) (string, []any) {
	if cursorKey == "" || cursorID == 0 {
		return "", nil
	}
	return fmt.Sprintf("(%s < ? OR (%s = ? AND id < ?))", column, column), []any{cursorKey, cursorKey, cursorID}
}
