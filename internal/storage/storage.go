// Package storage defines the uniform interface over the two
// telemetry storage backends: an embedded single-file engine and a
// networked relational engine.
package storage

import (
	"context"
	"database/sql"
)

// Kind identifies which concrete backend a Storage implementation wraps.
type Kind string

const (
	KindSQLite   Kind = "sqlite"
	KindPostgres Kind = "postgres"
)

// Rows is the subset of *sql.Rows that callers need for streamed
// iteration, kept as an interface so callers never depend on
// database/sql directly.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
	Columns() ([]string, error)
}

// Tx is a transactional block: every call against it participates in
// the same transaction until Commit or Rollback.
type Tx interface {
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	Query(ctx context.Context, query string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) *sql.Row
}

// Storage is the uniform operation set spec.md §4.1 requires. Callers
// supply SQL text already written in the target dialect (see
// Placeholder and Kind) — the adapter does not attempt to
// translate between dialects itself, per the "two hand-written
// statement sets" design note.
type Storage interface {
	// Kind reports which backend this instance wraps.
	Kind() Kind

	// Exec runs a statement with positional placeholders and returns
	// the driver result (for RowsAffected / LastInsertId where
	// supported).
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)

	// Query runs a statement and returns a streamed row iterator.
	// Callers must Close the returned Rows.
	Query(ctx context.Context, query string, args ...any) (Rows, error)

	// QueryRow runs a statement expected to return at most one row.
	QueryRow(ctx context.Context, query string, args ...any) *sql.Row

	// WithTx runs fn inside a transaction, committing on nil return
	// and rolling back otherwise. The transaction is also rolled back
	// if fn panics.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// BulkInsert inserts many rows of one table in a single
	// transaction. rows is a slice of positional-argument slices,
	// each matching query's placeholders.
	BulkInsert(ctx context.Context, query string, rows [][]any) error

	// Size reports the number of bytes the backend is currently using
	// on disk (embedded) or reports for its own database (networked).
	Size(ctx context.Context) (int64, error)

	// Placeholder returns the positional placeholder for the nth
	// (1-indexed) bound parameter in this backend's dialect.
	Placeholder(n int) string

	// Ping verifies the backend is reachable, for health checks.
	Ping(ctx context.Context) error

	// Close finalizes the prepared-statement cache and closes the
	// underlying connection/pool.
	Close() error
}
