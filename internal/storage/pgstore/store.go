// Package pgstore implements the networked storage backend against
// PostgreSQL, generalizing the connection-pool setup the teacher
// repo's database.NewPostgres uses.
package pgstore

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	"github.com/telemetryhub/ingestd/internal/storage"
	"github.com/telemetryhub/ingestd/internal/storage/stmtcache"
)

// Config holds the networked backend's connection-pool configuration.
// Defaults follow spec.md §4.1: min≈2 (expressed as MaxIdleConns),
// max≈20, idle eviction≈30s, reuse cap approximated with
// ConnMaxLifetime since database/sql has no native per-connection
// reuse counter.
type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns Config populated with spec.md §4.1's defaults.
func DefaultConfig(url string) Config {
	return Config{
		URL:             url,
		MaxOpenConns:    20,
		MaxIdleConns:    2,
		ConnMaxIdleTime: 30 * time.Second,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// Store is the Postgres-backed storage.Storage implementation.
type Store struct {
	db     *sql.DB
	cache  *stmtcache.Cache
	logger zerolog.Logger
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, storage.NewBackendError("open", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, storage.NewBackendError("ping", err)
	}

	logger.Info().
		Int("max_open_conns", cfg.MaxOpenConns).
		Int("max_idle_conns", cfg.MaxIdleConns).
		Msg("connected to PostgreSQL")

	return &Store{db: db, cache: stmtcache.New(db), logger: logger}, nil
}

func (s *Store) Kind() storage.Kind { return storage.KindPostgres }

func (s *Store) Placeholder(n int) string {
	return placeholderN(n)
}

func placeholderN(n int) string {
	// $1, $2, ...
	digits := [20]byte{}
	i := len(digits)
	for n > 0 {
		i--
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	if i == len(digits) {
		i--
		digits[i] = '0'
	}
	return "$" + string(digits[i:])
}

func (s *Store) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	stmt, err := s.cache.Prepare(ctx, query)
	if err != nil {
		return nil, storage.NewBackendError("exec", err)
	}
	res, err := stmt.ExecContext(ctx, args...)
	if err != nil {
		return nil, storage.NewBackendError("exec", err)
	}
	return res, nil
}

func (s *Store) Query(ctx context.Context, query string, args ...any) (storage.Rows, error) {
	stmt, err := s.cache.Prepare(ctx, query)
	if err != nil {
		return nil, storage.NewBackendError("query", err)
	}
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, storage.NewBackendError("query", err)
	}
	return rows, nil
}

func (s *Store) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	stmt, err := s.cache.Prepare(ctx, query)
	if err != nil {
		// sql.Row defers error reporting to Scan; construct one that
		// always returns the prepare error via a broken query.
		return s.db.QueryRowContext(ctx, query, args...)
	}
	return stmt.QueryRowContext(ctx, args...)
}

func (s *Store) WithTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.NewBackendError("begin", err)
	}

	committed := false
	defer func() {
		if !committed {
			sqlTx.Rollback()
		}
	}()

	if err := fn(&txWrapper{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return storage.NewBackendError("commit", err)
	}
	committed = true
	return nil
}

func (s *Store) BulkInsert(ctx context.Context, query string, rows [][]any) error {
	return s.WithTx(ctx, func(tx storage.Tx) error {
		for _, row := range rows {
			if _, err := tx.Exec(ctx, query, row...); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Size(ctx context.Context) (int64, error) {
	var bytes int64
	row := s.db.QueryRowContext(ctx, `SELECT pg_database_size(current_database())`)
	if err := row.Scan(&bytes); err != nil {
		return 0, storage.NewBackendError("size", err)
	}
	return bytes, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if err := s.cache.Finalize(); err != nil {
		s.logger.Warn().Err(err).Msg("error finalizing prepared statements")
	}
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for callers that need direct
// access (schema migrations).
func (s *Store) DB() *sql.DB { return s.db }

type txWrapper struct {
	tx *sql.Tx
}

func (t *txWrapper) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, storage.NewBackendError("tx exec", err)
	}
	return res, nil
}

func (t *txWrapper) Query(ctx context.Context, query string, args ...any) (storage.Rows, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.NewBackendError("tx query", err)
	}
	return rows, nil
}

func (t *txWrapper) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}
