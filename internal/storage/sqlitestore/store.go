// Package sqlitestore implements the embedded, single-file storage
// backend over github.com/ncruces/go-sqlite3, a cgo-free SQLite
// driver, wrapped behind the same storage.Storage contract as the
// networked backend.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/rs/zerolog"

	"github.com/telemetryhub/ingestd/internal/storage"
	"github.com/telemetryhub/ingestd/internal/storage/stmtcache"
)

// pragmas tunes the embedded engine for a single-writer,
// many-reader ingestion workload: WAL journaling so readers never
// block the writer, NORMAL sync (durable enough once WAL checkpoints,
// faster than FULL), a generous page cache, memory-mapped I/O, and
// temp structures kept off disk.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA cache_size=-65536", // ~64MiB, negative = KiB
	"PRAGMA mmap_size=268435456",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA foreign_keys=ON",
	"PRAGMA busy_timeout=5000",
}

// Store is the SQLite-backed storage.Storage implementation.
type Store struct {
	db     *sql.DB
	cache  *stmtcache.Cache
	path   string
	logger zerolog.Logger
}

// Open opens (creating if absent) the single-file database at path.
func Open(ctx context.Context, path string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, storage.NewBackendError("open", err)
	}

	// A file-backed SQLite connection pool must serialize writers;
	// one connection avoids SQLITE_BUSY from concurrent writers
	// fighting over the same WAL.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, storage.NewBackendError("pragma", fmt.Errorf("%s: %w", p, err))
		}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, storage.NewBackendError("ping", err)
	}

	logger.Info().Str("path", path).Msg("opened embedded database")

	return &Store{db: db, cache: stmtcache.New(db), path: path, logger: logger}, nil
}

func (s *Store) Kind() storage.Kind { return storage.KindSQLite }

func (s *Store) Placeholder(n int) string {
	return "?"
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

// Size reports page_count × page_size, the size of the main database
// file. The WAL file is not included.
func (s *Store) Size(ctx context.Context) (int64, error) {
	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0, storage.NewBackendError("size", err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, storage.NewBackendError("size", err)
	}
	return pageCount * pageSize, nil
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

// IsUniqueViolation reports whether err is a SQLite UNIQUE constraint
// failure, used by callers that need to distinguish a duplicate
// insert from other I/O errors without importing the driver package.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

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
