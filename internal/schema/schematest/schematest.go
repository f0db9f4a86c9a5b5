// Package schematest opens a throwaway embedded store with the full
// schema applied, for use from other packages' tests.
package schematest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/telemetryhub/ingestd/internal/schema"
	"github.com/telemetryhub/ingestd/internal/storage"
	"github.com/telemetryhub/ingestd/internal/storage/sqlitestore"
)

// Open returns a fresh SQLite-backed storage.Storage with every
// schema step applied, closed automatically at test cleanup.
func Open(t *testing.T) storage.Storage {
	t.Helper()

	ctx := context.Background()
	logger := zerolog.Nop()

	path := filepath.Join(t.TempDir(), "ingestd_test.db")
	db, err := sqlitestore.Open(ctx, path, logger)
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	runner := schema.NewRunner(db, logger)
	if err := runner.Run(ctx, schema.SQLiteSteps("", "", "")); err != nil {
		t.Fatalf("run schema: %v", err)
	}

	return db
}
