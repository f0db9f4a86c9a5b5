package schema_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/telemetryhub/ingestd/internal/schema"
	"github.com/telemetryhub/ingestd/internal/storage/sqlitestore"
)

func TestRunnerIsIdempotent(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.Nop()

	path := filepath.Join(t.TempDir(), "schema_test.db")
	db, err := sqlitestore.Open(ctx, path, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer db.Close()

	steps := schema.SQLiteSteps("copilot", "hash", "administrator")
	runner := schema.NewRunner(db, logger)

	if err := runner.Run(ctx, steps); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := runner.Run(ctx, steps); err != nil {
		t.Fatalf("second run: %v", err)
	}

	var count int
	row := db.QueryRow(ctx, `SELECT COUNT(*) FROM system_users WHERE username = ?`, "copilot")
	if err := row.Scan(&count); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one seeded copilot account after two runs, got %d", count)
	}
}

func TestRunnerAppliesStepsOnce(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.Nop()

	path := filepath.Join(t.TempDir(), "schema_test2.db")
	db, err := sqlitestore.Open(ctx, path, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer db.Close()

	runner := schema.NewRunner(db, logger)
	if err := runner.Run(ctx, schema.SQLiteSteps("", "", "")); err != nil {
		t.Fatalf("run: %v", err)
	}

	var applied int
	row := db.QueryRow(ctx, `SELECT COUNT(*) FROM schema_migrations`)
	if err := row.Scan(&applied); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if applied != len(schema.SQLiteSteps("", "", "")) {
		t.Fatalf("expected %d recorded migrations, got %d", len(schema.SQLiteSteps("", "", "")), applied)
	}
}
