// Package schema bootstraps and evolves the telemetry fact tables,
// generalizing the teacher repo's database.MigrationRunner to run
// against either storage backend via the storage.Storage interface
// instead of a concrete *Postgres handle.
package schema

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/telemetryhub/ingestd/internal/storage"
)

// Step is one named, idempotent migration step. Steps run in name
// order. The runner does not wrap a step in a transaction; a step that
// needs one opens it itself through WithTx.
type Step struct {
	Name string
	Run  func(ctx context.Context, db storage.Storage) error
}

// Runner applies a backend's ordered Step list, tracking completion in
// a schema_migrations table exactly as the teacher's
// database.MigrationRunner does.
type Runner struct {
	db     storage.Storage
	logger zerolog.Logger
}

// NewRunner creates a migration runner bound to db.
func NewRunner(db storage.Storage, logger zerolog.Logger) *Runner {
	return &Runner{db: db, logger: logger}
}

// Run executes every step in steps that has not already been recorded
// as applied. Safe to call on every process start.
func (r *Runner) Run(ctx context.Context, steps []Step) error {
	r.logger.Info().Msg("starting schema migrations")

	if err := r.createMigrationsTable(ctx); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	applied, err := r.appliedSteps(ctx)
	if err != nil {
		return fmt.Errorf("load applied migrations: %w", err)
	}

	ordered := make([]Step, len(steps))
	copy(ordered, steps)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Name < ordered[j].Name })

	for _, step := range ordered {
		if applied[step.Name] {
			r.logger.Debug().Str("step", step.Name).Msg("migration already applied, skipping")
			continue
		}

		r.logger.Info().Str("step", step.Name).Msg("applying migration")

		if err := step.Run(ctx, r.db); err != nil {
			return fmt.Errorf("migration %s: %w", step.Name, err)
		}

		if err := r.recordStep(ctx, step.Name); err != nil {
			return fmt.Errorf("record migration %s: %w", step.Name, err)
		}

		r.logger.Info().Str("step", step.Name).Msg("migration applied")
	}

	r.logger.Info().Msg("schema migrations complete")
	return nil
}

func (r *Runner) createMigrationsTable(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL
		)
	`)
	return err
}

func (r *Runner) appliedSteps(ctx context.Context) (map[string]bool, error) {
	rows, err := r.db.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (r *Runner) recordStep(ctx context.Context, name string) error {
	ph1, ph2 := r.db.Placeholder(1), r.db.Placeholder(2)
	_, err := r.db.Exec(ctx,
		fmt.Sprintf("INSERT INTO schema_migrations (version, applied_at) VALUES (%s, %s)", ph1, ph2),
		name, time.Now().UTC(),
	)
	return err
}
