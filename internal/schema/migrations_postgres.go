package schema

import (
	"context"
	"fmt"

	"github.com/telemetryhub/ingestd/internal/storage"
)

// PostgresSteps returns the ordered schema evolution for the
// networked backend, per spec.md §4.2.
func PostgresSteps(copilotUsername, copilotPasswordHash, copilotRole string) []Step {
	return []Step{
		{Name: "0001_base_tables", Run: pgBaseTables},
		{Name: "0002_seed_event_types", Run: pgSeedEventTypes},
		{Name: "0003_event_id_backfill", Run: pgEventIDBackfill},
		{Name: "0004_denormalized_columns", Run: pgDenormalizedColumns},
		{Name: "0005_identity_relational_columns", Run: pgIdentityColumns},
		{Name: "0006_indexes", Run: pgIndexes},
		{Name: "0007_seed_copilot_account", Run: pgSeedCopilotFunc(copilotUsername, copilotPasswordHash, copilotRole)},
	}
}

func pgBaseTables(ctx context.Context, db storage.Storage) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS event_types (
			id   SERIAL PRIMARY KEY,
			name TEXT UNIQUE NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS telemetry_events (
			id         BIGSERIAL PRIMARY KEY,
			event_id   INTEGER NOT NULL REFERENCES event_types(id),
			timestamp  TIMESTAMPTZ NOT NULL,
			server_id  TEXT NOT NULL,
			version    TEXT NOT NULL,
			session_id TEXT,
			user_id    TEXT,
			data       JSONB NOT NULL,
			received_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS orgs (
			server_id    TEXT PRIMARY KEY,
			company_name TEXT,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS teams (
			id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name       TEXT UNIQUE NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS people (
			id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name       TEXT NOT NULL,
			email      TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS person_usernames (
			id        UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			person_id UUID NOT NULL REFERENCES people(id) ON DELETE CASCADE,
			username  TEXT NOT NULL,
			org_id    TEXT,
			UNIQUE(username, org_id)
		)`,
		`CREATE TABLE IF NOT EXISTS system_users (
			id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			username      TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			role          TEXT NOT NULL DEFAULT 'basic',
			last_login    TIMESTAMPTZ,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS remember_tokens (
			id             UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			system_user_id UUID NOT NULL REFERENCES system_users(id) ON DELETE CASCADE,
			token_hash     TEXT UNIQUE NOT NULL,
			expires_at     TIMESTAMPTZ NOT NULL,
			revoked_at     TIMESTAMPTZ,
			user_agent     TEXT,
			ip_address     TEXT,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS login_audit (
			id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			username   TEXT NOT NULL,
			success    BOOLEAN NOT NULL,
			ip_address TEXT,
			user_agent TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS user_event_stats (
			user_id      TEXT PRIMARY KEY,
			count        BIGINT NOT NULL DEFAULT 0,
			last_event   TIMESTAMPTZ,
			display_name TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS org_event_stats (
			server_id    TEXT PRIMARY KEY,
			count        BIGINT NOT NULL DEFAULT 0,
			last_event   TIMESTAMPTZ,
			display_name TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(ctx, s); err != nil {
			return fmt.Errorf("%s: %w", firstLine(s), err)
		}
	}
	return nil
}

func pgSeedEventTypes(ctx context.Context, db storage.Storage) error {
	for _, name := range canonicalEventTypes {
		if _, err := db.Exec(ctx,
			`INSERT INTO event_types (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name,
		); err != nil {
			return err
		}
	}
	return nil
}

func pgEventIDBackfill(ctx context.Context, db storage.Storage) error {
	hasLegacy, err := pgColumnExists(ctx, db, "telemetry_events", "event")
	if err != nil {
		return err
	}
	if !hasLegacy {
		return nil
	}

	return db.WithTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE telemetry_events te
			SET event_id = et.id
			FROM event_types et
			WHERE te.event = et.name AND te.event_id IS NULL
		`); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			UPDATE telemetry_events
			SET event_id = (SELECT id FROM event_types WHERE name = 'custom')
			WHERE event_id IS NULL
		`); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `ALTER TABLE telemetry_events DROP COLUMN IF EXISTS event`); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DROP INDEX IF EXISTS idx_event`); err != nil {
			return err
		}
		return nil
	})
}

func pgDenormalizedColumns(ctx context.Context, db storage.Storage) error {
	cols := []struct{ name, ddl string }{
		{"org_id", "TEXT"},
		{"user_name", "TEXT"},
		{"tool_name", "TEXT"},
		{"company_name", "TEXT"},
		{"error_message", "TEXT"},
		{"team_id", "UUID"},
		{"deleted_at", "TIMESTAMPTZ"},
		{"area", "TEXT"},
		{"success", "BOOLEAN NOT NULL DEFAULT true"},
		{"telemetry_schema_version", "SMALLINT NOT NULL DEFAULT 1"},
		{"parent_session_id", "TEXT"},
	}
	for _, c := range cols {
		if _, err := db.Exec(ctx, fmt.Sprintf(
			`ALTER TABLE telemetry_events ADD COLUMN IF NOT EXISTS %s %s`, c.name, c.ddl,
		)); err != nil {
			return fmt.Errorf("add column %s: %w", c.name, err)
		}
	}
	if _, err := db.Exec(ctx, `ALTER TABLE people ADD COLUMN IF NOT EXISTS initials TEXT`); err != nil {
		return fmt.Errorf("add column people.initials: %w", err)
	}
	return nil
}

func pgIdentityColumns(ctx context.Context, db storage.Storage) error {
	orgCols := []struct{ name, ddl string }{
		{"alias", "TEXT"},
		{"color", "TEXT"},
		{"team_id", "UUID REFERENCES teams(id)"},
	}
	for _, c := range orgCols {
		if _, err := db.Exec(ctx, fmt.Sprintf(
			`ALTER TABLE orgs ADD COLUMN IF NOT EXISTS %s %s`, c.name, c.ddl,
		)); err != nil {
			return fmt.Errorf("add column orgs.%s: %w", c.name, err)
		}
	}
	teamCols := []struct{ name, ddl string }{
		{"color", "TEXT"},
		{"logo_data", "BYTEA"},
		{"logo_mime", "TEXT"},
	}
	for _, c := range teamCols {
		if _, err := db.Exec(ctx, fmt.Sprintf(
			`ALTER TABLE teams ADD COLUMN IF NOT EXISTS %s %s`, c.name, c.ddl,
		)); err != nil {
			return fmt.Errorf("add column teams.%s: %w", c.name, err)
		}
	}
	return nil
}

func pgIndexes(ctx context.Context, db storage.Storage) error {
	drops := []string{
		"idx_created_at", "idx_event", "idx_session_id",
		"idx_user_id", "idx_server_id",
	}
	for _, name := range drops {
		if _, err := db.Exec(ctx, fmt.Sprintf(`DROP INDEX IF EXISTS %s`, name)); err != nil {
			return err
		}
	}

	creates := []string{
		`CREATE INDEX IF NOT EXISTS idx_events_event_created ON telemetry_events (event_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_user_created ON telemetry_events (user_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_team_created ON telemetry_events (team_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_deleted_created ON telemetry_events (deleted_at, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_parent_session_ts ON telemetry_events (parent_session_id, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_events_session_ts ON telemetry_events (session_id, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_events_data_org_id ON telemetry_events ((data->>'orgId'))`,
		`CREATE INDEX IF NOT EXISTS idx_events_data_user_name ON telemetry_events ((data->>'userName'))`,
		`CREATE INDEX IF NOT EXISTS idx_events_data_tool_name ON telemetry_events ((data->>'toolName'))`,
		`CREATE INDEX IF NOT EXISTS idx_events_active_sessions ON telemetry_events (session_id) WHERE deleted_at IS NULL`,
	}
	for _, c := range creates {
		if _, err := db.Exec(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func pgSeedCopilotFunc(username, passwordHash, role string) func(ctx context.Context, db storage.Storage) error {
	return func(ctx context.Context, db storage.Storage) error {
		if username == "" || passwordHash == "" {
			return nil
		}
		_, err := db.Exec(ctx, `
			INSERT INTO system_users (username, password_hash, role)
			VALUES ($1, $2, $3)
			ON CONFLICT (username) DO NOTHING
		`, username, passwordHash, role)
		return err
	}
}

func pgColumnExists(ctx context.Context, db storage.Storage, table, column string) (bool, error) {
	var exists bool
	row := db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_name = $1 AND column_name = $2
		)
	`, table, column)
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}
