package schema

import (
	"context"
	"fmt"

	"github.com/telemetryhub/ingestd/internal/storage"
)

// SQLiteSteps returns the ordered schema evolution for the embedded
// backend, per spec.md §4.2. SQLite lacks `ADD COLUMN IF NOT EXISTS`
// and (on older builds) `DROP COLUMN`, so every additive step probes
// `PRAGMA table_info` before altering.
func SQLiteSteps(copilotUsername, copilotPasswordHash, copilotRole string) []Step {
	return []Step{
		{Name: "0001_base_tables", Run: liteBaseTables},
		{Name: "0002_seed_event_types", Run: liteSeedEventTypes},
		{Name: "0003_event_id_backfill", Run: liteEventIDBackfill},
		{Name: "0004_denormalized_columns", Run: liteDenormalizedColumns},
		{Name: "0005_identity_relational_columns", Run: liteIdentityColumns},
		{Name: "0006_indexes", Run: liteIndexes},
		{Name: "0007_seed_copilot_account", Run: liteSeedCopilotFunc(copilotUsername, copilotPasswordHash, copilotRole)},
	}
}

func liteBaseTables(ctx context.Context, db storage.Storage) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS event_types (
			id   INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS telemetry_events (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id    INTEGER NOT NULL REFERENCES event_types(id),
			timestamp   TEXT NOT NULL,
			server_id   TEXT NOT NULL,
			version     TEXT NOT NULL,
			session_id  TEXT,
			user_id     TEXT,
			data        TEXT NOT NULL,
			received_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
		`CREATE TABLE IF NOT EXISTS orgs (
			server_id    TEXT PRIMARY KEY,
			company_name TEXT,
			created_at   TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			updated_at   TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
		`CREATE TABLE IF NOT EXISTS teams (
			id         TEXT PRIMARY KEY,
			name       TEXT UNIQUE NOT NULL,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
		`CREATE TABLE IF NOT EXISTS people (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			email      TEXT,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
		`CREATE TABLE IF NOT EXISTS person_usernames (
			id        TEXT PRIMARY KEY,
			person_id TEXT NOT NULL REFERENCES people(id) ON DELETE CASCADE,
			username  TEXT NOT NULL,
			org_id    TEXT,
			UNIQUE(username, org_id)
		)`,
		`CREATE TABLE IF NOT EXISTS system_users (
			id            TEXT PRIMARY KEY,
			username      TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			role          TEXT NOT NULL DEFAULT 'basic',
			last_login    TEXT,
			created_at    TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
		`CREATE TABLE IF NOT EXISTS remember_tokens (
			id             TEXT PRIMARY KEY,
			system_user_id TEXT NOT NULL REFERENCES system_users(id) ON DELETE CASCADE,
			token_hash     TEXT UNIQUE NOT NULL,
			expires_at     TEXT NOT NULL,
			revoked_at     TEXT,
			user_agent     TEXT,
			ip_address     TEXT,
			created_at     TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
		`CREATE TABLE IF NOT EXISTS login_audit (
			id         TEXT PRIMARY KEY,
			username   TEXT NOT NULL,
			success    INTEGER NOT NULL,
			ip_address TEXT,
			user_agent TEXT,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
		`CREATE TABLE IF NOT EXISTS user_event_stats (
			user_id      TEXT PRIMARY KEY,
			count        INTEGER NOT NULL DEFAULT 0,
			last_event   TEXT,
			display_name TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS org_event_stats (
			server_id    TEXT PRIMARY KEY,
			count        INTEGER NOT NULL DEFAULT 0,
			last_event   TEXT,
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

func liteSeedEventTypes(ctx context.Context, db storage.Storage) error {
	for _, name := range canonicalEventTypes {
		if _, err := db.Exec(ctx,
			`INSERT OR IGNORE INTO event_types (name) VALUES (?)`, name,
		); err != nil {
			return err
		}
	}
	return nil
}

func liteEventIDBackfill(ctx context.Context, db storage.Storage) error {
	hasLegacy, err := liteColumnExists(ctx, db, "telemetry_events", "event")
	if err != nil {
		return err
	}
	if !hasLegacy {
		return nil
	}

	return db.WithTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE telemetry_events
			SET event_id = (SELECT id FROM event_types WHERE event_types.name = telemetry_events.event)
			WHERE event_id IS NULL
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
		if _, err := tx.Exec(ctx, `DROP INDEX IF EXISTS idx_event`); err != nil {
			return err
		}
		// Modern SQLite (>= 3.35) supports DROP COLUMN directly; older
		// builds reject it with an error, so this step relies on the
		// bundled driver's recent SQLite version.
		if _, err := tx.Exec(ctx, `ALTER TABLE telemetry_events DROP COLUMN event`); err != nil {
			return err
		}
		return nil
	})
}

func liteDenormalizedColumns(ctx context.Context, db storage.Storage) error {
	cols := []struct{ name, ddl string }{
		{"org_id", "TEXT"},
		{"user_name", "TEXT"},
		{"tool_name", "TEXT"},
		{"company_name", "TEXT"},
		{"error_message", "TEXT"},
		{"team_id", "TEXT"},
		{"deleted_at", "TEXT"},
		{"area", "TEXT"},
		{"success", "INTEGER NOT NULL DEFAULT 1"},
		{"telemetry_schema_version", "INTEGER NOT NULL DEFAULT 1"},
		{"parent_session_id", "TEXT"},
	}
	if err := liteAddColumnsIfMissing(ctx, db, "telemetry_events", cols); err != nil {
		return err
	}
	return liteAddColumnsIfMissing(ctx, db, "people", []struct{ name, ddl string }{
		{"initials", "TEXT"},
	})
}

func liteIdentityColumns(ctx context.Context, db storage.Storage) error {
	if err := liteAddColumnsIfMissing(ctx, db, "orgs", []struct{ name, ddl string }{
		{"alias", "TEXT"},
		{"color", "TEXT"},
		{"team_id", "TEXT"},
	}); err != nil {
		return err
	}
	return liteAddColumnsIfMissing(ctx, db, "teams", []struct{ name, ddl string }{
		{"color", "TEXT"},
		{"logo_data", "BLOB"},
		{"logo_mime", "TEXT"},
	})
}

func liteIndexes(ctx context.Context, db storage.Storage) error {
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
		// SQLite has no native JSON type; these are expression indexes
		// over json_extract, functionally equivalent to the networked
		// backend's data->>'field' indexes.
		`CREATE INDEX IF NOT EXISTS idx_events_data_org_id ON telemetry_events (json_extract(data, '$.orgId'))`,
		`CREATE INDEX IF NOT EXISTS idx_events_data_user_name ON telemetry_events (json_extract(data, '$.userName'))`,
		`CREATE INDEX IF NOT EXISTS idx_events_data_tool_name ON telemetry_events (json_extract(data, '$.toolName'))`,
		`CREATE INDEX IF NOT EXISTS idx_events_active_sessions ON telemetry_events (session_id) WHERE deleted_at IS NULL`,
	}
	for _, c := range creates {
		if _, err := db.Exec(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func liteSeedCopilotFunc(username, passwordHash, role string) func(ctx context.Context, db storage.Storage) error {
	return func(ctx context.Context, db storage.Storage) error {
		if username == "" || passwordHash == "" {
			return nil
		}
		_, err := db.Exec(ctx, `
			INSERT OR IGNORE INTO system_users (id, username, password_hash, role)
			VALUES (lower(hex(randomblob(16))), ?, ?, ?)
		`, username, passwordHash, role)
		return err
	}
}

func liteColumnExists(ctx context.Context, db storage.Storage, table, column string) (bool, error) {
	rows, err := db.Query(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notNull int
		var dflt any
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

func liteAddColumnsIfMissing(ctx context.Context, db storage.Storage, table string, cols []struct{ name, ddl string }) error {
	for _, c := range cols {
		exists, err := liteColumnExists(ctx, db, table, c.name)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := db.Exec(ctx, fmt.Sprintf(
			`ALTER TABLE %s ADD COLUMN %s %s`, table, c.name, c.ddl,
		)); err != nil {
			return fmt.Errorf("add column %s.%s: %w", table, c.name, err)
		}
	}
	return nil
}
