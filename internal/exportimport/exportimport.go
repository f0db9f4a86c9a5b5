// Package exportimport implements the full-database export/import
// protocol: a single JSON document capturing every row of the
// exported tables, and a conflict-update-by-primary-key import of
// that document back into one transaction.
package exportimport

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/telemetryhub/ingestd/internal/storage"
)

// FormatVersion is the export document's schema version.
const FormatVersion = "1.0"

// table describes one exportable/importable table.
type table struct {
	// name is the JSON key under "tables" in the export document.
	name string
	// sqlName is the actual table name in the schema (differs from
	// name for system_users, exported under the generic "users" key).
	sqlName string
	columns []string
	pk      []string
}

// tables lists every table in spec.md §6's export format. event_user_
// teams has no dedicated junction table in this schema; the closest
// persisted analog, the per-user aggregate rollup, is exported under
// that key.
var tables = []table{
	{name: "telemetry_events", sqlName: "telemetry_events", pk: []string{"id"}, columns: []string{
		"id", "event_id", "area", "timestamp", "server_id", "version", "session_id",
		"parent_session_id", "user_id", "data", "received_at", "created_at",
		"org_id", "user_name", "tool_name", "company_name", "error_message",
		"team_id", "deleted_at", "success", "telemetry_schema_version",
	}},
	{name: "users", sqlName: "system_users", pk: []string{"id"}, columns: []string{
		"id", "username", "password_hash", "role", "last_login", "created_at",
	}},
	{name: "orgs", sqlName: "orgs", pk: []string{"server_id"}, columns: []string{
		"server_id", "company_name", "alias", "color", "team_id", "created_at", "updated_at",
	}},
	{name: "teams", sqlName: "teams", pk: []string{"id"}, columns: []string{
		"id", "name", "color", "logo_data", "logo_mime", "created_at", "updated_at",
	}},
	{name: "settings", sqlName: "settings", pk: []string{"key"}, columns: []string{
		"key", "value",
	}},
	{name: "remember_tokens", sqlName: "remember_tokens", pk: []string{"id"}, columns: []string{
		"id", "system_user_id", "token_hash", "expires_at", "revoked_at", "user_agent", "ip_address", "created_at",
	}},
	{name: "event_user_teams", sqlName: "user_event_stats", pk: []string{"user_id"}, columns: []string{
		"user_id", "count", "last_event", "display_name",
	}},
}

// Document is the full export/import wire format.
type Document struct {
	Version    string                     `json:"version"`
	ExportedAt time.Time                  `json:"exportedAt"`
	DBType     string                     `json:"dbType"`
	Tables     map[string][]map[string]any `json:"tables"`
}

// Export reads every row of every table in the export format and
// returns the assembled document.
func Export(ctx context.Context, db storage.Storage) (Document, error) {
	doc := Document{
		Version:    FormatVersion,
		ExportedAt: time.Now().UTC(),
		DBType:     string(db.Kind()),
		Tables:     make(map[string][]map[string]any, len(tables)),
	}

	for _, t := range tables {
		rows, err := db.Query(ctx, `SELECT `+strings.Join(t.columns, ", ")+` FROM `+t.sqlName)
		if err != nil {
			return Document{}, fmt.Errorf("export %s: %w", t.name, err)
		}
		out, err := scanAll(rows, t.columns)
		rows.Close()
		if err != nil {
			return Document{}, fmt.Errorf("export %s: %w", t.name, err)
		}
		doc.Tables[t.name] = out
	}

	return doc, nil
}

func scanAll(rows storage.Rows, columns []string) ([]map[string]any, error) {
	var out []map[string]any
	for rows.Next() {
		dest := make([]any, len(columns))
		for i := range dest {
			dest[i] = new(any)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = *(dest[i].(*any))
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Import loads doc into db inside one transaction, upserting every
// row by its table's primary key (conflict-update, never delete).
func Import(ctx context.Context, db storage.Storage, doc Document) (int, error) {
	total := 0
	err := db.WithTx(ctx, func(tx storage.Tx) error {
		for _, t := range tables {
			rows, ok := doc.Tables[t.name]
			if !ok {
				continue
			}
			for _, row := range rows {
				if err := upsertRow(ctx, tx, db.Kind(), t, row); err != nil {
					return fmt.Errorf("import %s: %w", t.name, err)
				}
				total++
			}
		}
		return nil
	})
	return total, err
}

func upsertRow(ctx context.Context, tx storage.Tx, kind storage.Kind, t table, row map[string]any) error {
	args := make([]any, len(t.columns))
	for i, col := range t.columns {
		args[i] = row[col]
	}

	placeholders := make([]string, len(t.columns))
	for i := range placeholders {
		placeholders[i] = placeholderFor(kind, i+1)
	}

	updates := make([]string, 0, len(t.columns))
	for _, col := range t.columns {
		if containsStr(t.pk, col) {
			continue
		}
		if kind == storage.KindPostgres {
			updates = append(updates, col+" = EXCLUDED."+col)
		} else {
			updates = append(updates, col+" = excluded."+col)
		}
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		t.sqlName,
		strings.Join(t.columns, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(t.pk, ", "),
		strings.Join(updates, ", "),
	)
	if len(updates) == 0 {
		query = fmt.Sprintf(
			"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING",
			t.sqlName, strings.Join(t.columns, ", "), strings.Join(placeholders, ", "), strings.Join(t.pk, ", "),
		)
	}

	_, err := tx.Exec(ctx, query, args...)
	return err
}

func placeholderFor(kind storage.Kind, n int) string {
	if kind == storage.KindPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func containsStr(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
