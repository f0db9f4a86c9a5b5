// Package aggregate maintains the two pre-computed rollup tables
// (user_event_stats, org_event_stats) that back fast dashboard reads,
// per spec.md §4.6.
package aggregate

import (
	"context"
	"time"

	"github.com/telemetryhub/ingestd/internal/storage"
)

// Table identifies which rollup table an operation targets.
type Table string

const (
	TableUsers Table = "user_event_stats"
	TableOrgs  Table = "org_event_stats"
)

func (t Table) keyColumn() string {
	if t == TableOrgs {
		return "server_id"
	}
	return "user_id"
}

// eventColumn is the telemetry_events column whose values are this
// table's keys: Incr and BackfillIfEmpty key org stats by org_id.
func (t Table) eventColumn() string {
	if t == TableOrgs {
		return "org_id"
	}
	return "user_id"
}

// Maintainer is the Aggregate Maintainer component.
type Maintainer struct {
	db storage.Storage
}

// New creates a Maintainer bound to db.
func New(db storage.Storage) *Maintainer {
	return &Maintainer{db: db}
}

// Incr applies the atomic "insert or add" pattern of spec.md §9:
// insert the row if absent, else count += 1 and last_event advances
// monotonically. displayName is written only when the row is new or
// currently NULL — it is never overwritten by a later, possibly
// stale, value.
func (m *Maintainer) Incr(ctx context.Context, table Table, key string, ts time.Time, displayName *string) error {
	col := table.keyColumn()

	switch m.db.Kind() {
	case storage.KindPostgres:
		_, err := m.db.Exec(ctx, `
			INSERT INTO `+string(table)+` (`+col+`, count, last_event, display_name)
			VALUES ($1, 1, $2, $3)
			ON CONFLICT (`+col+`) DO UPDATE SET
				count = `+string(table)+`.count + 1,
				last_event = GREATEST(`+string(table)+`.last_event, EXCLUDED.last_event),
				display_name = COALESCE(`+string(table)+`.display_name, EXCLUDED.display_name)
		`, key, ts, displayName)
		return err
	default:
		_, err := m.db.Exec(ctx, `
			INSERT INTO `+string(table)+` (`+col+`, count, last_event, display_name)
			VALUES (?, 1, ?, ?)
			ON CONFLICT(`+col+`) DO UPDATE SET
				count = count + 1,
				last_event = MAX(last_event, excluded.last_event),
				display_name = COALESCE(display_name, excluded.display_name)
		`, key, ts, displayName)
		return err
	}
}

// Recompute runs the authoritative aggregation for each key in keys,
// deleting the rollup row if its recomputed count is zero. Aggregates
// ignore trashed events.
func (m *Maintainer) Recompute(ctx context.Context, table Table, keys []string) error {
	col := table.keyColumn()

	for _, key := range keys {
		var count int64
		var lastEvent *time.Time

		ph1 := m.db.Placeholder(1)
		row := m.db.QueryRow(ctx, `
			SELECT COUNT(*), MAX(timestamp) FROM telemetry_events
			WHERE `+table.eventColumn()+` = `+ph1+` AND deleted_at IS NULL
		`, key)
		if err := row.Scan(&count, &lastEvent); err != nil {
			return err
		}

		if count == 0 {
			ph := m.db.Placeholder(1)
			if _, err := m.db.Exec(ctx, `DELETE FROM `+string(table)+` WHERE `+col+` = `+ph, key); err != nil {
				return err
			}
			continue
		}

		switch m.db.Kind() {
		case storage.KindPostgres:
			if _, err := m.db.Exec(ctx, `
				INSERT INTO `+string(table)+` (`+col+`, count, last_event)
				VALUES ($1, $2, $3)
				ON CONFLICT (`+col+`) DO UPDATE SET count = EXCLUDED.count, last_event = EXCLUDED.last_event
			`, key, count, lastEvent); err != nil {
				return err
			}
		default:
			if _, err := m.db.Exec(ctx, `
				INSERT INTO `+string(table)+` (`+col+`, count, last_event)
				VALUES (?, ?, ?)
				ON CONFLICT(`+col+`) DO UPDATE SET count = excluded.count, last_event = excluded.last_event
			`, key, count, lastEvent); err != nil {
				return err
			}
		}
	}
	return nil
}

// BackfillIfEmpty runs a full recompute of both rollup tables once,
// at startup, if either is currently empty — the one-time backfill
// spec.md §4.6 describes.
func (m *Maintainer) BackfillIfEmpty(ctx context.Context) error {
	empty, err := m.tableEmpty(ctx, TableUsers)
	if err != nil {
		return err
	}
	if !empty {
		empty, err = m.tableEmpty(ctx, TableOrgs)
		if err != nil {
			return err
		}
	}
	if !empty {
		return nil
	}

	userKeys, err := m.distinctKeys(ctx, "user_id")
	if err != nil {
		return err
	}
	if err := m.Recompute(ctx, TableUsers, userKeys); err != nil {
		return err
	}

	orgKeys, err := m.distinctKeys(ctx, "org_id")
	if err != nil {
		return err
	}
	return m.Recompute(ctx, TableOrgs, orgKeys)
}

func (m *Maintainer) tableEmpty(ctx context.Context, table Table) (bool, error) {
	var count int64
	row := m.db.QueryRow(ctx, `SELECT COUNT(*) FROM `+string(table))
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count == 0, nil
}

func (m *Maintainer) distinctKeys(ctx context.Context, column string) ([]string, error) {
	rows, err := m.db.Query(ctx, `
		SELECT DISTINCT `+column+` FROM telemetry_events
		WHERE `+column+` IS NOT NULL AND deleted_at IS NULL
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
