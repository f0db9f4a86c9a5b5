// Package lifecycle implements soft-delete, restore, permanent
// delete, and trash maintenance over the telemetry fact table, per
// spec.md §4.8.
package lifecycle

import (
	"context"
	"time"

	"github.com/telemetryhub/ingestd/internal/aggregate"
	"github.com/telemetryhub/ingestd/internal/domain"
	"github.com/telemetryhub/ingestd/internal/storage"
)

// Manager is the Lifecycle Manager component. Ingest never
// decrements aggregate counters; only permanent deletion triggers a
// recompute, per spec.md §4.8 — trash is an undo buffer, not a
// logical delete.
type Manager struct {
	db         storage.Storage
	aggregates *aggregate.Maintainer
}

// New creates a Manager bound to db.
func New(db storage.Storage, aggregates *aggregate.Maintainer) *Manager {
	return &Manager{db: db, aggregates: aggregates}
}

func (m *Manager) now() time.Time { return time.Now().UTC() }

// DeleteEvent soft-deletes one live event by id.
func (m *Manager) DeleteEvent(ctx context.Context, id int64) (int64, error) {
	ph1, ph2 := m.db.Placeholder(1), m.db.Placeholder(2)
	res, err := m.db.Exec(ctx, `
		UPDATE telemetry_events SET deleted_at = `+ph1+`
		WHERE id = `+ph2+` AND deleted_at IS NULL
	`, m.now(), id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteAllEvents soft-deletes every currently-live event.
func (m *Manager) DeleteAllEvents(ctx context.Context) (int64, error) {
	ph1 := m.db.Placeholder(1)
	res, err := m.db.Exec(ctx, `
		UPDATE telemetry_events SET deleted_at = `+ph1+`
		WHERE deleted_at IS NULL
	`, m.now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteEventsBySession soft-deletes every live event in logical
// session S, including the synthetic "user_<u>_<date>" pseudo-session
// case, which matches by (user, no session id, UTC date).
func (m *Manager) DeleteEventsBySession(ctx context.Context, logicalSessionID string) (int64, error) {
	if userID, date, ok := domain.ParsePseudoSessionID(logicalSessionID); ok {
		ph1, ph2, ph3 := m.db.Placeholder(1), m.db.Placeholder(2), m.db.Placeholder(3)
		dateExpr := "substr(CAST(timestamp AS TEXT), 1, 10)"
		res, err := m.db.Exec(ctx, `
			UPDATE telemetry_events SET deleted_at = `+ph1+`
			WHERE deleted_at IS NULL AND session_id IS NULL AND user_id = `+ph2+`
			  AND `+dateExpr+` = `+ph3+`
		`, m.now(), userID, date)
		if err != nil {
			return 0, err
		}
		return res.RowsAffected()
	}

	ph1, ph2, ph3 := m.db.Placeholder(1), m.db.Placeholder(2), m.db.Placeholder(3)
	res, err := m.db.Exec(ctx, `
		UPDATE telemetry_events SET deleted_at = `+ph1+`
		WHERE deleted_at IS NULL AND (parent_session_id = `+ph2+` OR (parent_session_id IS NULL AND session_id = `+ph3+`))
	`, m.now(), logicalSessionID, logicalSessionID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RecoverEvent clears deleted_at on id iff it is currently set.
func (m *Manager) RecoverEvent(ctx context.Context, id int64) (bool, error) {
	ph1 := m.db.Placeholder(1)
	res, err := m.db.Exec(ctx, `
		UPDATE telemetry_events SET deleted_at = NULL
		WHERE id = `+ph1+` AND deleted_at IS NOT NULL
	`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// PermanentlyDeleteEvent deletes the row iff it is currently trashed,
// then recomputes aggregates for its user and org.
func (m *Manager) PermanentlyDeleteEvent(ctx context.Context, id int64) (bool, error) {
	userID, orgID, found, err := m.lookupKeys(ctx, id)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}

	ph1 := m.db.Placeholder(1)
	res, err := m.db.Exec(ctx, `
		DELETE FROM telemetry_events WHERE id = `+ph1+` AND deleted_at IS NOT NULL
	`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil || n == 0 {
		return false, err
	}

	if err := m.recomputeKeys(ctx, userID, orgID); err != nil {
		return true, err
	}
	return true, nil
}

func (m *Manager) lookupKeys(ctx context.Context, id int64) (userID, orgID *string, found bool, err error) {
	ph1 := m.db.Placeholder(1)
	row := m.db.QueryRow(ctx, `
		SELECT user_id, org_id FROM telemetry_events
		WHERE id = `+ph1+` AND deleted_at IS NOT NULL
	`, id)
	if scanErr := row.Scan(&userID, &orgID); scanErr != nil {
		return nil, nil, false, nil
	}
	return userID, orgID, true, nil
}

func (m *Manager) recomputeKeys(ctx context.Context, userID, orgID *string) error {
	if userID != nil {
		if err := m.aggregates.Recompute(ctx, aggregate.TableUsers, []string{*userID}); err != nil {
			return err
		}
	}
	if orgID != nil {
		if err := m.aggregates.Recompute(ctx, aggregate.TableOrgs, []string{*orgID}); err != nil {
			return err
		}
	}
	return nil
}

// EmptyTrash hard-deletes every trashed row, then recomputes
// aggregates for every user/org that had a trashed row.
func (m *Manager) EmptyTrash(ctx context.Context) (int64, error) {
	return m.purgeTrash(ctx, nil)
}

// CleanupOldDeletedEvents hard-deletes trashed rows older than
// daysOld, then recomputes affected aggregates.
func (m *Manager) CleanupOldDeletedEvents(ctx context.Context, daysOld int) (int64, error) {
	if daysOld <= 0 {
		daysOld = 30
	}
	cutoff := m.now().AddDate(0, 0, -daysOld)
	return m.purgeTrash(ctx, &cutoff)
}

func (m *Manager) purgeTrash(ctx context.Context, cutoff *time.Time) (int64, error) {
	where := "deleted_at IS NOT NULL"
	var args []any
	if cutoff != nil {
		where += " AND deleted_at < " + m.db.Placeholder(1)
		args = append(args, *cutoff)
	}

	rows, err := m.db.Query(ctx, `SELECT DISTINCT user_id, org_id FROM telemetry_events WHERE `+where, args...)
	if err != nil {
		return 0, err
	}
	userKeys := map[string]bool{}
	orgKeys := map[string]bool{}
	for rows.Next() {
		var u, o *string
		if err := rows.Scan(&u, &o); err != nil {
			rows.Close()
			return 0, err
		}
		if u != nil {
			userKeys[*u] = true
		}
		if o != nil {
			orgKeys[*o] = true
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	res, err := m.db.Exec(ctx, `DELETE FROM telemetry_events WHERE `+where, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err := m.aggregates.Recompute(ctx, aggregate.TableUsers, keysOf(userKeys)); err != nil {
		return n, err
	}
	if err := m.aggregates.Recompute(ctx, aggregate.TableOrgs, keysOf(orgKeys)); err != nil {
		return n, err
	}
	return n, nil
}

func keysOf(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// GetDeletedEvents returns a page of trashed rows, bounded to 1000.
func (m *Manager) GetDeletedEvents(ctx context.Context, limit, offset int) ([]domain.Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	ph1, ph2 := m.db.Placeholder(1), m.db.Placeholder(2)
	rows, err := m.db.Query(ctx, `
		SELECT te.id, et.name, te.area, te.timestamp, te.server_id, te.version,
		       te.session_id, te.parent_session_id, te.user_id, te.data,
		       te.received_at, te.created_at, te.org_id, te.user_name, te.tool_name,
		       te.company_name, te.error_message, te.team_id, te.deleted_at,
		       te.success, te.telemetry_schema_version
		FROM telemetry_events te
		JOIN event_types et ON et.id = te.event_id
		WHERE te.deleted_at IS NOT NULL
		ORDER BY te.deleted_at DESC
		LIMIT `+ph1+` OFFSET `+ph2+`
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var ev domain.Event
		var eventName string
		if err := rows.Scan(
			&ev.ID, &eventName, &ev.Area, &ev.Timestamp, &ev.ServerID, &ev.Version,
			&ev.SessionID, &ev.ParentSessionID, &ev.UserID, &ev.Data,
			&ev.ReceivedAt, &ev.CreatedAt, &ev.OrgID, &ev.UserName, &ev.ToolName,
			&ev.CompanyName, &ev.ErrorMessage, &ev.TeamID, &ev.DeletedAt,
			&ev.Success, &ev.TelemetrySchemaVersion,
		); err != nil {
			return nil, err
		}
		ev.EventType = domain.EventTypeName(eventName)
		events = append(events, ev)
	}
	return events, rows.Err()
}
