// Package query implements the read paths over the telemetry fact
// table: paginated event listing, session grouping, daily time
// series, top-N leaderboards, tool usage, and size introspection, per
// spec.md §4.7.
package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/telemetryhub/ingestd/internal/domain"
	"github.com/telemetryhub/ingestd/internal/storage"
)

// Engine is the Query Engine component.
type Engine struct {
	db storage.Storage
}

// New creates an Engine bound to db.
func New(db storage.Storage) *Engine {
	return &Engine{db: db}
}

// EventFilter narrows getEvents by any subset of these fields; zero
// values mean "no filter on this dimension".
type EventFilter struct {
	Areas          []string
	EventTypes     []string
	ServerID       string
	SessionID      string
	StartDate      *time.Time
	EndDate        *time.Time
	UserIDs        []string
	IncludeDeleted bool
	OrderBy        string // id | event | timestamp | created_at | server_id
	Descending     bool
	Limit          int
	Offset         int
}

// EventPage is getEvents' return shape.
type EventPage struct {
	Events  []domain.Event
	Total   int64
	Limit   int
	Offset  int
	HasMore bool
}

var allowedOrderColumns = map[string]string{
	"id":         "te.id",
	"event":      "et.name",
	"timestamp":  "te.timestamp",
	"created_at": "te.created_at",
	"server_id":  "te.server_id",
}

// GetEvents implements the paginated event listing. Per spec.md §4.7,
// the COUNT is skipped (Total reported as -1) when offset > 0 and
// limit > 100, an optimization for deep, wide pagination that would
// otherwise force a full scan twice.
func (e *Engine) GetEvents(ctx context.Context, f EventFilter) (EventPage, error) {
	where, args := e.whereClause(f)

	orderCol, ok := allowedOrderColumns[f.OrderBy]
	if !ok {
		orderCol = "te.id"
	}
	dir := "ASC"
	if f.Descending {
		dir = "DESC"
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	skipCount := offset > 0 && limit > 100

	var total int64 = -1
	if !skipCount {
		countQuery := `SELECT COUNT(*) FROM telemetry_events te JOIN event_types et ON et.id = te.event_id ` + where
		row := e.db.QueryRow(ctx, countQuery, args...)
		if err := row.Scan(&total); err != nil {
			return EventPage{}, err
		}
	}

	selectArgs := append(append([]any{}, args...), limit, offset)
	limitPh := e.db.Placeholder(len(args) + 1)
	offsetPh := e.db.Placeholder(len(args) + 2)

	listQuery := fmt.Sprintf(`
		SELECT te.id, et.name, te.area, te.timestamp, te.server_id, te.version,
		       te.session_id, te.parent_session_id, te.user_id, te.data,
		       te.received_at, te.created_at, te.org_id, te.user_name, te.tool_name,
		       te.company_name, te.error_message, te.team_id, te.deleted_at,
		       te.success, te.telemetry_schema_version
		FROM telemetry_events te
		JOIN event_types et ON et.id = te.event_id
		%s
		ORDER BY %s %s
		LIMIT %s OFFSET %s
	`, where, orderCol, dir, limitPh, offsetPh)

	rows, err := e.db.Query(ctx, listQuery, selectArgs...)
	if err != nil {
		return EventPage{}, err
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return EventPage{}, err
	}

	hasMore := total >= 0 && int64(offset+len(events)) < total
	if total < 0 {
		hasMore = len(events) == limit
	}

	return EventPage{Events: events, Total: total, Limit: limit, Offset: offset, HasMore: hasMore}, nil
}

// whereClause builds the WHERE clause and argument list shared by the
// count and listing queries.
func (e *Engine) whereClause(f EventFilter) (string, []any) {
	var clauses []string
	var args []any

	n := 0
	next := func() string {
		n++
		return e.db.Placeholder(n)
	}

	if !f.IncludeDeleted {
		clauses = append(clauses, "te.deleted_at IS NULL")
	}
	if len(f.Areas) > 0 {
		clauses = append(clauses, inClause("te.area", len(f.Areas), &n, e.db))
		for _, a := range f.Areas {
			args = append(args, a)
		}
	}
	if len(f.EventTypes) > 0 {
		clauses = append(clauses, inClause("et.name", len(f.EventTypes), &n, e.db))
		for _, t := range f.EventTypes {
			args = append(args, t)
		}
	}
	if f.ServerID != "" {
		clauses = append(clauses, "te.server_id = "+next())
		args = append(args, f.ServerID)
	}
	if f.SessionID != "" {
		clauses = append(clauses, "(te.parent_session_id = "+next()+" OR (te.parent_session_id IS NULL AND te.session_id = "+next()+"))")
		args = append(args, f.SessionID, f.SessionID)
	}
	if f.StartDate != nil {
		clauses = append(clauses, "te.timestamp >= "+next())
		args = append(args, *f.StartDate)
	}
	if f.EndDate != nil {
		clauses = append(clauses, "te.timestamp <= "+next())
		args = append(args, *f.EndDate)
	}
	if len(f.UserIDs) > 0 {
		clauses = append(clauses, inClause("te.user_id", len(f.UserIDs), &n, e.db))
		for _, u := range f.UserIDs {
			args = append(args, u)
		}
	}

	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func inClause(col string, count int, n *int, db storage.Storage) string {
	phs := make([]string, count)
	for i := 0; i < count; i++ {
		*n++
		phs[i] = db.Placeholder(*n)
	}
	return col + " IN (" + strings.Join(phs, ", ") + ")"
}

func scanEvents(rows storage.Rows) ([]domain.Event, error) {
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
