package query

import (
	"context"
	"time"

	"github.com/telemetryhub/ingestd/internal/domain"
)

func clampDays(days int) int {
	if days < 1 {
		return 30
	}
	if days > 365 {
		return 365
	}
	return days
}

func clampTopN(n int) int {
	if n < 1 {
		return 10
	}
	if n > 500 {
		return 500
	}
	return n
}

// GetDailyStats returns a dense daily time series over the last
// `days` days (UTC), with explicit zeros for buckets with no events.
func (e *Engine) GetDailyStats(ctx context.Context, days int) ([]domain.DailyCount, error) {
	days = clampDays(days)
	return e.dailyCountsWhere(ctx, days, "1=1", nil)
}

// GetDailyStatsByEventType splits the daily series into the three
// categories spec.md §4.7 names.
func (e *Engine) GetDailyStatsByEventType(ctx context.Context, days int) (domain.EventTypeDailyStats, error) {
	days = clampDays(days)

	startWithoutEnd, err := e.dailyCountsWhere(ctx, days, `
		et.name = 'session_start' AND NOT EXISTS (
			SELECT 1 FROM telemetry_events te2
			JOIN event_types et2 ON et2.id = te2.event_id
			WHERE et2.name = 'session_end'
			  AND COALESCE(te2.parent_session_id, te2.session_id) = COALESCE(te.parent_session_id, te.session_id)
		)`, nil)
	if err != nil {
		return domain.EventTypeDailyStats{}, err
	}

	toolEvents, err := e.dailyCountsWhere(ctx, days, "et.name IN ('tool_call', 'tool_error')", nil)
	if err != nil {
		return domain.EventTypeDailyStats{}, err
	}

	errorEvents, err := e.dailyCountsWhere(ctx, days, "et.name = 'tool_error'", nil)
	if err != nil {
		return domain.EventTypeDailyStats{}, err
	}

	return domain.EventTypeDailyStats{
		StartSessionsWithoutEnd: startWithoutEnd,
		ToolEvents:              toolEvents,
		ErrorEvents:             errorEvents,
	}, nil
}

func (e *Engine) dailyCountsWhere(ctx context.Context, days int, extraWhere string, extraArgs []any) ([]domain.DailyCount, error) {
	now := time.Now().UTC()
	start := now.AddDate(0, 0, -days+1).Truncate(24 * time.Hour)

	ph1 := e.db.Placeholder(len(extraArgs) + 1)
	args := append(append([]any{}, extraArgs...), start)

	dateExpr := "substr(CAST(te.timestamp AS TEXT), 1, 10)"

	rows, err := e.db.Query(ctx, `
		SELECT `+dateExpr+` AS day, COUNT(*)
		FROM telemetry_events te
		JOIN event_types et ON et.id = te.event_id
		WHERE te.deleted_at IS NULL AND te.timestamp >= `+ph1+` AND (`+extraWhere+`)
		GROUP BY day
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var day string
		var count int64
		if err := rows.Scan(&day, &count); err != nil {
			return nil, err
		}
		counts[day] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.DailyCount, 0, days)
	for d := 0; d < days; d++ {
		day := start.AddDate(0, 0, d).Format("2006-01-02")
		out = append(out, domain.DailyCount{Date: day, Count: counts[day]})
	}
	return out, nil
}

// GetTopUsersLastDays returns the top-N users by event count over the
// last `days` days, with the user's denormalized user_name as display
// name.
func (e *Engine) GetTopUsersLastDays(ctx context.Context, topN, days int) ([]domain.EventStats, error) {
	topN = clampTopN(topN)
	days = clampDays(days)
	start := time.Now().UTC().AddDate(0, 0, -days)

	ph1 := e.db.Placeholder(1)
	ph2 := e.db.Placeholder(2)
	rows, err := e.db.Query(ctx, `
		SELECT user_id, COUNT(*), MAX(timestamp), MAX(user_name)
		FROM telemetry_events
		WHERE deleted_at IS NULL AND user_id IS NOT NULL AND timestamp >= `+ph1+`
		GROUP BY user_id
		ORDER BY COUNT(*) DESC
		LIMIT `+ph2+`
	`, start, topN)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEventStats(rows)
}

// GetTopTeamsLastDays returns the top-N teams by event count over the
// last `days` days, grouping case-insensitively on team name.
func (e *Engine) GetTopTeamsLastDays(ctx context.Context, topN, days int) ([]domain.EventStats, error) {
	topN = clampTopN(topN)
	days = clampDays(days)
	start := time.Now().UTC().AddDate(0, 0, -days)

	ph1 := e.db.Placeholder(1)
	ph2 := e.db.Placeholder(2)
	rows, err := e.db.Query(ctx, `
		SELECT t.id, COUNT(*), MAX(te.timestamp), MIN(t.name)
		FROM telemetry_events te
		JOIN teams t ON t.id = te.team_id
		WHERE te.deleted_at IS NULL AND te.timestamp >= `+ph1+`
		GROUP BY lower(t.name)
		ORDER BY COUNT(*) DESC
		LIMIT `+ph2+`
	`, start, topN)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEventStats(rows)
}

func scanEventStats(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]domain.EventStats, error) {
	var out []domain.EventStats
	for rows.Next() {
		var s domain.EventStats
		var displayName *string
		if err := rows.Scan(&s.Key, &s.Count, &s.LastEvent, &displayName); err != nil {
			return nil, err
		}
		s.DisplayName = displayName
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetToolUsageStats returns per-tool success/error counts, preferring
// the denormalized tool_name column, limited to 6 tools.
func (e *Engine) GetToolUsageStats(ctx context.Context) ([]domain.ToolUsage, error) {
	rows, err := e.db.Query(ctx, `
		SELECT
			COALESCE(te.tool_name, 'unknown') AS tool,
			SUM(CASE WHEN et.name = 'tool_call' THEN 1 ELSE 0 END),
			SUM(CASE WHEN et.name = 'tool_error' THEN 1 ELSE 0 END)
		FROM telemetry_events te
		JOIN event_types et ON et.id = te.event_id
		WHERE te.deleted_at IS NULL AND et.name IN ('tool_call', 'tool_error')
		GROUP BY tool
		ORDER BY (SUM(CASE WHEN et.name = 'tool_call' THEN 1 ELSE 0 END) +
		          SUM(CASE WHEN et.name = 'tool_error' THEN 1 ELSE 0 END)) DESC
		LIMIT 6
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ToolUsage
	for rows.Next() {
		var t domain.ToolUsage
		if err := rows.Scan(&t.ToolName, &t.Successful, &t.Errors); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetDatabaseSize reports the backend's current byte usage together
// with maxBytes, the soft ceiling the caller passes in. No limit is
// enforced.
func (e *Engine) GetDatabaseSize(ctx context.Context, maxBytes int64) (domain.DatabaseSize, error) {
	used, err := e.db.Size(ctx)
	if err != nil {
		return domain.DatabaseSize{}, err
	}
	return domain.DatabaseSize{BytesUsed: used, MaxBytes: maxBytes}, nil
}
