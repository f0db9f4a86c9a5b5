package query

import (
	"context"
	"time"

	"github.com/telemetryhub/ingestd/internal/domain"
)

// activeWindow is how recently a session's last event must have
// occurred, with no session_end seen, to count as active.
const activeWindow = 2 * time.Hour

// GetSessions groups events into logical sessions: one row per
// COALESCE(parent_session_id, session_id), plus synthetic
// "user_<userId>_<date>" rows for events carrying no session id at
// all, per spec.md §4.7.
func (e *Engine) GetSessions(ctx context.Context, serverID string, limit, offset int) ([]domain.SessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := e.db.Query(ctx, `
		SELECT
			COALESCE(te.parent_session_id, te.session_id, 'user_' || COALESCE(te.user_id, 'unknown') || '_' || substr(CAST(te.timestamp AS TEXT), 1, 10)) AS logical_session,
			COUNT(*), MIN(te.timestamp), MAX(te.timestamp),
			SUM(CASE WHEN et.name = 'session_start' THEN 1 ELSE 0 END),
			SUM(CASE WHEN et.name = 'session_end' THEN 1 ELSE 0 END)
		FROM telemetry_events te
		JOIN event_types et ON et.id = te.event_id
		WHERE te.deleted_at IS NULL AND (`+e.db.Placeholder(1)+` = '' OR te.server_id = `+e.db.Placeholder(2)+`)
		GROUP BY logical_session
		ORDER BY MAX(te.timestamp) DESC
		LIMIT `+e.db.Placeholder(3)+` OFFSET `+e.db.Placeholder(4)+`
	`, serverID, serverID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	now := time.Now().UTC()
	var out []domain.SessionSummary
	for rows.Next() {
		var s domain.SessionSummary
		var startCount, endCount int64
		if err := rows.Scan(&s.SessionID, &s.Count, &s.FirstTimestamp, &s.LastTimestamp, &startCount, &endCount); err != nil {
			return nil, err
		}
		s.HasSessionStart = startCount > 0
		s.HasSessionEnd = endCount > 0
		s.IsActive = s.HasSessionStart && !s.HasSessionEnd && now.Sub(s.LastTimestamp) < activeWindow
		if s.IsActive {
			since := s.LastTimestamp
			s.ActiveSince = &since
		}

		if userID, err := e.representativeUserID(ctx, s.SessionID); err == nil {
			s.UserID = userID
		}
		if userName, err := e.representativeUserName(ctx, s.SessionID); err == nil {
			s.UserName = userName
		}

		out = append(out, s)
	}
	return out, rows.Err()
}

// representativeUserID returns the user_id carried by the earliest
// event of the logical session, per spec.md §4.7 ("representative
// user_id: earliest event"), not the lexicographically smallest id.
func (e *Engine) representativeUserID(ctx context.Context, logicalSessionID string) (*string, error) {
	ph1, ph2 := e.db.Placeholder(1), e.db.Placeholder(2)
	row := e.db.QueryRow(ctx, `
		SELECT te.user_id FROM telemetry_events te
		WHERE te.parent_session_id = `+ph1+` OR te.session_id = `+ph2+`
		ORDER BY te.timestamp ASC, te.id ASC
		LIMIT 1
	`, logicalSessionID, logicalSessionID)

	var userID *string
	if err := row.Scan(&userID); err != nil {
		return nil, err
	}
	return userID, nil
}

// representativeUserName returns the user_name carried by the first
// session_start event of the logical session, if any.
func (e *Engine) representativeUserName(ctx context.Context, logicalSessionID string) (*string, error) {
	ph1, ph2, ph3 := e.db.Placeholder(1), e.db.Placeholder(2), e.db.Placeholder(3)
	row := e.db.QueryRow(ctx, `
		SELECT te.user_name FROM telemetry_events te
		JOIN event_types et ON et.id = te.event_id
		WHERE et.name = `+ph1+` AND (te.parent_session_id = `+ph2+` OR te.session_id = `+ph3+`)
		ORDER BY te.timestamp ASC
		LIMIT 1
	`, string(domain.EventTypeSessionStart), logicalSessionID, logicalSessionID)

	var name *string
	if err := row.Scan(&name); err != nil {
		return nil, err
	}
	return name, nil
}
