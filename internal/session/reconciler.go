// Package session computes the logical parent session for an
// incoming telemetry event, grouping physically distinct session ids
// that belong to the same human work session under one
// parent_session_id, per spec.md §4.4.
package session

import (
	"context"
	"time"

	"github.com/telemetryhub/ingestd/internal/domain"
	"github.com/telemetryhub/ingestd/internal/storage"
)

// window is the sliding window within which two session_start events
// for the same (user, server) are considered the same logical
// session.
const window = 4 * time.Hour

// Input is the subset of a parsed event the reconciler needs.
type Input struct {
	SessionID *string
	UserID    *string
	ServerID  string
	EventType domain.EventTypeName
	Timestamp time.Time
}

// Reconciler resolves parent_session_id against the fact table. It
// holds no state of its own — every decision is a pure function of
// Input plus what Resolve reads back from db, so concurrent ingest
// never needs a lock (spec.md §5).
type Reconciler struct {
	db storage.Storage
}

// New creates a Reconciler bound to db.
func New(db storage.Storage) *Reconciler {
	return &Reconciler{db: db}
}

// Resolve computes parentSessionId for in, applying the rules of
// spec.md §4.4 in order.
func (r *Reconciler) Resolve(ctx context.Context, in Input) (*string, error) {
	if in.SessionID == nil {
		return nil, nil
	}
	sessionID := *in.SessionID

	if in.EventType != domain.EventTypeSessionStart {
		return r.resolveNonStart(ctx, sessionID)
	}
	return r.resolveStart(ctx, in)
}

// resolveNonStart implements rule 2: inherit from the most recent
// prior event sharing sessionId that already has a parent, else from
// the session_start that opened it, else treat sessionId as its own
// parent.
func (r *Reconciler) resolveNonStart(ctx context.Context, sessionID string) (*string, error) {
	if parent, ok, err := r.latestParentForSession(ctx, sessionID); err != nil {
		return nil, err
	} else if ok {
		return &parent, nil
	}

	if parent, ok, err := r.startParentForSession(ctx, sessionID); err != nil {
		return nil, err
	} else if ok {
		return &parent, nil
	}

	return &sessionID, nil
}

// resolveStart implements rule 3: a session_start with a missing
// actor identity is its own parent; otherwise it joins the most
// recent prior session_start for the same (user, server) if that
// start is within the window, else it starts a new logical session.
func (r *Reconciler) resolveStart(ctx context.Context, in Input) (*string, error) {
	sessionID := *in.SessionID

	if in.UserID == nil || in.ServerID == "" {
		return &sessionID, nil
	}

	priorSessionID, priorParent, priorTimestamp, found, err := r.latestSessionStart(ctx, *in.UserID, in.ServerID)
	if err != nil {
		return nil, err
	}
	if !found {
		return &sessionID, nil
	}
	if in.Timestamp.Sub(priorTimestamp) > window {
		return &sessionID, nil
	}

	if priorParent != "" {
		return &priorParent, nil
	}
	return &priorSessionID, nil
}

// latestParentForSession returns the most recent prior event's
// parent_session_id for sessionID, among rows that already have one
// set, tie-broken timestamp DESC, id DESC.
func (r *Reconciler) latestParentForSession(ctx context.Context, sessionID string) (string, bool, error) {
	ph1 := r.db.Placeholder(1)
	row := r.db.QueryRow(ctx, `
		SELECT parent_session_id FROM telemetry_events
		WHERE session_id = `+ph1+` AND parent_session_id IS NOT NULL
		ORDER BY timestamp DESC, id DESC
		LIMIT 1
	`, sessionID)

	var parent string
	if err := row.Scan(&parent); err != nil {
		if isNoRows(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return parent, true, nil
}

// startParentForSession returns the parent_session_id (or, if unset,
// the session_id itself) of the session_start event that opened
// sessionID.
func (r *Reconciler) startParentForSession(ctx context.Context, sessionID string) (string, bool, error) {
	ph1, ph2 := r.db.Placeholder(1), r.db.Placeholder(2)
	row := r.db.QueryRow(ctx, `
		SELECT parent_session_id, session_id FROM telemetry_events te
		JOIN event_types et ON et.id = te.event_id
		WHERE te.session_id = `+ph1+` AND et.name = `+ph2+`
		ORDER BY te.timestamp DESC, te.id DESC
		LIMIT 1
	`, sessionID, string(domain.EventTypeSessionStart))

	var parent, own string
	var parentNull bool
	if err := scanNullableFirst(row, &parent, &parentNull, &own); err != nil {
		if isNoRows(err) {
			return "", false, nil
		}
		return "", false, err
	}
	if parentNull || parent == "" {
		return own, true, nil
	}
	return parent, true, nil
}

// latestSessionStart returns the most recent prior session_start for
// (userID, serverID).
func (r *Reconciler) latestSessionStart(ctx context.Context, userID, serverID string) (sessionID, parentSessionID string, ts time.Time, found bool, err error) {
	ph1, ph2, ph3 := r.db.Placeholder(1), r.db.Placeholder(2), r.db.Placeholder(3)
	row := r.db.QueryRow(ctx, `
		SELECT te.session_id, te.parent_session_id, te.timestamp
		FROM telemetry_events te
		JOIN event_types et ON et.id = te.event_id
		WHERE te.user_id = `+ph1+` AND te.server_id = `+ph2+` AND et.name = `+ph3+`
		ORDER BY te.timestamp DESC, te.id DESC
		LIMIT 1
	`, userID, serverID, string(domain.EventTypeSessionStart))

	var parent *string
	if scanErr := row.Scan(&sessionID, &parent, &ts); scanErr != nil {
		if isNoRows(scanErr) {
			return "", "", time.Time{}, false, nil
		}
		return "", "", time.Time{}, false, scanErr
	}
	if parent != nil {
		parentSessionID = *parent
	}
	return sessionID, parentSessionID, ts, true, nil
}
