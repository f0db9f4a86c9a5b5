package session_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/telemetryhub/ingestd/internal/aggregate"
	"github.com/telemetryhub/ingestd/internal/ingest"
	"github.com/telemetryhub/ingestd/internal/schema/schematest"
	"github.com/telemetryhub/ingestd/internal/session"
	"github.com/telemetryhub/ingestd/internal/storage"
)

func newIngestor(t *testing.T) (*ingest.Ingestor, storage.Storage) {
	t.Helper()
	db := schematest.Open(t)
	reconciler := session.New(db)
	aggregates := aggregate.New(db)
	return ingest.New(db, reconciler, aggregates, zerolog.Nop()), db
}

func parentSessionOf(t *testing.T, db storage.Storage, sessionID string) string {
	t.Helper()
	row := db.QueryRow(context.Background(),
		`SELECT parent_session_id FROM telemetry_events WHERE session_id = ? ORDER BY id DESC LIMIT 1`, sessionID)
	var parent string
	if err := row.Scan(&parent); err != nil {
		t.Fatalf("scan parent_session_id for %s: %v", sessionID, err)
	}
	return parent
}

func sessionStartEvent(serverID, sessionID, userID string, ts time.Time) []byte {
	return []byte(fmt.Sprintf(`{
		"event": "session_start",
		"sessionId": %q,
		"userId": %q,
		"timestamp": %q
	}`, sessionID, userID, ts.Format(time.RFC3339)))
}

func toolCallEvent(sessionID string, ts time.Time) []byte {
	return []byte(fmt.Sprintf(`{
		"event": "tool_call",
		"sessionId": %q,
		"userId": "user-1",
		"timestamp": %q,
		"data": {"toolName": "grep"}
	}`, sessionID, ts.Format(time.RFC3339)))
}

// A session_start within the reconciliation window of a prior
// session_start for the same (user, server) joins that prior
// session's logical parent, per spec.md §4.4 rule 3.
func TestReconcilerJoinsSessionWithinWindow(t *testing.T) {
	ingestor, db := newIngestor(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	out := ingestor.IngestOne(ctx, sessionStartEvent("srv-1", "sess-a", "user-1", base), "srv-1")
	if !out.Accepted || out.Quarantined {
		t.Fatalf("first session_start rejected: %+v", out)
	}

	later := base.Add(1 * time.Hour)
	out = ingestor.IngestOne(ctx, sessionStartEvent("srv-1", "sess-b", "user-1", later), "srv-1")
	if !out.Accepted || out.Quarantined {
		t.Fatalf("second session_start rejected: %+v", out)
	}

	if got := parentSessionOf(t, db, "sess-b"); got != "sess-a" {
		t.Fatalf("expected sess-b to join sess-a's logical session, got parent %q", got)
	}
}

// A session_start beyond the reconciliation window starts a new
// logical session rather than joining the prior one.
func TestReconcilerStartsNewSessionOutsideWindow(t *testing.T) {
	ingestor, db := newIngestor(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	out := ingestor.IngestOne(ctx, sessionStartEvent("srv-1", "sess-a", "user-1", base), "srv-1")
	if !out.Accepted || out.Quarantined {
		t.Fatalf("first session_start rejected: %+v", out)
	}

	farLater := base.Add(5 * time.Hour)
	out = ingestor.IngestOne(ctx, sessionStartEvent("srv-1", "sess-b", "user-1", farLater), "srv-1")
	if !out.Accepted || out.Quarantined {
		t.Fatalf("second session_start rejected: %+v", out)
	}

	if got := parentSessionOf(t, db, "sess-b"); got != "sess-b" {
		t.Fatalf("expected sess-b to start its own logical session, got parent %q", got)
	}
}

// A non-start event inherits its parent from the session_start that
// opened its session_id, per spec.md §4.4 rule 2.
func TestReconcilerNonStartInheritsFromSessionStart(t *testing.T) {
	ingestor, db := newIngestor(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	out := ingestor.IngestOne(ctx, sessionStartEvent("srv-1", "sess-a", "user-1", base), "srv-1")
	if !out.Accepted || out.Quarantined {
		t.Fatalf("session_start rejected: %+v", out)
	}

	out = ingestor.IngestOne(ctx, toolCallEvent("sess-a", base.Add(1*time.Minute)), "srv-1")
	if !out.Accepted || out.Quarantined {
		t.Fatalf("tool_call rejected: %+v", out)
	}

	if got := parentSessionOf(t, db, "sess-a"); got != "sess-a" {
		t.Fatalf("expected tool_call to inherit sess-a as its own parent, got %q", got)
	}
}
