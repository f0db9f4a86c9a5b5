package ingest_test

import (
	"context"
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

func quarantinedCount(t *testing.T, db storage.Storage) int {
	t.Helper()
	row := db.QueryRow(context.Background(), `
		SELECT COUNT(*) FROM telemetry_events te
		JOIN event_types et ON et.id = te.event_id
		WHERE et.name = 'error' AND te.session_id IS NULL
	`)
	var n int
	if err := row.Scan(&n); err != nil {
		t.Fatalf("count quarantined events: %v", err)
	}
	return n
}

// A tool_call carrying userId is accepted and written, not quarantined.
func TestIngestOneAcceptsEventWithUserID(t *testing.T) {
	ingestor, db := newIngestor(t)
	ctx := context.Background()

	out := ingestor.IngestOne(ctx, []byte(`{
		"event": "tool_call", "userId": "user-1", "timestamp": "2026-01-01T09:00:00Z",
		"data": {"toolName": "grep"}
	}`), "srv-1")

	if !out.Accepted || out.Quarantined {
		t.Fatalf("expected accepted, non-quarantined outcome, got %+v", out)
	}
	if n := quarantinedCount(t, db); n != 0 {
		t.Fatalf("expected no quarantined rows, got %d", n)
	}
}

// session_start is exempt from the userId requirement, per spec.md
// §4.5 rule 2.
func TestIngestOneAcceptsSessionStartWithoutUserID(t *testing.T) {
	ingestor, db := newIngestor(t)
	ctx := context.Background()

	out := ingestor.IngestOne(ctx, []byte(`{
		"event": "session_start", "sessionId": "sess-a", "timestamp": "2026-01-01T09:00:00Z"
	}`), "srv-1")

	if !out.Accepted || out.Quarantined {
		t.Fatalf("expected session_start accepted without quarantine, got %+v", out)
	}
	if n := quarantinedCount(t, db); n != 0 {
		t.Fatalf("expected no quarantined rows, got %d", n)
	}
}

// A non-exempt event type missing userId, with no allowMissingUser
// override, is quarantined rather than rejected outright.
func TestIngestOneQuarantinesMissingUserID(t *testing.T) {
	ingestor, db := newIngestor(t)
	ctx := context.Background()

	out := ingestor.IngestOne(ctx, []byte(`{
		"event": "tool_call", "timestamp": "2026-01-01T09:00:00Z",
		"data": {"toolName": "grep"}
	}`), "srv-1")

	if !out.Accepted || !out.Quarantined {
		t.Fatalf("expected quarantined outcome, got %+v", out)
	}
	if out.Reason != "missing required field: userId" {
		t.Fatalf("unexpected quarantine reason: %q", out.Reason)
	}
	if n := quarantinedCount(t, db); n != 1 {
		t.Fatalf("expected one quarantined row, got %d", n)
	}
}

// allowMissingUser in the payload overrides the userId requirement for
// an otherwise non-exempt event type.
func TestIngestOneAcceptsMissingUserIDWithAllowMissingUserFlag(t *testing.T) {
	ingestor, db := newIngestor(t)
	ctx := context.Background()

	out := ingestor.IngestOne(ctx, []byte(`{
		"event": "tool_call", "timestamp": "2026-01-01T09:00:00Z",
		"allowMissingUser": true,
		"data": {"toolName": "grep"}
	}`), "srv-1")

	if !out.Accepted || out.Quarantined {
		t.Fatalf("expected accepted, non-quarantined outcome, got %+v", out)
	}
	if n := quarantinedCount(t, db); n != 0 {
		t.Fatalf("expected no quarantined rows, got %d", n)
	}
}

// A payload matching none of the version-detection schemes is
// quarantined as unknown schema rather than rejected.
func TestIngestOneQuarantinesUnknownSchema(t *testing.T) {
	ingestor, db := newIngestor(t)
	ctx := context.Background()

	out := ingestor.IngestOne(ctx, []byte(`{"nothing": "recognizable"}`), "srv-1")

	if !out.Accepted || !out.Quarantined {
		t.Fatalf("expected quarantined outcome, got %+v", out)
	}
	if n := quarantinedCount(t, db); n != 1 {
		t.Fatalf("expected one quarantined row, got %d", n)
	}
}

// A malformed (non-JSON) body is quarantined too.
func TestIngestOneQuarantinesMalformedPayload(t *testing.T) {
	ingestor, db := newIngestor(t)
	ctx := context.Background()

	out := ingestor.IngestOne(ctx, []byte(`not json at all`), "srv-1")

	if !out.Accepted || !out.Quarantined {
		t.Fatalf("expected quarantined outcome, got %+v", out)
	}
	if n := quarantinedCount(t, db); n != 1 {
		t.Fatalf("expected one quarantined row, got %d", n)
	}
}

// IngestBatch returns one outcome per submitted event, in order,
// mixing accepted and quarantined results within a single call.
func TestIngestBatchReturnsOneOutcomePerEventInOrder(t *testing.T) {
	ingestor, _ := newIngestor(t)
	ctx := context.Background()

	batch := [][]byte{
		[]byte(`{"event": "tool_call", "userId": "user-1", "timestamp": "2026-01-01T09:00:00Z"}`),
		[]byte(`{"event": "tool_call", "timestamp": "2026-01-01T09:01:00Z"}`),
		[]byte(`{"event": "session_start", "sessionId": "sess-a", "timestamp": "2026-01-01T09:02:00Z"}`),
	}

	outcomes := ingestor.IngestBatch(ctx, batch, "srv-1")
	if len(outcomes) != len(batch) {
		t.Fatalf("expected %d outcomes, got %d", len(batch), len(outcomes))
	}
	if !outcomes[0].Accepted || outcomes[0].Quarantined {
		t.Fatalf("expected outcome[0] accepted non-quarantined, got %+v", outcomes[0])
	}
	if !outcomes[1].Accepted || !outcomes[1].Quarantined {
		t.Fatalf("expected outcome[1] quarantined for missing userId, got %+v", outcomes[1])
	}
	if !outcomes[2].Accepted || outcomes[2].Quarantined {
		t.Fatalf("expected outcome[2] (session_start) accepted non-quarantined, got %+v", outcomes[2])
	}
}

// IngestBatch processes every event handed to it, including a batch at
// exactly MaxBatchSize; the cap itself is enforced by the HTTP layer
// before events reach the ingestor.
func TestIngestBatchProcessesFullSizeBatch(t *testing.T) {
	ingestor, _ := newIngestor(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	batch := make([][]byte, ingest.MaxBatchSize)
	for i := range batch {
		batch[i] = []byte(`{"event": "tool_call", "userId": "user-1", "timestamp": "` +
			base.Add(time.Duration(i)*time.Second).Format(time.RFC3339) + `"}`)
	}

	outcomes := ingestor.IngestBatch(ctx, batch, "srv-1")
	if len(outcomes) != ingest.MaxBatchSize {
		t.Fatalf("expected %d outcomes, got %d", ingest.MaxBatchSize, len(outcomes))
	}
	for i, o := range outcomes {
		if !o.Accepted || o.Quarantined {
			t.Fatalf("outcome[%d] expected accepted non-quarantined, got %+v", i, o)
		}
	}
}
