package lifecycle_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/telemetryhub/ingestd/internal/aggregate"
	"github.com/telemetryhub/ingestd/internal/ingest"
	"github.com/telemetryhub/ingestd/internal/lifecycle"
	"github.com/telemetryhub/ingestd/internal/schema/schematest"
	"github.com/telemetryhub/ingestd/internal/session"
	"github.com/telemetryhub/ingestd/internal/storage"
)

func seedOneEvent(t *testing.T, db storage.Storage) int64 {
	t.Helper()
	reconciler := session.New(db)
	aggregates := aggregate.New(db)
	ingestor := ingest.New(db, reconciler, aggregates, zerolog.Nop())

	ts := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	raw := []byte(`{"event": "tool_call", "userId": "user-1", "timestamp": "` + ts.Format(time.RFC3339) + `", "data": {"toolName": "grep"}}`)

	out := ingestor.IngestOne(context.Background(), raw, "srv-1")
	if !out.Accepted || out.Quarantined {
		t.Fatalf("seed event rejected: %+v", out)
	}

	var id int64
	row := db.QueryRow(context.Background(), `SELECT id FROM telemetry_events ORDER BY id DESC LIMIT 1`)
	if err := row.Scan(&id); err != nil {
		t.Fatalf("lookup seeded event id: %v", err)
	}
	return id
}

// Deleting then recovering an event leaves it exactly as it was:
// recover(delete(e)) == e, with deleted_at cleared.
func TestDeleteThenRecoverIsReversible(t *testing.T) {
	db := schematest.Open(t)
	ctx := context.Background()
	aggregates := aggregate.New(db)
	manager := lifecycle.New(db, aggregates)

	id := seedOneEvent(t, db)

	var dataBefore string
	if err := db.QueryRow(ctx, `SELECT data FROM telemetry_events WHERE id = ?`, id).Scan(&dataBefore); err != nil {
		t.Fatalf("scan data before delete: %v", err)
	}

	n, err := manager.DeleteEvent(ctx, id)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row affected by delete, got %d", n)
	}

	restored, err := manager.RecoverEvent(ctx, id)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if !restored {
		t.Fatalf("expected event to be restored")
	}

	var deletedAt *time.Time
	var dataAfter string
	row := db.QueryRow(ctx, `SELECT deleted_at, data FROM telemetry_events WHERE id = ?`, id)
	if err := row.Scan(&deletedAt, &dataAfter); err != nil {
		t.Fatalf("scan deleted_at: %v", err)
	}
	if deletedAt != nil {
		t.Fatalf("expected deleted_at to be cleared after recover, got %v", deletedAt)
	}
	if dataAfter != dataBefore {
		t.Fatalf("expected data unchanged by delete+recover, got %q want %q", dataAfter, dataBefore)
	}
}

// Deleting an already-deleted event is a no-op (it affects zero rows,
// never double-applies).
func TestDeleteIsNotDoubleApplied(t *testing.T) {
	db := schematest.Open(t)
	ctx := context.Background()
	aggregates := aggregate.New(db)
	manager := lifecycle.New(db, aggregates)

	id := seedOneEvent(t, db)

	if _, err := manager.DeleteEvent(ctx, id); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	n, err := manager.DeleteEvent(ctx, id)
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected second delete of an already-trashed event to affect 0 rows, got %d", n)
	}
}

// A permanently deleted event cannot be recovered, and a second
// permanent delete reports false rather than erroring.
func TestPermanentlyDeleteEventCannotBeRestored(t *testing.T) {
	db := schematest.Open(t)
	ctx := context.Background()
	aggregates := aggregate.New(db)
	manager := lifecycle.New(db, aggregates)

	id := seedOneEvent(t, db)

	if _, err := manager.DeleteEvent(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}

	ok, err := manager.PermanentlyDeleteEvent(ctx, id)
	if err != nil {
		t.Fatalf("permanent delete: %v", err)
	}
	if !ok {
		t.Fatalf("expected permanent delete of a trashed event to succeed")
	}

	ok, err = manager.PermanentlyDeleteEvent(ctx, id)
	if err != nil {
		t.Fatalf("second permanent delete: %v", err)
	}
	if ok {
		t.Fatalf("expected second permanent delete to report false, row no longer exists")
	}

	restored, err := manager.RecoverEvent(ctx, id)
	if err != nil {
		t.Fatalf("recover after permanent delete: %v", err)
	}
	if restored {
		t.Fatalf("expected recover to fail after permanent delete")
	}
}
