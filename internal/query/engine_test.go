package query_test

import (
	"context"
	"testing"

	"github.com/telemetryhub/ingestd/internal/query"
	"github.com/telemetryhub/ingestd/internal/schema/schematest"
)

// GetDailyStats returns exactly `days` buckets; a non-positive count
// falls back to the 30-day default and a count above 365 is clamped
// to 365.
func TestGetDailyStatsClampsRange(t *testing.T) {
	db := schematest.Open(t)
	e := query.New(db)
	ctx := context.Background()

	out, err := e.GetDailyStats(ctx, 0)
	if err != nil {
		t.Fatalf("days=0: %v", err)
	}
	if len(out) != 30 {
		t.Fatalf("expected days=0 to clamp to 30 buckets, got %d", len(out))
	}

	out, err = e.GetDailyStats(ctx, 10000)
	if err != nil {
		t.Fatalf("days=10000: %v", err)
	}
	if len(out) != 365 {
		t.Fatalf("expected days=10000 to clamp to 365 buckets, got %d", len(out))
	}

	out, err = e.GetDailyStats(ctx, 7)
	if err != nil {
		t.Fatalf("days=7: %v", err)
	}
	if len(out) != 7 {
		t.Fatalf("expected days=7 to return 7 buckets, got %d", len(out))
	}
}

// GetEvents skips the COUNT(*) pass (Total == -1) only for deep, wide
// pagination (offset > 0 and limit > 100); Total is always reported
// otherwise.
func TestGetEventsSkipsCountOnlyForDeepWidePages(t *testing.T) {
	db := schematest.Open(t)
	e := query.New(db)
	ctx := context.Background()

	page, err := e.GetEvents(ctx, query.EventFilter{Limit: 50, Offset: 0})
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if page.Total == -1 {
		t.Fatalf("expected Total to be computed for a shallow page")
	}

	page, err = e.GetEvents(ctx, query.EventFilter{Limit: 200, Offset: 1000})
	if err != nil {
		t.Fatalf("deep page: %v", err)
	}
	if page.Total != -1 {
		t.Fatalf("expected Total to be skipped (-1) for a deep, wide page, got %d", page.Total)
	}
}

// An unrecognized OrderBy value falls back to ordering by id rather
// than producing a SQL error from an unvalidated column name.
func TestGetEventsFallsBackOnUnknownOrderColumn(t *testing.T) {
	db := schematest.Open(t)
	e := query.New(db)
	ctx := context.Background()

	if _, err := e.GetEvents(ctx, query.EventFilter{OrderBy: "'; DROP TABLE telemetry_events; --"}); err != nil {
		t.Fatalf("expected unknown OrderBy to fall back safely, got error: %v", err)
	}

	var stillExists int
	row := db.QueryRow(ctx, `SELECT COUNT(*) FROM telemetry_events`)
	if err := row.Scan(&stillExists); err != nil {
		t.Fatalf("table should still exist: %v", err)
	}
}

func TestGetTopUsersClampsTopN(t *testing.T) {
	db := schematest.Open(t)
	e := query.New(db)
	ctx := context.Background()

	if _, err := e.GetTopUsersLastDays(ctx, 0, 30); err != nil {
		t.Fatalf("topN=0: %v", err)
	}
	if _, err := e.GetTopUsersLastDays(ctx, 10000, 30); err != nil {
		t.Fatalf("topN=10000: %v", err)
	}
}
