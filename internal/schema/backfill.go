package schema

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/telemetryhub/ingestd/internal/storage"
)

// backfillBatchSize bounds how many rows one backfill pass touches,
// keeping a single UPDATE from holding the write lock too long on the
// embedded backend.
const backfillBatchSize = 1000

// backfillRetryInterval is how long a failed backfill waits before
// trying again, so a transient failure never becomes a permanent gap.
const backfillRetryInterval = 30 * time.Second

// RunBackfillsAsync launches the two background backfills spec.md
// §4.2 step 7 describes: denormalized-column population and
// schema-v2 field derivation. Both run until their target columns
// have no remaining NULLs, then exit; a failure is logged and retried
// after backfillRetryInterval. Neither blocks startup or serving.
func RunBackfillsAsync(ctx context.Context, db storage.Storage, logger zerolog.Logger) {
	go runUntilDone(ctx, logger, "denormalized_columns_backfill", func(ctx context.Context) (bool, error) {
		return backfillDenormalizedColumnsBatch(ctx, db)
	})
	go runUntilDone(ctx, logger, "schema_v2_fields_backfill", func(ctx context.Context) (bool, error) {
		return backfillSchemaV2FieldsBatch(ctx, db)
	})
}

// runUntilDone repeatedly invokes step until it reports no more work,
// retrying after backfillRetryInterval on error.
func runUntilDone(ctx context.Context, logger zerolog.Logger, name string, step func(ctx context.Context) (more bool, err error)) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		more, err := step(ctx)
		if err != nil {
			logger.Warn().Err(err).Str("backfill", name).Msg("backfill batch failed, will retry")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backfillRetryInterval):
				continue
			}
		}
		if !more {
			logger.Info().Str("backfill", name).Msg("backfill complete")
			return
		}
	}
}

// backfillDenormalizedColumnsBatch copies orgId/userName/toolName/
// companyName/errorMessage out of the JSON payload into their
// denormalized columns for up to backfillBatchSize rows still missing
// them. It reports whether more rows remain.
func backfillDenormalizedColumnsBatch(ctx context.Context, db storage.Storage) (bool, error) {
	var query string
	switch db.Kind() {
	case storage.KindPostgres:
		query = `
			UPDATE telemetry_events
			SET org_id = COALESCE(org_id, data->>'orgId'),
			    user_name = COALESCE(user_name, data->>'userName'),
			    tool_name = COALESCE(tool_name, data->>'toolName'),
			    company_name = COALESCE(company_name, data->>'companyName'),
			    error_message = COALESCE(error_message, data->>'errorMessage')
			WHERE id IN (
				SELECT id FROM telemetry_events
				WHERE org_id IS NULL OR user_name IS NULL OR tool_name IS NULL
				   OR company_name IS NULL OR error_message IS NULL
				LIMIT $1
			)
		`
	default:
		query = `
			UPDATE telemetry_events
			SET org_id = COALESCE(org_id, json_extract(data, '$.orgId')),
			    user_name = COALESCE(user_name, json_extract(data, '$.userName')),
			    tool_name = COALESCE(tool_name, json_extract(data, '$.toolName')),
			    company_name = COALESCE(company_name, json_extract(data, '$.companyName')),
			    error_message = COALESCE(error_message, json_extract(data, '$.errorMessage'))
			WHERE id IN (
				SELECT id FROM telemetry_events
				WHERE org_id IS NULL OR user_name IS NULL OR tool_name IS NULL
				   OR company_name IS NULL OR error_message IS NULL
				LIMIT ?
			)
		`
	}

	res, err := db.Exec(ctx, query, backfillBatchSize)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// backfillSchemaV2FieldsBatch derives area/success/telemetry_schema_version
// for rows that predate schema v2, recognized by a NULL area. success
// is set false for tool_error/error events and true otherwise; the
// parser, by contrast, defaults a missing "success" field to true for
// every event type.
func backfillSchemaV2FieldsBatch(ctx context.Context, db storage.Storage) (bool, error) {
	var query string
	switch db.Kind() {
	case storage.KindPostgres:
		query = `
			UPDATE telemetry_events te
			SET area = CASE
					WHEN et.name IN ('tool_call','tool_error') THEN 'tool'
					WHEN et.name IN ('session_start','session_end') THEN 'session'
					ELSE 'general'
				END,
				success = et.name NOT IN ('tool_error','error'),
				telemetry_schema_version = 1
			FROM event_types et
			WHERE te.event_id = et.id AND te.area IS NULL
			  AND te.id IN (SELECT id FROM telemetry_events WHERE area IS NULL LIMIT $1)
		`
	default:
		query = `
			UPDATE telemetry_events
			SET area = (
					SELECT CASE
						WHEN et.name IN ('tool_call','tool_error') THEN 'tool'
						WHEN et.name IN ('session_start','session_end') THEN 'session'
						ELSE 'general'
					END
					FROM event_types et WHERE et.id = telemetry_events.event_id
				),
				success = (
					SELECT et.name NOT IN ('tool_error','error')
					FROM event_types et WHERE et.id = telemetry_events.event_id
				),
				telemetry_schema_version = 1
			WHERE area IS NULL
			  AND id IN (SELECT id FROM telemetry_events WHERE area IS NULL LIMIT ?)
		`
	}

	res, err := db.Exec(ctx, query, backfillBatchSize)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
