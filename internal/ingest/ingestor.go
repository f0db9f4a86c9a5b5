package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/telemetryhub/ingestd/internal/aggregate"
	"github.com/telemetryhub/ingestd/internal/domain"
	"github.com/telemetryhub/ingestd/internal/session"
	"github.com/telemetryhub/ingestd/internal/storage"
)

// MaxBatchSize is the largest array the ingest endpoint accepts in one
// call, per spec.md §4.5 / §8.
const MaxBatchSize = 1000

// exemptFromUserIDCheck holds event type names allowed through without
// a resolved userId even though they are not session_start.
var exemptFromUserIDCheck = map[string]bool{
	"server_boot":    true,
	"client_connect": true,
}

// Outcome describes what happened to one submitted event.
type Outcome struct {
	Accepted    bool
	Quarantined bool
	Reason      string
}

// Ingestor is the Ingestor component: parse, validate, reconcile,
// write, and fan out best-effort side effects.
type Ingestor struct {
	db          storage.Storage
	reconciler  *session.Reconciler
	aggregates  *aggregate.Maintainer
	logger      zerolog.Logger
}

// New creates an Ingestor.
func New(db storage.Storage, reconciler *session.Reconciler, aggregates *aggregate.Maintainer, logger zerolog.Logger) *Ingestor {
	return &Ingestor{db: db, reconciler: reconciler, aggregates: aggregates, logger: logger}
}

// IngestOne processes a single raw JSON payload.
func (i *Ingestor) IngestOne(ctx context.Context, raw []byte, serverID string) Outcome {
	now := time.Now().UTC()

	parsed, err := Parse(raw, serverID, now)
	if err != nil {
		i.quarantine(ctx, raw, serverID, now, err.Error())
		return Outcome{Accepted: true, Quarantined: true, Reason: err.Error()}
	}

	if reason, reject := i.validate(parsed, raw); reject {
		i.quarantine(ctx, raw, serverID, now, reason)
		return Outcome{Accepted: true, Quarantined: true, Reason: reason}
	}

	parentSessionID, err := i.reconciler.Resolve(ctx, session.Input{
		SessionID: parsed.SessionID,
		UserID:    parsed.UserID,
		ServerID:  parsed.ServerID,
		EventType: parsed.EventType,
		Timestamp: parsed.Timestamp,
	})
	if err != nil {
		i.logger.Error().Err(err).Msg("session reconciliation failed")
		return Outcome{Accepted: false, Reason: "storage error"}
	}
	parsed.ParentSessionID = parentSessionID

	teamID, err := i.teamIDForOrg(ctx, parsed.Denormalized.OrgID)
	if err != nil {
		i.logger.Warn().Err(err).Msg("team_id lookup failed, proceeding without snapshot")
	}

	if err := i.insert(ctx, parsed, teamID); err != nil {
		i.logger.Error().Err(err).Msg("event insert failed")
		return Outcome{Accepted: false, Reason: "storage error"}
	}

	i.runSideEffects(ctx, parsed)

	return Outcome{Accepted: true}
}

// IngestBatch processes up to MaxBatchSize events sequentially,
// collecting a per-event outcome. Aggregate side effects may be
// coalesced by the caller but inserts happen one at a time in
// arrival order.
func (i *Ingestor) IngestBatch(ctx context.Context, rawEvents [][]byte, serverID string) []Outcome {
	outcomes := make([]Outcome, 0, len(rawEvents))
	for _, raw := range rawEvents {
		outcomes = append(outcomes, i.IngestOne(ctx, raw, serverID))
	}
	return outcomes
}

// validate applies spec.md §4.5 rule 2: an event is dropped when
// userId is unresolved, it is not session_start, its type is not in
// the exempt set, and the payload does not opt out via
// allowMissingUser.
func (i *Ingestor) validate(p ParsedEvent, raw []byte) (reason string, reject bool) {
	if p.UserID != nil {
		return "", false
	}
	if p.EventType == domain.EventTypeSessionStart {
		return "", false
	}
	if exemptFromUserIDCheck[rawEventName(raw)] {
		return "", false
	}
	if allowsMissingUser(raw) {
		return "", false
	}
	return "missing required field: userId", true
}

// rawEventName returns the payload's own "event" name, before the
// parser maps it onto the closed event-type set.
func rawEventName(raw []byte) string {
	var probe struct {
		Event any `json:"event"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	s, _ := probe.Event.(string)
	return strings.TrimSpace(s)
}

func allowsMissingUser(raw []byte) bool {
	var probe struct {
		AllowMissingUser bool `json:"allowMissingUser"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return probe.AllowMissingUser
}

func (i *Ingestor) teamIDForOrg(ctx context.Context, orgID *string) (*string, error) {
	if orgID == nil {
		return nil, nil
	}
	ph1 := i.db.Placeholder(1)
	row := i.db.QueryRow(ctx, `SELECT team_id FROM orgs WHERE server_id = `+ph1, *orgID)

	var teamID sql.NullString
	if err := row.Scan(&teamID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if !teamID.Valid {
		return nil, nil
	}
	return &teamID.String, nil
}

func (i *Ingestor) insert(ctx context.Context, p ParsedEvent, teamID *string) error {
	eventTypeID, err := i.eventTypeID(ctx, p.EventType)
	if err != nil {
		return err
	}

	ph := phSeq(i.db, 16)
	_, err = i.db.Exec(ctx, `
		INSERT INTO telemetry_events (
			event_id, timestamp, server_id, version, session_id, user_id, data,
			org_id, user_name, tool_name, company_name, error_message, team_id,
			area, success, telemetry_schema_version, parent_session_id
		) VALUES (`+ph[0]+`, `+ph[1]+`, `+ph[2]+`, `+ph[3]+`, `+ph[4]+`, `+ph[5]+`, `+ph[6]+`,
			`+ph[7]+`, `+ph[8]+`, `+ph[9]+`, `+ph[10]+`, `+ph[11]+`, `+ph[12]+`,
			`+ph[13]+`, `+ph[14]+`, `+ph[15]+`, `+i.db.Placeholder(17)+`
		)
	`,
		eventTypeID, p.Timestamp, p.ServerID, p.Version, p.SessionID, p.UserID, string(p.PayloadAsReceived),
		p.Denormalized.OrgID, p.Denormalized.UserName, p.Denormalized.ToolName,
		p.Denormalized.CompanyName, p.Denormalized.ErrorMessage, teamID,
		string(p.Area), p.Success, p.SchemaVersion, p.ParentSessionID,
	)
	return err
}

// phSeq returns n sequential placeholders for db's dialect (1-indexed).
func phSeq(db storage.Storage, n int) []string {
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = db.Placeholder(i + 1)
	}
	return out
}

func (i *Ingestor) eventTypeID(ctx context.Context, name domain.EventTypeName) (int64, error) {
	ph1 := i.db.Placeholder(1)
	row := i.db.QueryRow(ctx, `SELECT id FROM event_types WHERE name = `+ph1, string(name))
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (i *Ingestor) quarantine(ctx context.Context, raw []byte, serverID string, now time.Time, reason string) {
	eventTypeID, err := i.eventTypeID(ctx, domain.EventTypeError)
	if err != nil {
		i.logger.Error().Err(err).Msg("cannot quarantine: error event type missing")
		return
	}

	ph := phSeq(i.db, 8)
	_, err = i.db.Exec(ctx, `
		INSERT INTO telemetry_events (
			event_id, timestamp, server_id, version, data,
			area, success, error_message
		) VALUES (`+ph[0]+`, `+ph[1]+`, `+ph[2]+`, `+ph[3]+`, `+ph[4]+`, `+ph[5]+`, `+ph[6]+`, `+ph[7]+`)
	`,
		eventTypeID, now, serverID, "1", string(raw),
		string(domain.AreaGeneral), false, reason,
	)
	if err != nil {
		i.logger.Error().Err(err).Msg("failed to write quarantined event")
	}
}

func (i *Ingestor) runSideEffects(ctx context.Context, p ParsedEvent) {
	if p.Denormalized.CompanyName != nil && p.ServerID != "" {
		if err := i.upsertOrgCompanyName(ctx, p.ServerID, *p.Denormalized.CompanyName); err != nil {
			i.logger.Warn().Err(err).Msg("org company_name upsert failed")
		}
	}
	if p.UserID != nil {
		if err := i.aggregates.Incr(ctx, aggregate.TableUsers, *p.UserID, p.Timestamp, p.Denormalized.UserName); err != nil {
			i.logger.Warn().Err(err).Msg("user_event_stats incr failed")
		}
	}
	if p.Denormalized.OrgID != nil {
		if err := i.aggregates.Incr(ctx, aggregate.TableOrgs, *p.Denormalized.OrgID, p.Timestamp, p.Denormalized.CompanyName); err != nil {
			i.logger.Warn().Err(err).Msg("org_event_stats incr failed")
		}
	}
}

func (i *Ingestor) upsertOrgCompanyName(ctx context.Context, serverID, companyName string) error {
	switch i.db.Kind() {
	case storage.KindPostgres:
		_, err := i.db.Exec(ctx, `
			INSERT INTO orgs (server_id, company_name) VALUES ($1, $2)
			ON CONFLICT (server_id) DO UPDATE SET company_name = EXCLUDED.company_name, updated_at = now()
		`, serverID, companyName)
		return err
	default:
		_, err := i.db.Exec(ctx, `
			INSERT INTO orgs (server_id, company_name) VALUES (?, ?)
			ON CONFLICT (server_id) DO UPDATE SET company_name = excluded.company_name, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		`, serverID, companyName)
		return err
	}
}
