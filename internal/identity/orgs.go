package identity

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/telemetryhub/ingestd/internal/domain"
	"github.com/telemetryhub/ingestd/internal/storage"
)

// OrgService implements org upsert, team reassignment, and the
// snapshot-team_id recompute spec.md §4.9 requires on reassignment.
type OrgService struct {
	db storage.Storage
}

// NewOrgService creates an OrgService bound to db.
func NewOrgService(db storage.Storage) *OrgService {
	return &OrgService{db: db}
}

// Get returns an Org by server_id.
func (s *OrgService) Get(ctx context.Context, serverID string) (domain.Org, error) {
	ph1 := s.db.Placeholder(1)
	row := s.db.QueryRow(ctx, `
		SELECT server_id, company_name, alias, color, team_id, created_at, updated_at
		FROM orgs WHERE server_id = `+ph1, serverID)

	var o domain.Org
	if err := row.Scan(&o.ServerID, &o.CompanyName, &o.Alias, &o.Color, &o.TeamID, &o.CreatedAt, &o.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Org{}, ErrNotFound
		}
		return domain.Org{}, err
	}
	return o, nil
}

// Upsert creates or coalescing-updates an Org: a nil field in u never
// overwrites an existing value, and an all-nil u is a no-op per
// spec.md §8.
func (s *OrgService) Upsert(ctx context.Context, serverID string, u domain.OrgUpsert) error {
	if u.Alias == nil && u.Color == nil && u.TeamID == nil && u.CompanyName == nil {
		return nil
	}
	now := time.Now().UTC()

	switch s.db.Kind() {
	case storage.KindPostgres:
		_, err := s.db.Exec(ctx, `
			INSERT INTO orgs (server_id, alias, color, team_id, company_name, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $6)
			ON CONFLICT (server_id) DO UPDATE SET
				alias = COALESCE(EXCLUDED.alias, orgs.alias),
				color = COALESCE(EXCLUDED.color, orgs.color),
				team_id = COALESCE(EXCLUDED.team_id, orgs.team_id),
				company_name = COALESCE(EXCLUDED.company_name, orgs.company_name),
				updated_at = EXCLUDED.updated_at
		`, serverID, u.Alias, u.Color, u.TeamID, u.CompanyName, now)
		return err
	default:
		_, err := s.db.Exec(ctx, `
			INSERT INTO orgs (server_id, alias, color, team_id, company_name, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(server_id) DO UPDATE SET
				alias = COALESCE(excluded.alias, orgs.alias),
				color = COALESCE(excluded.color, orgs.color),
				team_id = COALESCE(excluded.team_id, orgs.team_id),
				company_name = COALESCE(excluded.company_name, orgs.company_name),
				updated_at = excluded.updated_at
		`, serverID, u.Alias, u.Color, u.TeamID, u.CompanyName, now, now)
		return err
	}
}

// MoveOrgToTeam updates org.team_id and then rewrites every event's
// snapshot team_id for that org via RecalculateTeamIdsForOrg.
// RecalculateTeamIdsForOrg can also be called on its own to re-run the
// rewrite without a reassignment.
func (s *OrgService) MoveOrgToTeam(ctx context.Context, serverID string, teamID uuid.UUID) error {
	ph1, ph2, ph3 := s.db.Placeholder(1), s.db.Placeholder(2), s.db.Placeholder(3)
	_, err := s.db.Exec(ctx, `
		UPDATE orgs SET team_id = `+ph1+`, updated_at = `+ph2+` WHERE server_id = `+ph3+`
	`, teamID, time.Now().UTC(), serverID)
	if err != nil {
		return err
	}
	_, err = s.RecalculateTeamIdsForOrg(ctx, serverID)
	return err
}

// RecalculateTeamIdsForOrg rewrites telemetry_events.team_id for every
// event belonging to serverID to match the org's current team_id.
func (s *OrgService) RecalculateTeamIdsForOrg(ctx context.Context, serverID string) (int64, error) {
	org, err := s.Get(ctx, serverID)
	if err != nil {
		return 0, err
	}

	ph1, ph2 := s.db.Placeholder(1), s.db.Placeholder(2)
	res, err := s.db.Exec(ctx, `
		UPDATE telemetry_events SET team_id = `+ph1+` WHERE org_id = `+ph2+`
	`, org.TeamID, serverID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// List returns every Org.
func (s *OrgService) List(ctx context.Context) ([]domain.Org, error) {
	rows, err := s.db.Query(ctx, `
		SELECT server_id, company_name, alias, color, team_id, created_at, updated_at
		FROM orgs ORDER BY server_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Org
	for rows.Next() {
		var o domain.Org
		if err := rows.Scan(&o.ServerID, &o.CompanyName, &o.Alias, &o.Color, &o.TeamID, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
