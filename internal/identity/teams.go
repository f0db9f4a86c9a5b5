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

// TeamService implements Team CRUD, including binary logo storage.
type TeamService struct {
	db storage.Storage
}

// NewTeamService creates a TeamService bound to db.
func NewTeamService(db storage.Storage) *TeamService {
	return &TeamService{db: db}
}

// Create inserts a new Team. Name is unique case-sensitively.
func (s *TeamService) Create(ctx context.Context, name string, color *string) (domain.Team, error) {
	now := time.Now().UTC()
	t := domain.Team{ID: uuid.New(), Name: name, Color: color, CreatedAt: now, UpdatedAt: now}
	ph := phSeq(s.db, 5)
	_, err := s.db.Exec(ctx, `
		INSERT INTO teams (id, name, color, created_at, updated_at)
		VALUES (`+ph[0]+`, `+ph[1]+`, `+ph[2]+`, `+ph[3]+`, `+ph[4]+`)
	`, t.ID, t.Name, t.Color, t.CreatedAt, t.UpdatedAt)
	if isUniqueViolation(err) {
		return domain.Team{}, ErrConflict
	}
	return t, err
}

// Get returns a Team by id, including logo bytes.
func (s *TeamService) Get(ctx context.Context, id uuid.UUID) (domain.Team, error) {
	ph1 := s.db.Placeholder(1)
	row := s.db.QueryRow(ctx, `
		SELECT id, name, color, logo_data, logo_mime, created_at, updated_at
		FROM teams WHERE id = `+ph1, id)

	var t domain.Team
	if err := row.Scan(&t.ID, &t.Name, &t.Color, &t.LogoData, &t.LogoMIME, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Team{}, ErrNotFound
		}
		return domain.Team{}, err
	}
	return t, nil
}

// List returns every Team, without logo bytes (fetched via Get for
// the read-mostly logo cache spec.md §5 describes).
func (s *TeamService) List(ctx context.Context) ([]domain.Team, error) {
	rows, err := s.db.Query(ctx, `SELECT id, name, color, logo_mime, created_at, updated_at FROM teams ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Team
	for rows.Next() {
		var t domain.Team
		if err := rows.Scan(&t.ID, &t.Name, &t.Color, &t.LogoMIME, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Rename updates a Team's name/color.
func (s *TeamService) Rename(ctx context.Context, id uuid.UUID, name string, color *string) error {
	ph := phSeq(s.db, 4)
	res, err := s.db.Exec(ctx, `
		UPDATE teams SET name = `+ph[0]+`, color = `+ph[1]+`, updated_at = `+ph[2]+` WHERE id = `+ph[3]+`
	`, name, color, time.Now().UTC(), id)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetLogo atomically replaces a Team's logo, taking write ownership of
// the row per spec.md §5.
func (s *TeamService) SetLogo(ctx context.Context, id uuid.UUID, data []byte, mime string) error {
	ph := phSeq(s.db, 4)
	res, err := s.db.Exec(ctx, `
		UPDATE teams SET logo_data = `+ph[0]+`, logo_mime = `+ph[1]+`, updated_at = `+ph[2]+` WHERE id = `+ph[3]+`
	`, data, mime, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a Team and nulls out references in orgs and events,
// per spec.md §4.9.
func (s *TeamService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.db.WithTx(ctx, func(tx storage.Tx) error {
		ph1 := s.db.Placeholder(1)
		if _, err := tx.Exec(ctx, `UPDATE orgs SET team_id = NULL WHERE team_id = `+ph1, id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE telemetry_events SET team_id = NULL WHERE team_id = `+ph1, id); err != nil {
			return err
		}
		res, err := tx.Exec(ctx, `DELETE FROM teams WHERE id = `+ph1, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}
