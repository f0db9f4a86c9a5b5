// Package identity implements the People/Teams/Orgs directory, system
// user accounts, remember-tokens, and login audit — the Identity &
// Team Services component of spec.md §4.9.
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

// ErrNotFound is returned by single-entity lookups that find nothing,
// per spec.md §7's NotFound taxonomy entry.
var ErrNotFound = errors.New("identity: not found")

// ErrConflict is returned on unique-constraint violations (team name,
// person-username pair, remember-token hash).
var ErrConflict = errors.New("identity: conflict")

// PeopleService implements People CRUD and username ownership.
type PeopleService struct {
	db storage.Storage
}

// NewPeopleService creates a PeopleService bound to db.
func NewPeopleService(db storage.Storage) *PeopleService {
	return &PeopleService{db: db}
}

// Create inserts a new Person.
func (s *PeopleService) Create(ctx context.Context, name, email, initials string) (domain.Person, error) {
	p := domain.Person{ID: uuid.New(), Name: name, Email: email, Initials: initials, CreatedAt: time.Now().UTC()}
	ph := phSeq(s.db, 5)
	_, err := s.db.Exec(ctx, `
		INSERT INTO people (id, name, email, initials, created_at)
		VALUES (`+ph[0]+`, `+ph[1]+`, `+ph[2]+`, `+ph[3]+`, `+ph[4]+`)
	`, p.ID, p.Name, p.Email, p.Initials, p.CreatedAt)
	return p, err
}

// Get returns a Person by id.
func (s *PeopleService) Get(ctx context.Context, id uuid.UUID) (domain.Person, error) {
	ph1 := s.db.Placeholder(1)
	row := s.db.QueryRow(ctx, `
		SELECT id, name, email, initials, created_at FROM people WHERE id = `+ph1, id)

	var p domain.Person
	if err := row.Scan(&p.ID, &p.Name, &p.Email, &p.Initials, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Person{}, ErrNotFound
		}
		return domain.Person{}, err
	}
	return p, nil
}

// Update changes a Person's mutable fields.
func (s *PeopleService) Update(ctx context.Context, id uuid.UUID, name, email, initials string) error {
	ph := phSeq(s.db, 4)
	res, err := s.db.Exec(ctx, `
		UPDATE people SET name = `+ph[0]+`, email = `+ph[1]+`, initials = `+ph[2]+` WHERE id = `+ph[3]+`
	`, name, email, initials, id)
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

// Delete removes a Person; owned usernames cascade via the foreign
// key's ON DELETE CASCADE.
func (s *PeopleService) Delete(ctx context.Context, id uuid.UUID) error {
	ph1 := s.db.Placeholder(1)
	res, err := s.db.Exec(ctx, `DELETE FROM people WHERE id = `+ph1, id)
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

// List returns every Person.
func (s *PeopleService) List(ctx context.Context) ([]domain.Person, error) {
	rows, err := s.db.Query(ctx, `SELECT id, name, email, initials, created_at FROM people ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Person
	for rows.Next() {
		var p domain.Person
		if err := rows.Scan(&p.ID, &p.Name, &p.Email, &p.Initials, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// AddUsername attaches a (username, orgId) pair to a Person. The
// person_usernames table is unique on (username, org_id), so a
// username/org pair belongs to at most one person; the same username
// can be attached to one person more than once under different (or
// NULL) org ids.
func (s *PeopleService) AddUsername(ctx context.Context, personID uuid.UUID, username string, orgID *string) (domain.PersonUsername, error) {
	pu := domain.PersonUsername{ID: uuid.New(), PersonID: personID, Username: username, OrgID: orgID}
	ph := phSeq(s.db, 4)
	_, err := s.db.Exec(ctx, `
		INSERT INTO person_usernames (id, person_id, username, org_id)
		VALUES (`+ph[0]+`, `+ph[1]+`, `+ph[2]+`, `+ph[3]+`)
	`, pu.ID, pu.PersonID, pu.Username, pu.OrgID)
	if isUniqueViolation(err) {
		return domain.PersonUsername{}, ErrConflict
	}
	return pu, err
}

// phSeq returns n sequential 1-indexed placeholders for db's dialect.
func phSeq(db storage.Storage, n int) []string {
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = db.Placeholder(i + 1)
	}
	return out
}
