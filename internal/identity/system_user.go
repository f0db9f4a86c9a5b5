package identity

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/telemetryhub/ingestd/internal/domain"
	"github.com/telemetryhub/ingestd/internal/storage"
)

// SystemUserService manages operator accounts, independent of
// telemetry user ids.
type SystemUserService struct {
	db storage.Storage
}

// NewSystemUserService creates a SystemUserService bound to db.
func NewSystemUserService(db storage.Storage) *SystemUserService {
	return &SystemUserService{db: db}
}

// HashPassword bcrypt-hashes a plaintext password for storage.
func HashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	return string(hash), err
}

// Create inserts a new SystemUser with the given plaintext password
// and role string (normalized per spec.md §6).
func (s *SystemUserService) Create(ctx context.Context, username, plaintextPassword, role string) (domain.SystemUser, error) {
	hash, err := HashPassword(plaintextPassword)
	if err != nil {
		return domain.SystemUser{}, err
	}

	u := domain.SystemUser{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: hash,
		Role:         domain.NormalizeRole(role),
		CreatedAt:    time.Now().UTC(),
	}

	ph := phSeq(s.db, 5)
	_, err = s.db.Exec(ctx, `
		INSERT INTO system_users (id, username, password_hash, role, created_at)
		VALUES (`+ph[0]+`, `+ph[1]+`, `+ph[2]+`, `+ph[3]+`, `+ph[4]+`)
	`, u.ID, u.Username, u.PasswordHash, string(u.Role), u.CreatedAt)
	if isUniqueViolation(err) {
		return domain.SystemUser{}, ErrConflict
	}
	return u, err
}

// Authenticate verifies a username/password pair and, on success,
// refreshes last_login.
func (s *SystemUserService) Authenticate(ctx context.Context, username, plaintextPassword string) (domain.SystemUser, error) {
	u, err := s.byUsername(ctx, username)
	if err != nil {
		return domain.SystemUser{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(plaintextPassword)); err != nil {
		return domain.SystemUser{}, ErrNotFound
	}

	now := time.Now().UTC()
	ph1, ph2 := s.db.Placeholder(1), s.db.Placeholder(2)
	if _, err := s.db.Exec(ctx, `UPDATE system_users SET last_login = `+ph1+` WHERE id = `+ph2, now, u.ID); err != nil {
		return domain.SystemUser{}, err
	}
	u.LastLogin = &now
	return u, nil
}

// Get returns a SystemUser by id, used to resolve an authenticated
// session back to its operator account.
func (s *SystemUserService) Get(ctx context.Context, id uuid.UUID) (domain.SystemUser, error) {
	ph1 := s.db.Placeholder(1)
	row := s.db.QueryRow(ctx, `
		SELECT id, username, password_hash, role, last_login, created_at
		FROM system_users WHERE id = `+ph1, id)

	var u domain.SystemUser
	var roleStr string
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &roleStr, &u.LastLogin, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SystemUser{}, ErrNotFound
		}
		return domain.SystemUser{}, err
	}
	u.Role = domain.NormalizeRole(roleStr)
	return u, nil
}

func (s *SystemUserService) byUsername(ctx context.Context, username string) (domain.SystemUser, error) {
	ph1 := s.db.Placeholder(1)
	row := s.db.QueryRow(ctx, `
		SELECT id, username, password_hash, role, last_login, created_at
		FROM system_users WHERE username = `+ph1, username)

	var u domain.SystemUser
	var roleStr string
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &roleStr, &u.LastLogin, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SystemUser{}, ErrNotFound
		}
		return domain.SystemUser{}, err
	}
	u.Role = domain.NormalizeRole(roleStr)
	return u, nil
}
