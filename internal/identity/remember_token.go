package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/telemetryhub/ingestd/internal/domain"
	"github.com/telemetryhub/ingestd/internal/storage"
)

// rememberTokenTTL is how long an issued token remains valid.
const rememberTokenTTL = 30 * 24 * time.Hour

// RememberTokenService issues and validates long-lived login tokens,
// storing only their hash, per spec.md §4.9.
type RememberTokenService struct {
	db storage.Storage
}

// NewRememberTokenService creates a RememberTokenService bound to db.
func NewRememberTokenService(db storage.Storage) *RememberTokenService {
	return &RememberTokenService{db: db}
}

// Issue generates a new token, persists only its hash, and returns the
// plaintext to the caller exactly once — it is never retrievable
// again.
func (s *RememberTokenService) Issue(ctx context.Context, systemUserID uuid.UUID, userAgent, ipAddress string) (plaintext string, rec domain.RememberToken, err error) {
	plaintext, err = generateToken()
	if err != nil {
		return "", domain.RememberToken{}, err
	}

	now := time.Now().UTC()
	rec = domain.RememberToken{
		ID:           uuid.New(),
		SystemUserID: systemUserID,
		TokenHash:    hashToken(plaintext),
		ExpiresAt:    now.Add(rememberTokenTTL),
		UserAgent:    userAgent,
		IPAddress:    ipAddress,
		CreatedAt:    now,
	}

	ph := phSeq(s.db, 7)
	_, err = s.db.Exec(ctx, `
		INSERT INTO remember_tokens (id, system_user_id, token_hash, expires_at, user_agent, ip_address, created_at)
		VALUES (`+ph[0]+`, `+ph[1]+`, `+ph[2]+`, `+ph[3]+`, `+ph[4]+`, `+ph[5]+`, `+ph[6]+`)
	`, rec.ID, rec.SystemUserID, rec.TokenHash, rec.ExpiresAt, rec.UserAgent, rec.IPAddress, rec.CreatedAt)
	if isUniqueViolation(err) {
		return "", domain.RememberToken{}, ErrConflict
	}
	if err != nil {
		return "", domain.RememberToken{}, err
	}
	return plaintext, rec, nil
}

// Validate hashes the supplied plaintext and looks it up by hash,
// requiring it to be unexpired and unrevoked.
func (s *RememberTokenService) Validate(ctx context.Context, plaintext string) (domain.RememberToken, error) {
	hash := hashToken(plaintext)

	ph1, ph2 := s.db.Placeholder(1), s.db.Placeholder(2)
	row := s.db.QueryRow(ctx, `
		SELECT id, system_user_id, token_hash, expires_at, revoked_at, user_agent, ip_address, created_at
		FROM remember_tokens
		WHERE token_hash = `+ph1+` AND expires_at > `+ph2+` AND revoked_at IS NULL
	`, hash, time.Now().UTC())

	var rec domain.RememberToken
	if err := row.Scan(&rec.ID, &rec.SystemUserID, &rec.TokenHash, &rec.ExpiresAt, &rec.RevokedAt, &rec.UserAgent, &rec.IPAddress, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.RememberToken{}, ErrNotFound
		}
		return domain.RememberToken{}, err
	}

	if subtle.ConstantTimeCompare([]byte(rec.TokenHash), []byte(hash)) != 1 {
		return domain.RememberToken{}, ErrNotFound
	}
	return rec, nil
}

// Rotate revokes the token identified by oldPlaintext and issues a
// replacement for the same system user.
func (s *RememberTokenService) Rotate(ctx context.Context, oldPlaintext, userAgent, ipAddress string) (string, domain.RememberToken, error) {
	old, err := s.Validate(ctx, oldPlaintext)
	if err != nil {
		return "", domain.RememberToken{}, err
	}
	if err := s.revoke(ctx, old.ID); err != nil {
		return "", domain.RememberToken{}, err
	}
	return s.Issue(ctx, old.SystemUserID, userAgent, ipAddress)
}

// Revoke invalidates the token identified by plaintext, e.g. on
// logout.
func (s *RememberTokenService) Revoke(ctx context.Context, plaintext string) error {
	rec, err := s.Validate(ctx, plaintext)
	if err != nil {
		return err
	}
	return s.revoke(ctx, rec.ID)
}

func (s *RememberTokenService) revoke(ctx context.Context, id uuid.UUID) error {
	ph1, ph2 := s.db.Placeholder(1), s.db.Placeholder(2)
	_, err := s.db.Exec(ctx, `UPDATE remember_tokens SET revoked_at = `+ph1+` WHERE id = `+ph2, time.Now().UTC(), id)
	return err
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func hashToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
