package identity

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/telemetryhub/ingestd/internal/domain"
	"github.com/telemetryhub/ingestd/internal/storage"
)

// LoginAuditLogger appends authentication attempts; the log is
// write-only from the application's perspective.
type LoginAuditLogger struct {
	db storage.Storage
}

// NewLoginAuditLogger creates a LoginAuditLogger bound to db.
func NewLoginAuditLogger(db storage.Storage) *LoginAuditLogger {
	return &LoginAuditLogger{db: db}
}

// Record appends one login attempt.
func (l *LoginAuditLogger) Record(ctx context.Context, username string, success bool, ipAddress, userAgent string) error {
	rec := domain.LoginAudit{
		ID:        uuid.New(),
		Username:  username,
		Success:   success,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		CreatedAt: time.Now().UTC(),
	}
	ph := phSeq(l.db, 6)
	_, err := l.db.Exec(ctx, `
		INSERT INTO login_audit (id, username, success, ip_address, user_agent, created_at)
		VALUES (`+ph[0]+`, `+ph[1]+`, `+ph[2]+`, `+ph[3]+`, `+ph[4]+`, `+ph[5]+`)
	`, rec.ID, rec.Username, rec.Success, rec.IPAddress, rec.UserAgent, rec.CreatedAt)
	return err
}

// Recent returns the most recent login attempts, newest first.
func (l *LoginAuditLogger) Recent(ctx context.Context, limit int) ([]domain.LoginAudit, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	ph1 := l.db.Placeholder(1)
	rows, err := l.db.Query(ctx, `
		SELECT id, username, success, ip_address, user_agent, created_at
		FROM login_audit ORDER BY created_at DESC LIMIT `+ph1, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.LoginAudit
	for rows.Next() {
		var a domain.LoginAudit
		if err := rows.Scan(&a.ID, &a.Username, &a.Success, &a.IPAddress, &a.UserAgent, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
