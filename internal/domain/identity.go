package domain

import (
	"time"

	"github.com/google/uuid"
)

// Org represents a telemetry-emitting server/organization, keyed by the
// server_id string clients report.
type Org struct {
	ServerID    string     `json:"server_id"`
	CompanyName *string    `json:"company_name,omitempty"`
	Alias       *string    `json:"alias,omitempty"`
	Color       *string    `json:"color,omitempty"`
	TeamID      *uuid.UUID `json:"team_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// OrgUpsert carries the coalescing fields for upsertOrg: a nil field
// never overwrites an existing value.
type OrgUpsert struct {
	Alias       *string
	Color       *string
	TeamID      *uuid.UUID
	CompanyName *string
}

// Team groups orgs and carries an optional binary logo.
type Team struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Color     *string   `json:"color,omitempty"`
	LogoData  []byte    `json:"-"`
	LogoMIME  *string   `json:"logo_mime,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Person is a human identity that may own several (username, org) pairs.
type Person struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Initials  string    `json:"initials,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PersonUsername is one (username, org) pair owned by a Person.
type PersonUsername struct {
	ID       uuid.UUID `json:"id"`
	PersonID uuid.UUID `json:"person_id"`
	Username string    `json:"username"`
	OrgID    *string   `json:"org_id,omitempty"`
}

// Role is an operator-facing authorization level, independent of
// telemetry user ids.
type Role string

const (
	RoleBasic         Role = "basic"
	RoleAdvanced      Role = "advanced"
	RoleAdministrator Role = "administrator"
	RoleGod           Role = "god"
)

// NormalizeRole case-insensitively parses a role string, defaulting to
// RoleBasic for anything unrecognized.
func NormalizeRole(s string) Role {
	switch toLowerASCII(s) {
	case string(RoleAdvanced):
		return RoleAdvanced
	case string(RoleAdministrator):
		return RoleAdministrator
	case string(RoleGod):
		return RoleGod
	default:
		return RoleBasic
	}
}

func toLowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// SystemUser is an operator account, distinct from telemetry user ids.
type SystemUser struct {
	ID           uuid.UUID  `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	Role         Role       `json:"role"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// RememberToken is a long-lived login token; only its hash is persisted.
type RememberToken struct {
	ID           uuid.UUID  `json:"id"`
	SystemUserID uuid.UUID  `json:"system_user_id"`
	TokenHash    string     `json:"-"`
	ExpiresAt    time.Time  `json:"expires_at"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	UserAgent    string     `json:"user_agent,omitempty"`
	IPAddress    string     `json:"ip_address,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// LoginAudit is one append-only authentication attempt record.
type LoginAudit struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Success   bool      `json:"success"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Setting is a single key/value configuration row.
type Setting struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
