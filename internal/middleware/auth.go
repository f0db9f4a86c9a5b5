package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telemetryhub/ingestd/internal/domain"
	"github.com/telemetryhub/ingestd/internal/handler"
)

// AuthInfo identifies the operator whose remember-token authenticated
// this request.
type AuthInfo struct {
	SystemUserID uuid.UUID
	Username     string
	Role         domain.Role
}

// contextKey types this package's request-context keys.
type contextKey string

// Context key for auth info.
const AuthInfoKey contextKey = "auth_info"

// RememberTokenCookie is the cookie name carrying the remember-token
// plaintext.
const RememberTokenCookie = "remember_token"

// TokenValidator resolves a remember-token plaintext to its record.
type TokenValidator interface {
	Validate(ctx context.Context, plaintext string) (domain.RememberToken, error)
}

// UserLookup resolves a system user id to its record.
type UserLookup interface {
	Get(ctx context.Context, id uuid.UUID) (domain.SystemUser, error)
}

// Auth returns middleware that validates the remember-token cookie and
// attaches AuthInfo to the request context. Requests without a valid
// token are rejected with 401.
func Auth(tokens TokenValidator, users UserLookup, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(RememberTokenCookie)
			if err != nil || cookie.Value == "" {
				handler.WriteError(w, http.StatusUnauthorized, "missing_token", "remember_token cookie is required")
				return
			}

			rec, err := tokens.Validate(r.Context(), cookie.Value)
			if err != nil {
				logger.Warn().Err(err).Msg("remember token validation failed")
				handler.WriteError(w, http.StatusUnauthorized, "invalid_token", "invalid or expired session")
				return
			}

			user, err := users.Get(r.Context(), rec.SystemUserID)
			if err != nil {
				logger.Warn().Err(err).Str("system_user_id", rec.SystemUserID.String()).Msg("session user not found")
				handler.WriteError(w, http.StatusUnauthorized, "invalid_token", "invalid or expired session")
				return
			}

			info := &AuthInfo{SystemUserID: user.ID, Username: user.Username, Role: user.Role}
			ctx := context.WithValue(r.Context(), AuthInfoKey, info)

			logger.Debug().
				Str("username", info.Username).
				Str("role", string(info.Role)).
				Msg("request authenticated")

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole returns middleware that rejects requests whose
// authenticated role is below min, per the operator role hierarchy
// (basic < advanced < administrator < god).
func RequireRole(min domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := GetAuthInfo(r.Context())
			if info == nil || roleRank(info.Role) < roleRank(min) {
				handler.WriteError(w, http.StatusForbidden, "forbidden", "insufficient role for this operation")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func roleRank(r domain.Role) int {
	switch r {
	case domain.RoleGod:
		return 3
	case domain.RoleAdministrator:
		return 2
	case domain.RoleAdvanced:
		return 1
	default:
		return 0
	}
}

// GetAuthInfo extracts auth info from context.
func GetAuthInfo(ctx context.Context) *AuthInfo {
	if info, ok := ctx.Value(AuthInfoKey).(*AuthInfo); ok {
		return info
	}
	return nil
}
