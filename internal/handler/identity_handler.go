package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/telemetryhub/ingestd/internal/identity"
)

// rememberTokenCookie carries the remember-token plaintext. It has the
// same value as middleware.RememberTokenCookie; this package cannot
// import middleware, which imports handler.
const rememberTokenCookie = "remember_token"

// IdentityHandler handles people, teams, orgs, and operator
// authentication.
type IdentityHandler struct {
	people     *identity.PeopleService
	teams      *identity.TeamService
	orgs       *identity.OrgService
	users      *identity.SystemUserService
	tokens     *identity.RememberTokenService
	loginAudit *identity.LoginAuditLogger
}

// NewIdentityHandler creates an IdentityHandler.
func NewIdentityHandler(
	people *identity.PeopleService,
	teams *identity.TeamService,
	orgs *identity.OrgService,
	users *identity.SystemUserService,
	tokens *identity.RememberTokenService,
	loginAudit *identity.LoginAuditLogger,
) *IdentityHandler {
	return &IdentityHandler{
		people:     people,
		teams:      teams,
		orgs:       orgs,
		users:      users,
		tokens:     tokens,
		loginAudit: loginAudit,
	}
}

// --- People ---

type personRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Initials string `json:"initials"`
}

func (h *IdentityHandler) ListPeople(w http.ResponseWriter, r *http.Request) {
	people, err := h.people.List(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	WriteSuccess(w, people)
}

func (h *IdentityHandler) CreatePerson(w http.ResponseWriter, r *http.Request) {
	var req personRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.people.Create(r.Context(), req.Name, req.Email, req.Initials)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "create_failed", err.Error())
		return
	}
	WriteSuccessStatus(w, http.StatusCreated, p)
}

func (h *IdentityHandler) GetPerson(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	p, err := h.people.Get(r.Context(), id)
	if err != nil {
		writeIdentityError(w, err)
		return
	}
	WriteSuccess(w, p)
}

func (h *IdentityHandler) UpdatePerson(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req personRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.people.Update(r.Context(), id, req.Name, req.Email, req.Initials); err != nil {
		writeIdentityError(w, err)
		return
	}
	WriteSuccess(w, map[string]bool{"updated": true})
}

func (h *IdentityHandler) DeletePerson(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.people.Delete(r.Context(), id); err != nil {
		writeIdentityError(w, err)
		return
	}
	WriteSuccess(w, map[string]bool{"deleted": true})
}

// --- Teams ---

type teamRequest struct {
	Name  string  `json:"name"`
	Color *string `json:"color"`
}

func (h *IdentityHandler) ListTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := h.teams.List(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	WriteSuccess(w, teams)
}

func (h *IdentityHandler) CreateTeam(w http.ResponseWriter, r *http.Request) {
	var req teamRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	t, err := h.teams.Create(r.Context(), req.Name, req.Color)
	if err != nil {
		writeIdentityError(w, err)
		return
	}
	WriteSuccessStatus(w, http.StatusCreated, t)
}

func (h *IdentityHandler) GetTeam(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	t, err := h.teams.Get(r.Context(), id)
	if err != nil {
		writeIdentityError(w, err)
		return
	}
	WriteSuccess(w, t)
}

func (h *IdentityHandler) RenameTeam(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req teamRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.teams.Rename(r.Context(), id, req.Name, req.Color); err != nil {
		writeIdentityError(w, err)
		return
	}
	WriteSuccess(w, map[string]bool{"updated": true})
}

func (h *IdentityHandler) SetTeamLogo(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, 2<<20))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_body", "could not read logo data")
		return
	}
	mime := r.Header.Get("Content-Type")
	if mime == "" {
		mime = "application/octet-stream"
	}
	if err := h.teams.SetLogo(r.Context(), id, data, mime); err != nil {
		writeIdentityError(w, err)
		return
	}
	WriteSuccess(w, map[string]bool{"updated": true})
}

func (h *IdentityHandler) DeleteTeam(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.teams.Delete(r.Context(), id); err != nil {
		writeIdentityError(w, err)
		return
	}
	WriteSuccess(w, map[string]bool{"deleted": true})
}

// --- Orgs ---

func (h *IdentityHandler) ListOrgs(w http.ResponseWriter, r *http.Request) {
	orgs, err := h.orgs.List(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	WriteSuccess(w, orgs)
}

func (h *IdentityHandler) GetOrg(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "serverId")
	o, err := h.orgs.Get(r.Context(), serverID)
	if err != nil {
		writeIdentityError(w, err)
		return
	}
	WriteSuccess(w, o)
}

type moveOrgRequest struct {
	TeamID uuid.UUID `json:"team_id"`
}

func (h *IdentityHandler) MoveOrgToTeam(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "serverId")
	var req moveOrgRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.orgs.MoveOrgToTeam(r.Context(), serverID, req.TeamID); err != nil {
		writeIdentityError(w, err)
		return
	}
	WriteSuccess(w, map[string]bool{"updated": true})
}

func (h *IdentityHandler) RecalculateOrgTeamIDs(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "serverId")
	n, err := h.orgs.RecalculateTeamIdsForOrg(r.Context(), serverID)
	if err != nil {
		writeIdentityError(w, err)
		return
	}
	WriteSuccess(w, rowsAffectedResponse{RowsAffected: n})
}

// --- Operator login ---

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login handles POST /v1/login: authenticates an operator and issues
// a remember-token cookie.
func (h *IdentityHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.users.Authenticate(r.Context(), req.Username, req.Password)
	success := err == nil
	_ = h.loginAudit.Record(r.Context(), req.Username, success, clientIP(r), r.UserAgent())

	if !success {
		WriteError(w, http.StatusUnauthorized, "invalid_credentials", "invalid username or password")
		return
	}

	plaintext, rec, err := h.tokens.Issue(r.Context(), user.ID, r.UserAgent(), clientIP(r))
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "login_failed", err.Error())
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     rememberTokenCookie,
		Value:    plaintext,
		Expires:  rec.ExpiresAt,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
	})
	WriteSuccess(w, map[string]any{"username": user.Username, "role": user.Role})
}

// Logout handles POST /v1/logout: revokes the current remember-token.
func (h *IdentityHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(rememberTokenCookie)
	if err == nil && cookie.Value != "" {
		_ = h.tokens.Revoke(r.Context(), cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     rememberTokenCookie,
		Value:    "",
		MaxAge:   -1,
		HttpOnly: true,
		Path:     "/",
	})
	WriteSuccess(w, map[string]bool{"loggedOut": true})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_body", "could not decode JSON request body")
		return false
	}
	return true
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_id", name+" must be a UUID")
		return uuid.UUID{}, false
	}
	return id, true
}

func writeIdentityError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, identity.ErrNotFound):
		WriteError(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, identity.ErrConflict):
		WriteError(w, http.StatusConflict, "conflict", "resource already exists")
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
