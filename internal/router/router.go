// Package router sets up the HTTP router and middleware chain.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/telemetryhub/ingestd/internal/config"
	"github.com/telemetryhub/ingestd/internal/domain"
	"github.com/telemetryhub/ingestd/internal/handler"
	"github.com/telemetryhub/ingestd/internal/identity"
	"github.com/telemetryhub/ingestd/internal/middleware"
)

// Dependencies holds all dependencies needed by the router.
type Dependencies struct {
	Config              *config.Config
	Logger              zerolog.Logger
	RateLimiter         middleware.RateLimiter
	HealthHandler       *handler.HealthHandler
	IngestHandler       *handler.IngestHandler
	QueryHandler        *handler.QueryHandler
	LifecycleHandler    *handler.LifecycleHandler
	IdentityHandler     *handler.IdentityHandler
	ExportImportHandler *handler.ExportImportHandler
	Tokens              *identity.RememberTokenService
	Users               *identity.SystemUserService
}

// New creates a new router with all middleware and routes configured.
func New(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Server-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Recoverer(deps.Logger))
	r.Use(middleware.Logger(deps.Logger))
	r.Use(chimiddleware.Timeout(deps.Config.Server.WriteTimeout))

	r.Get("/healthz", deps.HealthHandler.Health)
	r.Get("/readyz", deps.HealthHandler.Ready)

	auth := middleware.Auth(deps.Tokens, deps.Users, deps.Logger)
	requireAdmin := middleware.RequireRole(domain.RoleAdministrator)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/login", deps.IdentityHandler.Login)
		r.Post("/logout", deps.IdentityHandler.Logout)

		// Ingest: burst-limited per server id, unauthenticated (clients
		// authenticate by possession of a server id, not an operator
		// session).
		r.Route("/events", func(r chi.Router) {
			r.With(middleware.RateLimit(deps.RateLimiter, deps.Config.RateLimit.DefaultRPM, deps.Logger)).
				Post("/", deps.IngestHandler.Create)
			r.Get("/", deps.QueryHandler.ListEvents)

			r.Group(func(r chi.Router) {
				r.Use(auth)
				r.Delete("/", deps.LifecycleHandler.DeleteAllEvents)
				r.Delete("/{id}", deps.LifecycleHandler.DeleteEvent)
				r.Post("/{id}/restore", deps.LifecycleHandler.RestoreEvent)
				r.Delete("/{id}/permanent", deps.LifecycleHandler.PermanentlyDeleteEvent)
			})
		})

		r.Get("/sessions", deps.QueryHandler.ListSessions)
		r.With(auth).Delete("/sessions/{id}", deps.LifecycleHandler.DeleteSession)

		r.Route("/stats", func(r chi.Router) {
			r.Get("/daily", deps.QueryHandler.DailyStats)
			r.Get("/by-event-type", deps.QueryHandler.DailyStatsByEventType)
			r.Get("/top-users", deps.QueryHandler.TopUsers)
			r.Get("/top-teams", deps.QueryHandler.TopTeams)
			r.Get("/tools", deps.QueryHandler.ToolUsage)
		})

		r.Get("/db/size", deps.QueryHandler.DatabaseSize)

		r.Group(func(r chi.Router) {
			r.Use(auth)

			r.Route("/trash", func(r chi.Router) {
				r.Get("/", deps.LifecycleHandler.ListTrash)
				r.Post("/empty", deps.LifecycleHandler.EmptyTrash)
			})

			r.Route("/people", func(r chi.Router) {
				r.Get("/", deps.IdentityHandler.ListPeople)
				r.Post("/", deps.IdentityHandler.CreatePerson)
				r.Get("/{id}", deps.IdentityHandler.GetPerson)
				r.Put("/{id}", deps.IdentityHandler.UpdatePerson)
				r.Delete("/{id}", deps.IdentityHandler.DeletePerson)
			})

			r.Route("/teams", func(r chi.Router) {
				r.Get("/", deps.IdentityHandler.ListTeams)
				r.Post("/", deps.IdentityHandler.CreateTeam)
				r.Get("/{id}", deps.IdentityHandler.GetTeam)
				r.Put("/{id}", deps.IdentityHandler.RenameTeam)
				r.Put("/{id}/logo", deps.IdentityHandler.SetTeamLogo)
				r.Delete("/{id}", deps.IdentityHandler.DeleteTeam)
			})

			r.Route("/orgs", func(r chi.Router) {
				r.Get("/", deps.IdentityHandler.ListOrgs)
				r.Get("/{serverId}", deps.IdentityHandler.GetOrg)
				r.Post("/{serverId}/team", deps.IdentityHandler.MoveOrgToTeam)
				r.Post("/{serverId}/recalculate-team", deps.IdentityHandler.RecalculateOrgTeamIDs)
			})

			r.With(requireAdmin).Get("/export", deps.ExportImportHandler.Export)
			r.With(requireAdmin).Post("/import", deps.ExportImportHandler.Import)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handler.WriteError(w, http.StatusNotFound, "not_found", "the requested resource was not found")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		handler.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "the requested method is not allowed")
	})

	return r
}
