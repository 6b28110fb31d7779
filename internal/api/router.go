// Package api provides the HTTP API of the export service.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/airdash/airdash/internal/api/handler"
	"github.com/airdash/airdash/internal/api/middleware"
	"github.com/airdash/airdash/internal/api/models"
	"github.com/airdash/airdash/internal/api/response"
	"github.com/airdash/airdash/internal/catalog"
	"github.com/airdash/airdash/internal/provider/resilience"
	"github.com/airdash/airdash/internal/session"
)

// DefaultAnonymousUser owns every session when authentication is disabled.
const DefaultAnonymousUser = "anonymous"

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics

	Sessions *session.Store
	Catalog  catalog.Lister
	Registry *resilience.Registry

	// Tokens validates bearer tokens. Nil disables authentication and
	// attributes every request to AnonymousUser.
	Tokens        middleware.TokenValidator
	AnonymousUser string

	RequireTLS      bool
	ReadinessChecks []handler.ReadinessCheck
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "airdash-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(serviceName))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))
	r.Use(middleware.RequireJSON)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, r, "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		p := models.NewProblem(models.ProblemTypeNotFound, "Method not allowed", http.StatusMethodNotAllowed, middleware.GetRequestID(r.Context()))
		p.Detail = r.Method + " is not supported on " + r.URL.Path
		response.Error(w, r, p)
	})

	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.Registry, cfg.ReadinessChecks...)
	sessionHandler := handler.NewSessionHandler(cfg.Sessions, cfg.Logger)
	exportHandler := handler.NewExportHandler(cfg.Sessions, cfg.Logger)
	catalogHandler := handler.NewCatalogHandler(cfg.Catalog, cfg.Logger)

	authMiddleware := middleware.Auth(cfg.Tokens)
	if cfg.Tokens == nil {
		user := cfg.AnonymousUser
		if user == "" {
			user = DefaultAnonymousUser
		}
		authMiddleware = middleware.Anonymous(user)
	}

	standardRateLimit := middleware.RateLimitByUser(middleware.StandardRateLimit) // 100 req/min per user
	exportRateLimit := middleware.RateLimitByUser(middleware.ExportRateLimit)     // 30 req/min per user

	r.Route("/v1", func(r chi.Router) {
		// Ops endpoints (public)
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.With(authMiddleware).Get("/providers", opsHandler.Providers)
		})

		r.Route("/catalog", func(r chi.Router) {
			r.Use(authMiddleware)
			r.Use(standardRateLimit)
			r.Get("/columns", catalogHandler.Columns)
			r.Get("/{kind}", catalogHandler.List)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Use(authMiddleware)
			r.Use(standardRateLimit)
			r.Post("/", sessionHandler.CreateSession)

			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", sessionHandler.GetSession)
				r.Delete("/", sessionHandler.DeleteSession)

				r.Put("/filter-type", sessionHandler.SetFilterType)
				r.Post("/selection:toggle", sessionHandler.ToggleSelection)
				r.Delete("/selection", sessionHandler.ClearSelection)
				r.Patch("/configuration", sessionHandler.PatchConfiguration)

				r.Group(func(r chi.Router) {
					r.Use(exportRateLimit)
					r.Post("/preview", exportHandler.Preview)
					r.Post("/download", exportHandler.Download)
					r.Post("/download:retry", exportHandler.RetryDownload)
				})
				r.Delete("/jobs/{slot}", exportHandler.CancelJob)
			})
		})
	})

	return r
}
