package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/vegchange/internal/api/middleware"
	"github.com/kiranshivaraju/vegchange/internal/api/response"
	"github.com/kiranshivaraju/vegchange/pkg/models"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	CreateAnalysis http.HandlerFunc
	GetAnalysis    http.HandlerFunc
	CancelAnalysis http.HandlerFunc
	ListAnalyses   http.HandlerFunc

	ListPeriods http.HandlerFunc
	ListIndices http.HandlerFunc

	CreateSite http.HandlerFunc
	ListSites  http.HandlerFunc
	GetSite    http.HandlerFunc

	ExportStatus http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeAnalysis))

			r.Post("/api/v1/analysis", orNotImplemented(deps.CreateAnalysis))
			r.Get("/api/v1/analysis", orNotImplemented(deps.ListAnalyses))
			r.Get("/api/v1/analysis/{jobID}", orNotImplemented(deps.GetAnalysis))
			r.Delete("/api/v1/analysis/{jobID}", orNotImplemented(deps.CancelAnalysis))

			r.Get("/api/v1/periods", orNotImplemented(deps.ListPeriods))
			r.Get("/api/v1/indices", orNotImplemented(deps.ListIndices))

			r.Post("/api/v1/sites", orNotImplemented(deps.CreateSite))
			r.Get("/api/v1/sites", orNotImplemented(deps.ListSites))
			r.Get("/api/v1/sites/{siteID}", orNotImplemented(deps.GetSite))

			r.Get("/api/v1/exports/{taskID}", orNotImplemented(deps.ExportStatus))
		})

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeAdmin))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
