package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"ispring-backend/internal/handlers"
	"ispring-backend/internal/logger"
	"ispring-backend/internal/metrics"
	"ispring-backend/internal/middleware"
	"ispring-backend/internal/websocket"
)

type Deps struct {
	JWTAuth        *middleware.JWTAuth
	Sessions       *handlers.SessionHandler
	Contents       *handlers.ContentHandler
	Modules        *handlers.ModuleHandler
	Hub            *websocket.Hub
	Metrics        *metrics.Metrics
	Log            *logger.Logger
	FrontendURL    string
	RateLimitPerIP int
}

// New builds the HTTP handler. ctx bounds background middleware goroutines.
func New(ctx context.Context, d Deps) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Instrument(d.Metrics, d.Log))
	r.Use(middleware.CORS(d.FrontendURL))

	limiter := middleware.NewRateLimiter(ctx, d.RateLimitPerIP, time.Minute)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", d.Metrics.Handler())

	instructor := middleware.RequireRole(middleware.RoleInstructor)

	r.Route("/api/v1", func(r chi.Router) {
		// ──── WebSocket (token in query) ────
		r.Get("/ws", d.Hub.HandleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(limiter.Middleware)
			r.Use(d.JWTAuth.Middleware)

			// ──── Module Routes ────
			r.Route("/modules", func(r chi.Router) {
				r.With(instructor).Post("/", d.Modules.Create)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/contents", d.Contents.List)
					r.Get("/requirements/me", d.Modules.RequirementsMe)
					r.Get("/sessions/me", d.Sessions.History)

					r.Group(func(r chi.Router) {
						r.Use(instructor)
						r.Put("/grade-method", d.Modules.SetGradeMethod)
						r.Post("/contents", d.Contents.AddContent)
						r.Get("/grades", d.Modules.Grades)
						r.Get("/requirements", d.Modules.Requirements)
					})
				})
			})

			// ──── Content Routes ────
			r.With(instructor).Post("/drafts", d.Contents.UploadDraft)
			r.With(instructor).Delete("/contents/{id}", d.Contents.Remove)

			// ──── Session Routes ────
			r.Route("/sessions", func(r chi.Router) {
				r.Post("/start", d.Sessions.Start)
				r.Get("/{id}", d.Sessions.Get)
				r.Post("/{id}/update", d.Sessions.Update)
				r.Post("/{id}/suspend-data", d.Sessions.SuspendData)
				r.Post("/{id}/end", d.Sessions.End)
			})
		})
	})

	return r
}
