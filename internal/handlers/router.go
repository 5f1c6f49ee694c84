package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/gallery/server/internal/middleware"
	"github.com/gallery/server/internal/observability"
)

// RouterConfig carries the handlers and auth settings the router mounts
type RouterConfig struct {
	ServiceName string
	HTTPMetrics *observability.HTTPMetrics

	Auth         middleware.Authenticator
	APIKeyHeader string
	CookieName   string

	Categories *CategoryHandler
	Photos     *PhotoHandler
	Health     *HealthHandler
	Sessions   *AuthHandler
	WebSocket  *WebSocketHandler
	Admin      *AdminHandler

	// MediaRoot is served under /media when objects are stored locally
	MediaRoot string
}

// NewRouter builds the HTTP routes. Reads are public; writes need a session
// cookie or the API key.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	if cfg.ServiceName != "" {
		r.Use(observability.TracingMiddleware(cfg.ServiceName))
	}
	if cfg.HTTPMetrics != nil {
		r.Use(observability.MetricsMiddleware(cfg.HTTPMetrics))
	}

	requireAuth := middleware.RequireAuth(cfg.Auth, cfg.APIKeyHeader, cfg.CookieName)

	r.Get("/health", cfg.Health.HealthCheck)
	r.Get("/api/health", cfg.Health.HealthCheck)
	r.Get("/api/version", VersionHandler)

	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", cfg.Sessions.Login)
		r.Get("/callback", cfg.Sessions.Callback)
		r.Post("/logout", cfg.Sessions.Logout)
	})
	r.With(requireAuth).Get("/api/me", cfg.Sessions.Me)

	r.Route("/api/categories", func(r chi.Router) {
		r.Get("/", cfg.Categories.List)
		r.Get("/{id}", cfg.Categories.Get)
		r.Get("/{id}/photos", cfg.Categories.ListMemberships)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Post("/", cfg.Categories.Create)
			r.Put("/{id}", cfg.Categories.Update)
			r.Delete("/{id}", cfg.Categories.Delete)
			r.Post("/{id}/photos", cfg.Categories.AddMembership)
			r.Put("/{id}/photos/{photoId}", cfg.Categories.MoveMembership)
			r.Delete("/{id}/photos/{photoId}", cfg.Categories.RemoveMembership)
		})
	})

	r.Route("/api/photos", func(r chi.Router) {
		r.Get("/", cfg.Photos.List)
		r.Get("/{id}", cfg.Photos.Get)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Post("/", cfg.Photos.Create)
			r.Post("/upload", cfg.Photos.Upload)
			r.Put("/{id}", cfg.Photos.Update)
			r.Delete("/{id}", cfg.Photos.Delete)
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(requireAuth)
		r.Get("/status", cfg.Admin.GetStatus)
		r.Post("/maintenance", cfg.Admin.RunMaintenance)
	})

	r.With(middleware.OptionalSession(cfg.Auth, cfg.CookieName)).Get("/ws", cfg.WebSocket.HandleConnection)

	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	if cfg.MediaRoot != "" {
		r.Handle("/media/*", http.StripPrefix("/media/", http.FileServer(http.Dir(cfg.MediaRoot))))
	}

	return r
}
