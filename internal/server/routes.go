package server

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// publicExceptions are paths that never require authentication. Everything
// else under /api carries a bearer token. This list is the single source of
// truth for auth gating decisions.
var publicExceptions = []string{
	"/api/healthz",
	"/api/auth/register",
	"/api/auth/login",
	"/api/files/download", // token in the path is the credential
}

// IsAuthRequired reports whether a path requires authentication.
func IsAuthRequired(path string) bool {
	for _, exc := range publicExceptions {
		if pathMatchesPrefix(path, exc) {
			return false
		}
	}
	return true
}

// pathMatchesPrefix checks if path equals or is a subpath of prefix.
func pathMatchesPrefix(path, prefix string) bool {
	if path == prefix {
		return true
	}
	if len(path) > len(prefix) && path[:len(prefix)] == prefix {
		if path[len(prefix)] == '/' {
			return true
		}
	}
	return false
}

// setupRoutes creates the chi router with the full middleware stack.
func (s *Server) setupRoutes() chi.Router {
	r := chi.NewRouter()

	// Order matters: RequestID first so the access log can include it,
	// Recoverer writes through the logging wrapper so panics get a status.
	r.Use(middleware.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Browser frontends live on other origins; the bearer token travels in a
	// header, not a cookie, so a permissive policy is safe here.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Credential endpoints get tighter limits than the rest.
	r.Use(s.rateLimitMiddleware(map[string]RateLimitConfig{
		"/api/auth/login":    {RequestsPerMinute: 5, Burst: 2},
		"/api/auth/register": {RequestsPerMinute: 5, Burst: 2},
	}))

	r.Use(s.authMiddleware)

	h := s.handlers

	r.Route("/api", func(r chi.Router) {
		r.Get("/healthz", h.HandleHealthz)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", h.HandleRegister)
			r.Post("/login", h.HandleLogin)
			r.Get("/me", h.HandleMe)
		})

		r.Route("/files", func(r chi.Router) {
			r.Post("/upload", h.HandleUpload)
			r.Post("/share", h.HandleCreateShare)
			r.Get("/shares", h.HandleListShares)
			r.Get("/shares/{id}/access-log", h.HandleShareAccessLog)
			r.Delete("/shares/{id}", h.HandleDisableShare)
			r.Get("/download/{token}", h.HandleDownload)
		})
	})

	return r
}
