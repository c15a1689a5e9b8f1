// Package server provides HTTP server wiring and lifecycle management.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/linkvault/linkvault/internal/api"
	"github.com/linkvault/linkvault/internal/config"
	"github.com/linkvault/linkvault/internal/identity"
	tlspkg "github.com/linkvault/linkvault/internal/platform/http/tls"
	"github.com/linkvault/linkvault/internal/platform/logutil"
	"github.com/linkvault/linkvault/internal/store"
)

var ErrMissingDep = errors.New("missing required dependency")

// Deps holds all server dependencies.
type Deps struct {
	Users  store.UserStore
	Auth   *identity.UserAuth
	Tokens *identity.TokenIssuer
	Shares api.ShareService
	Blobs  api.BlobClient
}

// Server wraps the HTTP server and its dependencies.
type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	deps       *Deps
	handlers   *api.Handlers
	httpServer *http.Server
}

// New creates a Server with the given configuration.
// Returns an error if required dependencies are missing.
func New(cfg *config.Config, logger *slog.Logger, deps *Deps) (*Server, error) {
	if err := validateDeps(deps); err != nil {
		return nil, err
	}
	logger = logutil.NoopIfNil(logger)

	s := &Server{
		cfg:    cfg,
		logger: logger,
		deps:   deps,
		handlers: &api.Handlers{
			Users:  deps.Users,
			Auth:   deps.Auth,
			Tokens: deps.Tokens,
			Shares: deps.Shares,
			Blobs:  deps.Blobs,
			Cfg:    cfg,
			Logger: logger,
		},
	}

	router := s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Start starts the HTTP server. It blocks until the server is shut down.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting server",
		"addr", s.cfg.ListenAddr,
		"public_origin", s.cfg.PublicOrigin,
		"tls_mode", s.cfg.TLS.Mode,
	)

	switch s.cfg.TLS.Mode {
	case "off":
		return s.httpServer.ListenAndServe()

	case "static", "selfsigned":
		manager := tlspkg.NewManager(&s.cfg.TLS, s.logger)
		tlsConfig, err := manager.ServerConfig(s.hostname())
		if err != nil {
			return fmt.Errorf("failed to configure TLS: %w", err)
		}
		s.httpServer.TLSConfig = tlsConfig
		s.logger.Info("starting server with TLS", "mode", s.cfg.TLS.Mode)

		// Certificates live in TLSConfig; file args stay empty.
		return s.httpServer.ListenAndServeTLS("", "")

	case "acme":
		return s.startACME(ctx)

	default:
		return fmt.Errorf("%w: %s", tlspkg.ErrInvalidMode, s.cfg.TLS.Mode)
	}
}

// startACME obtains a certificate via lego and serves HTTPS, with a plain
// HTTP listener answering ACME HTTP-01 challenges and redirecting the rest.
func (s *Server) startACME(ctx context.Context) error {
	manager := tlspkg.NewACMEManager(&s.cfg.TLS.ACME, s.logger)

	challengeMux := http.NewServeMux()
	challengeMux.Handle("/.well-known/acme-challenge/", manager.ChallengeHandler())
	challengeMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		target := "https://" + s.cfg.TLS.ACME.Domain + r.URL.RequestURI()
		http.Redirect(w, r, target, http.StatusMovedPermanently)
	})

	httpListener := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.TLS.HTTPPort),
		Handler:      challengeMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// The challenge listener must be up before Init talks to the ACME server.
	go func() {
		if err := httpListener.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("ACME challenge listener failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpListener.Shutdown(shutdownCtx)
	}()

	if err := manager.Init(ctx); err != nil {
		return fmt.Errorf("ACME initialization failed: %w", err)
	}

	s.httpServer.TLSConfig = manager.ServerConfig()
	s.logger.Info("starting server with ACME TLS", "domain", s.cfg.TLS.ACME.Domain)

	return s.httpServer.ListenAndServeTLS("", "")
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.httpServer.Shutdown(ctx)
}

// hostname extracts the host (without port) from the public origin.
func (s *Server) hostname() string {
	u, err := url.Parse(s.cfg.PublicOrigin)
	if err != nil || u.Hostname() == "" {
		return "localhost"
	}
	return u.Hostname()
}

// validateDeps checks that all required dependencies are provided.
func validateDeps(deps *Deps) error {
	if deps == nil {
		return errors.New("deps is nil")
	}
	if deps.Users == nil {
		return fmt.Errorf("%w: Users", ErrMissingDep)
	}
	if deps.Auth == nil {
		return fmt.Errorf("%w: Auth", ErrMissingDep)
	}
	if deps.Tokens == nil {
		return fmt.Errorf("%w: Tokens", ErrMissingDep)
	}
	if deps.Shares == nil {
		return fmt.Errorf("%w: Shares", ErrMissingDep)
	}
	if deps.Blobs == nil {
		return fmt.Errorf("%w: Blobs", ErrMissingDep)
	}
	return nil
}
