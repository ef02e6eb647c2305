// Package server wires the HTTP side of the tracker: the persistence/query
// service, the push service and the public share page.
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Server → Server.New creates:
//	  sqlite.DB ──publishes──▶ realtime.Hub
//	  auth.TokenService, auth.GitHubProvider
//	  service.AuthService
//	  handlers (API, feed, public, auth) → chi router
//
// This is the composition root: every dependency is built here and handed
// down, nothing below reaches for globals.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/progress-tracker/internal/auth"
	"github.com/sakif/progress-tracker/internal/config"
	"github.com/sakif/progress-tracker/internal/handler"
	"github.com/sakif/progress-tracker/internal/middleware"
	"github.com/sakif/progress-tracker/internal/realtime"
	sqliteRepo "github.com/sakif/progress-tracker/internal/repository/sqlite"
	"github.com/sakif/progress-tracker/internal/service"
)

// Deps are the collaborators the router is built from.
type Deps struct {
	DB  *sqliteRepo.DB
	Hub *realtime.Hub
	// Tokens nil disables authentication: owner-scoped routes answer 401.
	Tokens *auth.TokenService
	// Provider nil leaves the OAuth routes unregistered.
	Provider handler.IdentityProvider
	// Heartbeat is the feed keep-alive interval; zero selects the default.
	Heartbeat time.Duration
}

// NewRouter builds the full route table.
//
// ROUTES:
//
//	GET  /p/{slug}                 public share page (HTML)
//	GET  /auth/github/login        start OAuth
//	GET  /auth/github/callback     finish OAuth
//	POST /auth/logout              clear the token cookie
//	GET  /api/public/{slug}        public share view (JSON)
//	GET  /api/me                   signed-in owner          (auth)
//	GET  /api/token                fresh bearer token       (auth)
//	GET  /api/feed/{collection}    change feed, SSE         (auth)
//	...  /api/...                  see handler.APIHandler   (auth)
//
// MIDDLEWARE ORDER MATTERS: RequestID runs first so the logger can attach
// the id; Recoverer sits innermost so a panic still gets logged as a 500.
func NewRouter(d Deps, logger *slog.Logger) (*chi.Mux, error) {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimiddleware.Recoverer)

	public, err := handler.NewPublicHandler(d.DB, logger)
	if err != nil {
		return nil, fmt.Errorf("creating public handler: %w", err)
	}
	api := handler.NewAPIHandler(d.DB, logger)
	feed := handler.NewFeedHandler(d.Hub, d.Heartbeat, logger)

	requireAuth := denyAll
	var authHandler *handler.AuthHandler
	if d.Tokens != nil {
		requireAuth = auth.RequireAuth(d.Tokens)
		svc := service.NewAuthService(d.DB, d.Tokens, logger)
		authHandler = handler.NewAuthHandler(d.Provider, svc, d.Tokens.TTL(), logger)
	}

	r.Get("/p/{slug}", public.HandlePublicPage)

	if authHandler != nil {
		if d.Provider != nil {
			r.Get("/auth/github/login", authHandler.HandleGitHubLogin)
			r.Get("/auth/github/callback", authHandler.HandleGitHubCallback)
		}
		r.Post("/auth/logout", authHandler.HandleLogout)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/public/{slug}", public.HandlePublicJSON)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			if authHandler != nil {
				r.Get("/me", authHandler.HandleMe)
				r.Get("/token", authHandler.HandleToken)
			}
			r.Get("/feed/{collection}", feed.HandleFeed)
			api.Routes(r)
		})
	})

	return r, nil
}

// denyAll stands in for RequireAuth when no JWT secret is configured.
func denyAll(http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"unauthenticated","message":"authentication is not configured"}`)) //nolint:errcheck
	})
}

// Server is the HTTP server and the resources it owns.
type Server struct {
	router *chi.Mux
	config config.Server
	logger *slog.Logger
	db     *sqliteRepo.DB // owned by the server, closed on shutdown
}

// New opens the database, connects it to a fresh push hub and builds the
// router.
func New(cfg config.Server, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	hub := realtime.NewHub(logger, cfg.PushBuffer)
	db.SetPublisher(hub)

	d := Deps{DB: db, Hub: hub}
	if cfg.JWTSecret != "" {
		tokens, err := auth.NewTokenService(cfg.JWTSecret)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("creating token service: %w", err)
		}
		d.Tokens = tokens
		if cfg.GitHubClientID != "" {
			d.Provider = auth.NewGitHubProvider(cfg.GitHubClientID, cfg.GitHubClientSecret, cfg.CallbackURL())
		}
	}

	router, err := NewRouter(d, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return &Server{router: router, config: cfg, logger: logger, db: db}, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until SIGINT/SIGTERM, then shuts down gracefully:
//  1. stop accepting connections
//  2. give in-flight requests 30 seconds
//  3. close the database (flushes the WAL, releases the file lock)
func (s *Server) Start() error {
	defer s.db.Close()

	// Shutdown waits for connections to go idle, which a feed stream never
	// does. Cancelling the base context on shutdown ends every stream.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", s.config.Port),
		Handler:     s.router,
		BaseContext: func(net.Listener) context.Context { return baseCtx },
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: it would cut feed streams.
		IdleTimeout: 60 * time.Second,
	}
	srv.RegisterOnShutdown(cancelBase)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("database", s.config.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
