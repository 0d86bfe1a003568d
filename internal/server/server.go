// Package server wires the application together and runs the HTTP server.
//
// COMPOSITION ROOT:
// New is the one place where concrete types meet:
//
//	config → sqlite.DB ─┬→ AuthService    → AuthHandler
//	         blob.Local ─┼→ CatalogService → MovieHandler
//	         cache.Redis ┘
//
// Every other package depends on interfaces or on the layer directly below
// it, so the wiring can change here without touching them.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/movie-catalog/internal/auth"
	"github.com/sakif/movie-catalog/internal/blob"
	"github.com/sakif/movie-catalog/internal/cache"
	"github.com/sakif/movie-catalog/internal/config"
	"github.com/sakif/movie-catalog/internal/handler"
	"github.com/sakif/movie-catalog/internal/middleware"
	sqliteRepo "github.com/sakif/movie-catalog/internal/repository/sqlite"
	"github.com/sakif/movie-catalog/internal/service"
)

// Server owns the router and every resource that must be released on
// shutdown.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger

	db      *sqliteRepo.DB
	redis   *cache.Redis // nil when no Redis address is configured
	posters *blob.Local
	tokens  *auth.TokenService
}

// New opens the database, connects the optional cache and builds the
// router. On error every resource opened so far is closed again.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	posters, err := blob.NewLocal(cfg.Media.Dir, cfg.Media.URLPrefix)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	db, err := sqliteRepo.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("server: opening database: %w", err)
	}

	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		logger:  logger,
		db:      db,
		posters: posters,
		tokens:  tokens,
	}

	// The cache only saves work; a Redis that is down at startup means
	// running without it, not refusing to start.
	if cfg.Redis.Addr != "" {
		rdb, err := cache.NewRedis(context.Background(), cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
		if err != nil {
			logger.Warn("rating cache disabled",
				slog.String("addr", cfg.Redis.Addr),
				slog.String("error", err.Error()),
			)
		} else {
			s.redis = rdb
		}
	}

	s.setupRoutes()
	return s, nil
}

// Handler exposes the router, for tests and for embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures middleware and routes.
//
// ROUTE STRUCTURE:
//
//	GET    /healthz                  → dependency health
//	GET    /metrics                  → Prometheus scrape endpoint
//	GET    /media/*                  → uploaded posters
//	POST   /auth/register|login|refresh
//	GET    /auth/me                  (RequireAuth)
//	GET    /auth/github/login|callback (when configured)
//	       /movies..., /users/{id}/ratings (OptionalAuth)
//
// MIDDLEWARE ORDER MATTERS:
//  1. RequestID: tags every request, so the log line can carry it
//  2. RealIP: only behind a trusted proxy, otherwise clients could spoof
//     their address and dodge the rate limiter
//  3. Logger: sees the final status, including the 500 from Recoverer
//  4. Recoverer: turns a panic into a 500
//  5. CORS: answers browser preflights before any handler runs
//  6. StripSlashes: "/movies/" and "/movies" route the same
func (s *Server) setupRoutes() {
	r := s.router

	r.Use(chimiddleware.RequestID)
	if s.config.Security.TrustProxyHeaders {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(middleware.Logger(s.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(s.config.Security.CORSOrigins))
	r.Use(chimiddleware.StripSlashes)

	// === Services ===
	passwords := auth.NewPasswordServiceWithCost(s.config.Auth.BcryptCost)
	authService := service.NewAuthService(s.db, s.tokens, passwords, s.logger)

	var aggregates cache.AggregateCache = cache.Noop{}
	if s.redis != nil {
		aggregates = s.redis
	}
	catalog := service.NewCatalogService(s.db, s.db, s.db, s.posters, aggregates, s.config.Media.MaxUploadBytes, s.logger)

	// === Handlers ===
	var github *auth.GitHubProvider
	if s.config.GitHub.Enabled() {
		github = auth.NewGitHubProvider(s.config.GitHub.ClientID, s.config.GitHub.ClientSecret, s.config.GitHub.CallbackURL)
	}
	authHandler := handler.NewAuthHandler(authService, github, s.logger)
	movieHandler := handler.NewMovieHandler(catalog, s.config.Media.MaxUploadBytes)
	healthHandler := handler.NewHealthHandler(s.healthChecks(), s.logger)

	// === Operational ===
	r.Get("/healthz", healthHandler.HandleHealth)
	r.Handle("/metrics", promhttp.Handler())

	prefix := "/" + strings.Trim(s.config.Media.URLPrefix, "/") + "/"
	r.Handle(prefix+"*", http.StripPrefix(prefix, noDirListing(http.FileServer(http.Dir(s.posters.Dir())))))

	// === Auth ===
	r.Route("/auth", func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(s.config.Security.AuthRateLimit, s.config.Security.AuthRateWindow, "/auth"))

		r.Post("/register", authHandler.HandleRegister)
		r.Post("/login", authHandler.HandleLogin)
		r.Post("/refresh", authHandler.HandleRefresh)
		r.With(auth.RequireAuth(s.tokens)).Get("/me", authHandler.HandleMe)

		if authHandler.GitHubEnabled() {
			r.Get("/github/login", authHandler.HandleGitHubLogin)
			r.Get("/github/callback", authHandler.HandleGitHubCallback)
		}
	})

	// === Catalog ===
	// Reads are public; the handlers turn an anonymous write into a 401.
	r.Group(func(r chi.Router) {
		r.Use(auth.OptionalAuth(s.tokens))

		r.Route("/movies", func(r chi.Router) {
			r.Get("/", movieHandler.HandleList)
			r.Post("/", movieHandler.HandleCreate)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", movieHandler.HandleGet)
				r.Put("/", movieHandler.HandleReplace)
				r.Patch("/", movieHandler.HandleUpdate)
				r.Delete("/", movieHandler.HandleDelete)
				r.Get("/ratings", movieHandler.HandleListRatings)
				r.Post("/ratings", movieHandler.HandleRate)
			})
		})

		r.Get("/users/{id}/ratings", movieHandler.HandleUserRatings)
	})
}

func (s *Server) healthChecks() map[string]handler.HealthCheck {
	checks := map[string]handler.HealthCheck{
		"database": s.db.Ping,
	}
	if s.redis != nil {
		checks["cache"] = s.redis.Ping
	}
	return checks
}

// noDirListing answers 404 for directory paths so the media root can't be
// browsed.
func noDirListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Close releases the database and cache connections.
func (s *Server) Close() error {
	var errs []error
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	errs = append(errs, s.db.Close())
	return errors.Join(errs...)
}

// Start serves until SIGINT or SIGTERM, then shuts down gracefully.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new connections
//  2. Wait up to ShutdownTimeout for in-flight requests
//  3. Close the database (flushes the WAL, releases the file lock) and
//     the cache connection
func (s *Server) Start() error {
	defer func() {
		if err := s.Close(); err != nil {
			s.logger.Error("closing resources", slog.String("error", err.Error()))
		}
	}()

	cfg := s.config.Server
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.String("addr", srv.Addr),
			slog.String("database", s.config.Database.Path),
			slog.Bool("cache", s.redis != nil),
			slog.Bool("github_login", s.config.GitHub.Enabled()),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
