// Package server is the composition root: it opens the store, builds the
// services and handlers, mounts the routes and runs the HTTP server.
//
// DEPENDENCY FLOW:
//
//	config.Config → store (mongo | sqlite | memory) + asset gateway + token service
//	             → AuthService / ReportService
//	             → AuthHandler / ReportHandler / HealthHandler
//	             → chi router
//
// Every layer receives only what it needs; handlers never see a store and
// services never see HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/sakif/civic-reports/internal/asset"
	"github.com/sakif/civic-reports/internal/asset/cloudinary"
	"github.com/sakif/civic-reports/internal/auth"
	"github.com/sakif/civic-reports/internal/config"
	"github.com/sakif/civic-reports/internal/handler"
	"github.com/sakif/civic-reports/internal/middleware"
	"github.com/sakif/civic-reports/internal/model"
	"github.com/sakif/civic-reports/internal/repository"
	"github.com/sakif/civic-reports/internal/repository/memory"
	"github.com/sakif/civic-reports/internal/repository/mongodb"
	sqliteRepo "github.com/sakif/civic-reports/internal/repository/sqlite"
	"github.com/sakif/civic-reports/internal/service"
)

const shutdownTimeout = 30 * time.Second

// Store is the lifecycle half of a backend; the repositories are the rest.
type Store interface {
	Ping(ctx context.Context) error
	Close() error
}

// Deps are the collaborators New would otherwise build from Config. Tests
// pass an in-memory store and a fake asset gateway.
type Deps struct {
	Users     repository.UserRepository
	Reports   repository.ReportRepository
	Store     Store
	Assets    asset.Gateway
	Passwords *auth.PasswordService
	GitHub    *auth.GitHubProvider // nil disables GitHub sign-in
}

// Server owns the router and the store. The store is closed when Start
// returns.
type Server struct {
	router *chi.Mux
	config config.Config
	logger *slog.Logger
	store  Store
	auth   *service.AuthService
}

// New connects to the configured backends and wires the application.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	deps, err := OpenDeps(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	s, err := NewWithDeps(cfg, deps, logger)
	if err != nil {
		deps.Store.Close()
		return nil, err
	}
	return s, nil
}

// OpenDeps opens the store selected by STORE_DRIVER and builds the asset
// gateway and the optional GitHub provider.
func OpenDeps(ctx context.Context, cfg config.Config, logger *slog.Logger) (Deps, error) {
	deps := Deps{Passwords: auth.NewPasswordService()}

	switch cfg.StoreDriver {
	case config.DriverMongo:
		st, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDB, logger)
		if err != nil {
			return Deps{}, fmt.Errorf("opening mongo store: %w", err)
		}
		deps.Users, deps.Reports, deps.Store = st.Users(), st.Reports(), st

	case config.DriverSQLite:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return Deps{}, fmt.Errorf("creating database directory %s: %w", dir, err)
			}
		}
		st, err := sqliteRepo.New(cfg.SQLitePath, logger)
		if err != nil {
			return Deps{}, fmt.Errorf("opening sqlite store: %w", err)
		}
		deps.Users, deps.Reports, deps.Store = st.Users(), st.Reports(), st

	case config.DriverMemory:
		logger.Warn("using the in-memory store; data is lost on restart")
		st := memory.New()
		deps.Users, deps.Reports, deps.Store = st.Users(), st.Reports(), st

	default:
		return Deps{}, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	if cfg.CloudinaryEnabled() {
		gw, err := cloudinary.New(cloudinary.Config{
			URL:        cfg.CloudinaryURL,
			CloudName:  cfg.CloudinaryCloudName,
			APIKey:     cfg.CloudinaryAPIKey,
			APISecret:  cfg.CloudinaryAPISecret,
			RootFolder: cfg.AssetFolder,
		}, logger)
		if err != nil {
			deps.Store.Close()
			return Deps{}, err
		}
		deps.Assets = gw
	} else {
		logger.Warn("Cloudinary is not configured; image uploads will fail")
		deps.Assets = asset.Unconfigured{}
	}

	if cfg.GitHubEnabled() {
		deps.GitHub = auth.NewGitHubProvider(cfg.GitHubID, cfg.GitHubSecret, cfg.GitHubCBURL)
	}
	return deps, nil
}

// NewWithDeps wires services, handlers and routes around already-open
// dependencies.
func NewWithDeps(cfg config.Config, deps Deps, logger *slog.Logger) (*Server, error) {
	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.JWTTTL)
	if err != nil {
		return nil, fmt.Errorf("creating token service: %w", err)
	}

	validate := service.NewValidator()
	authSvc := service.NewAuthService(deps.Users, tokens, deps.Passwords, deps.Assets, validate, logger)
	reportSvc := service.NewReportService(deps.Reports, deps.Users, deps.Assets, validate, logger)

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		store:  deps.Store,
		auth:   authSvc,
	}
	s.setupRoutes(
		handler.NewAuthHandler(authSvc, deps.GitHub, cfg.MaxUploadBytes(), logger),
		handler.NewReportHandler(reportSvc, cfg.MaxUploadBytes(), logger),
		handler.NewHealthHandler(deps.Store, cfg.StoreDriver, logger),
		deps.GitHub != nil,
	)
	return s, nil
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler { return s.router }

// setupRoutes mounts every endpoint.
//
// ROUTES:
//
//	GET    /health
//	POST   /auth/register
//	POST   /auth/login
//	GET    /auth/me                       auth
//	GET    /auth/github/login             (only when GitHub is configured)
//	GET    /auth/github/callback
//	GET    /reports                       auth
//	POST   /reports                       auth
//	GET    /reports/my-reports            auth
//	GET    /reports/nearby                auth
//	GET    /reports/stats                 admin
//	PATCH  /reports/bulk                  admin
//	GET    /reports/{id}                  auth
//	PUT    /reports/{id}                  admin
//	DELETE /reports/{id}                  owner or admin
//	PUT    /reports/{id}/upvote           auth
//	PUT    /reports/{id}/assign           admin
//	PUT    /reports/{id}/image            owner
//	DELETE /reports/{id}/image            owner or admin
//
// chi matches static segments before {id}, so /reports/stats never reaches
// the single-report handler.
func (s *Server) setupRoutes(authH *handler.AuthHandler, reportH *handler.ReportHandler, healthH *handler.HealthHandler, github bool) {
	r := s.router

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: s.config.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         600,
	}).Handler)

	requireAuth := auth.RequireAuth(s.auth, s.logger)
	adminOnly := auth.RequireRole(model.RoleAdmin)

	r.Get("/health", healthH.HandleHealth)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", authH.HandleRegister)
		r.Post("/login", authH.HandleLogin)
		r.With(requireAuth).Get("/me", authH.HandleMe)
		if github {
			r.Get("/github/login", authH.HandleGitHubLogin)
			r.Get("/github/callback", authH.HandleGitHubCallback)
		}
	})

	r.Route("/reports", func(r chi.Router) {
		r.Use(requireAuth)

		r.Get("/", reportH.HandleList)
		r.Post("/", reportH.HandleCreate)
		r.Get("/my-reports", reportH.HandleMine)
		r.Get("/nearby", reportH.HandleNearby)
		r.With(adminOnly).Get("/stats", reportH.HandleStats)
		r.With(adminOnly).Patch("/bulk", reportH.HandleBulkUpdate)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", reportH.HandleGet)
			r.With(adminOnly).Put("/", reportH.HandleUpdateStatus)
			r.Delete("/", reportH.HandleDelete)
			r.Put("/upvote", reportH.HandleUpvote)
			r.With(adminOnly).Put("/assign", reportH.HandleAssign)
			r.Put("/image", reportH.HandleReplaceImage)
			r.Delete("/image", reportH.HandleDeleteImage)
		})
	})
}

// Start serves until SIGINT/SIGTERM, then drains in-flight requests for up
// to 30 seconds and closes the store.
func (s *Server) Start() error {
	defer func() {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("closing store", slog.String("error", err.Error()))
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("store", s.config.StoreDriver),
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

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}
	return nil
}
