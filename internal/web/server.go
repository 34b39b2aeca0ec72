// Package web provides the HTTP API for triggering imports and jobs,
// inspecting job outcomes, introspecting target tables, and refreshing
// materialized views.
package web

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/ingestd/internal/config"
	"github.com/JonMunkholm/ingestd/internal/database"
	"github.com/JonMunkholm/ingestd/internal/importer"
	"github.com/JonMunkholm/ingestd/internal/job"
	ownmw "github.com/JonMunkholm/ingestd/internal/web/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server is the HTTP server for the ingestion API.
type Server struct {
	cfg      *config.Config
	pool     *database.Pool
	store    *job.Store
	runner   *job.Runner
	importer *importer.Importer
	limiter  *importer.Limiter
	projects map[string]*config.ProjectConfig
	router   *chi.Mux
	server   *http.Server
}

// NewServer assembles the router and handlers.
func NewServer(cfg *config.Config, pool *database.Pool, store *job.Store, runner *job.Runner, imp *importer.Importer, limiter *importer.Limiter, projects []*config.ProjectConfig) *Server {
	byName := make(map[string]*config.ProjectConfig, len(projects))
	for _, p := range projects {
		byName[p.Project] = p
	}

	s := &Server{
		cfg:      cfg,
		pool:     pool,
		store:    store,
		runner:   runner,
		importer: imp,
		limiter:  limiter,
		projects: byName,
		router:   chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(ownmw.Logger)
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(ownmw.APIKeyAuth(s.cfg.Security.RequireAPIKey, s.cfg.Security.APIKeys))

		// Single-file import
		r.Post("/imports", s.handleImport)

		// Project jobs
		r.Post("/jobs/{project}", s.handleRunJob)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{jobID}", s.handleGetJob)

		// Target table introspection
		r.Get("/tables/{table}/columns", s.handleTableColumns)

		// Materialized view maintenance
		r.Post("/views/refresh", s.handleRefreshViews)
	})
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
