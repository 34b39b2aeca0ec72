package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/JonMunkholm/ingestd/internal/config"
	"github.com/JonMunkholm/ingestd/internal/database"
	"github.com/JonMunkholm/ingestd/internal/importer"
	"github.com/JonMunkholm/ingestd/internal/job"
	"github.com/JonMunkholm/ingestd/internal/logging"
	"github.com/JonMunkholm/ingestd/internal/web"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Management.MaxConns,
		"import_max_concurrent", cfg.Import.MaxConcurrent,
		"project_dir", cfg.Import.ProjectDir,
		"drop_dir", cfg.Import.DropDir,
	)

	// Connect the management pool
	ctx := context.Background()
	pool, err := database.NewPool(ctx, database.PoolConfig{
		DSN:             cfg.Management.URL,
		MaxConns:        cfg.Management.MaxConns,
		MinConns:        cfg.Management.MinConns,
		MaxConnLifetime: cfg.Management.MaxConnLifetime,
		AcquireTimeout:  cfg.Management.AcquireTimeout,
	})
	if err != nil {
		slog.Error("failed to create management pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		slog.Error("failed to ping management database", "error", err)
		os.Exit(1)
	}

	// Log which database we connected to
	if u, err := url.Parse(cfg.Management.URL); err == nil {
		dbName := strings.TrimPrefix(u.Path, "/")
		slog.Info("connected to management database", "name", dbName)
	} else {
		slog.Info("connected to management database")
	}

	// Create the job tables on first run
	store := job.NewStore(pool)
	if err := store.Init(ctx); err != nil {
		slog.Error("failed to initialize job store", "error", err)
		os.Exit(1)
	}

	// Load project configurations; a broken project file is logged but does
	// not take the service down.
	projects, loadErrs := config.LoadProjects(cfg.Import.ProjectDir)
	for _, loadErr := range loadErrs {
		slog.Error("skipping invalid project config", "error", loadErr)
	}
	slog.Info("projects loaded", "count", len(projects))

	// Wire the import engine, limiter, and job runner
	imp := importer.New()
	limiter := importer.NewLimiter(cfg.Import.MaxConcurrent, cfg.Import.MaxWaitTime)
	runner := job.NewRunner(imp, limiter, store, cfg.Import.ChunkSize)

	// Register scheduled imports and view refreshes
	scheduler := job.NewScheduler(runner, cfg.Import.DropDir)
	for _, proj := range projects {
		if err := scheduler.AddProject(proj); err != nil {
			slog.Error("failed to schedule project", "project", proj.Project, "error", err)
		}
		if proj.ViewRefresh == nil || proj.ViewRefresh.Schedule == "" {
			continue
		}
		dsn, err := proj.Connection.Resolve()
		if err != nil {
			slog.Error("cannot schedule view refresh, connection unresolved",
				"project", proj.Project, "error", err)
			continue
		}
		if err := scheduler.AddViewRefresh(proj.ViewRefresh.Schedule, dsn, proj.ViewRefresh.Schema); err != nil {
			slog.Error("failed to schedule view refresh", "project", proj.Project, "error", err)
		}
	}
	scheduler.Start()

	// Create server with config
	server := web.NewServer(cfg, pool, store, runner, imp, limiter, projects)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Let running scheduled jobs finish
		select {
		case <-scheduler.Stop().Done():
		case <-shutdownCtx.Done():
			slog.Warn("scheduled jobs did not complete in time")
		}

		// Wait for active imports to complete (with timeout)
		if limiter.Active() > 0 {
			slog.Info("waiting for imports to complete", "active", limiter.Active())
			if err := limiter.WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("imports did not complete in time", "error", err)
			} else {
				slog.Info("all imports completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	// Start server (uses addr from config internally)
	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil && err != http.ErrServerClosed {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
