package job

// scheduler.go wires cron-expression schedules to project imports and
// materialized view maintenance.
//
// Each project may declare a `schedule` in its YAML file; on every tick the
// runner scans the drop directory and imports whatever matches the project's
// rules. View refresh runs against a target database on its own schedule,
// typically after the nightly import window.

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JonMunkholm/ingestd/internal/config"
	"github.com/JonMunkholm/ingestd/internal/database"
	"github.com/JonMunkholm/ingestd/internal/schema"
	"github.com/robfig/cron/v3"
)

// Scheduler runs project imports and view refreshes on cron schedules.
type Scheduler struct {
	cron    *cron.Cron
	runner  *Runner
	dropDir string
}

// NewScheduler creates a Scheduler that scans dropDir on each project tick.
func NewScheduler(runner *Runner, dropDir string) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		runner:  runner,
		dropDir: dropDir,
	}
}

// AddProject registers a project's import schedule. Projects without a
// schedule are skipped silently; they run on demand via the API.
func (s *Scheduler) AddProject(proj *config.ProjectConfig) error {
	if proj.Schedule == "" {
		return nil
	}

	_, err := s.cron.AddFunc(proj.Schedule, func() {
		ctx := context.Background()
		if _, err := s.runner.RunProjectDir(ctx, proj, s.dropDir); err != nil {
			slog.Error("scheduled import failed", "project", proj.Project, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for project %q: %w", proj.Schedule, proj.Project, err)
	}

	slog.Info("project import scheduled", "project", proj.Project, "schedule", proj.Schedule)
	return nil
}

// AddViewRefresh registers a materialized view refresh for one target
// database on the given cron schedule.
func (s *Scheduler) AddViewRefresh(spec, dsn, schemaName string) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx := context.Background()
		err := database.WithConn(ctx, dsn, func(sess database.Session) error {
			result, err := schema.NewManager(sess).RefreshMaterializedViews(ctx, schemaName)
			if err != nil {
				return err
			}
			slog.Info("scheduled view refresh finished",
				"schema", schemaName,
				"refreshed", len(result.Refreshed),
				"failed", len(result.Failed),
			)
			return nil
		})
		if err != nil {
			slog.Error("scheduled view refresh failed", "schema", schemaName, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid view refresh schedule %q: %w", spec, err)
	}

	slog.Info("view refresh scheduled", "schedule", spec, "schema", schemaName)
	return nil
}

// Start begins running registered schedules in their own goroutines.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and returns a context that is done once all
// running scheduled entries complete.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
