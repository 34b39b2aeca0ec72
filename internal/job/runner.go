package job

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JonMunkholm/ingestd/internal/config"
	"github.com/JonMunkholm/ingestd/internal/importer"
	"github.com/google/uuid"
)

// ImportFunc runs a single import. It is the seam between the job layer and
// the import engine, and lets tests substitute a fake engine.
type ImportFunc func(ctx context.Context, opts importer.Options) (*importer.Result, error)

// Runner executes import jobs for projects.
type Runner struct {
	runImport ImportFunc
	limiter   *importer.Limiter
	store     *Store // nil disables persistence
	chunkSize int
}

// NewRunner creates a Runner. store may be nil when job persistence is not
// configured; chunkSize <= 0 falls back to the engine default.
func NewRunner(imp *importer.Importer, limiter *importer.Limiter, store *Store, chunkSize int) *Runner {
	return &Runner{
		runImport: imp.Run,
		limiter:   limiter,
		store:     store,
		chunkSize: chunkSize,
	}
}

// RunProject imports the given files for a project and returns the
// aggregated job result. Job-level failures (unresolvable connection) fail
// the job outright; per-file failures are recorded and the remaining files
// still run.
func (r *Runner) RunProject(ctx context.Context, proj *config.ProjectConfig, files []string) *Result {
	result := &Result{
		JobID:     uuid.NewString(),
		Project:   proj.Project,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}

	logger := slog.Default().With("job_id", result.JobID, "project", proj.Project)
	logger.Info("import job starting", "files", len(files))

	dsn, err := proj.Connection.Resolve()
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		result.Status = StatusFailed
		r.finish(ctx, proj, result, logger)
		return result
	}

	for _, filePath := range files {
		filename := filepath.Base(filePath)

		tbl, ok := proj.TableFor(filename)
		if !ok {
			logger.Warn("no table configuration matches file, skipping", "file", filename)
			result.record(FileResult{
				Filename: filename,
				Error:    "no matching table configuration",
			})
			continue
		}

		result.record(r.importFile(ctx, dsn, filePath, tbl, logger))
	}

	r.finish(ctx, proj, result, logger)
	return result
}

// RunProjectDir imports every regular file in dir that the project's rules
// match. Files with no matching rule are ignored rather than failed, since a
// drop directory may hold files for several projects.
func (r *Runner) RunProjectDir(ctx context.Context, proj *config.ProjectConfig, dir string) (*Result, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read drop directory %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := proj.TableFor(entry.Name()); ok {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}

	return r.RunProject(ctx, proj, files), nil
}

// importFile runs one file import under the concurrency limiter.
func (r *Runner) importFile(ctx context.Context, dsn, filePath string, tbl config.TableConfig, logger *slog.Logger) FileResult {
	filename := filepath.Base(filePath)
	fr := FileResult{Filename: filename, Table: tbl.TargetTable}

	if err := r.limiter.Acquire(ctx); err != nil {
		fr.Error = err.Error()
		return fr
	}
	defer r.limiter.Release()

	logger.Info("importing file", "file", filename, "table", tbl.TargetTable)

	res, err := r.runImport(ctx, importer.Options{
		FilePath:      filePath,
		Table:         tbl.TargetTable,
		Schema:        tbl.Schema,
		PrimaryKey:    tbl.PrimaryKey,
		ColumnMapping: tbl.ColumnMapping,
		RebuildTable:  tbl.RebuildTable,
		ChunkSize:     r.chunkSize,
		Delimiter:     delimiterRune(tbl.Delimiter),
		Encoding:      tbl.Encoding,
		SkipRows:      tbl.SkipRows,
		DatabaseURL:   dsn,
	})
	if err != nil {
		fr.Error = err.Error()
		return fr
	}

	fr.Inserted = res.Inserted
	fr.Updated = res.Updated
	fr.Skipped = res.Skipped
	fr.Success = res.Success()
	if res.HasErrors() {
		fr.Error = strings.Join(res.Errors, "; ")
	}
	return fr
}

// finish derives the final status, persists the job if a store is
// configured, and delivers the webhook callback.
func (r *Runner) finish(ctx context.Context, proj *config.ProjectConfig, result *Result, logger *slog.Logger) {
	result.finalize(time.Now().UTC())

	logger.Info("import job finished",
		"status", result.Status,
		"files_processed", result.FilesProcessed,
		"files_failed", result.FilesFailed,
		"inserted", result.TotalInserted,
		"updated", result.TotalUpdated,
		"skipped", result.TotalSkipped,
	)

	if r.store != nil {
		if err := r.store.SaveResult(ctx, result); err != nil {
			logger.Error("failed to persist job result", "error", err)
		}
	}

	if proj.Webhook != nil && proj.Webhook.URL != "" {
		if err := SendWebhook(ctx, proj.Webhook.URL, PayloadFrom(result)); err != nil {
			logger.Error("webhook delivery failed", "url", proj.Webhook.URL, "error", err)
		}
	}
}

func delimiterRune(s string) rune {
	for _, r := range s {
		return r
	}
	return 0
}
