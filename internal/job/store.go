package job

// store.go persists job outcomes in the management database through the
// pooled connection provider. The tables are created lazily on startup so a
// fresh management database needs no out-of-band migration step.

import (
	"context"
	"errors"
	"fmt"

	"github.com/JonMunkholm/ingestd/internal/database"
	"github.com/jackc/pgx/v5"
)

// ErrJobNotFound is returned when a job ID has no persisted record.
var ErrJobNotFound = errors.New("job not found")

// Store records jobs and their per-file outcomes.
type Store struct {
	pool *database.Pool
}

// NewStore returns a Store backed by the management pool.
func NewStore(pool *database.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates the job tables if they do not exist.
func (s *Store) Init(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS import_jobs (
			job_id UUID PRIMARY KEY,
			project TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ NOT NULL,
			files_processed INT NOT NULL DEFAULT 0,
			files_failed INT NOT NULL DEFAULT 0,
			total_inserted BIGINT NOT NULL DEFAULT 0,
			total_updated BIGINT NOT NULL DEFAULT 0,
			total_skipped BIGINT NOT NULL DEFAULT 0,
			errors TEXT[] NOT NULL DEFAULT '{}'
		);
		CREATE TABLE IF NOT EXISTS import_job_files (
			job_id UUID NOT NULL REFERENCES import_jobs(job_id) ON DELETE CASCADE,
			filename TEXT NOT NULL,
			table_name TEXT NOT NULL,
			inserted BIGINT NOT NULL DEFAULT 0,
			updated BIGINT NOT NULL DEFAULT 0,
			skipped BIGINT NOT NULL DEFAULT 0,
			success BOOLEAN NOT NULL DEFAULT FALSE,
			error TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS import_job_files_job_id_idx ON import_job_files (job_id);`

	return s.pool.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("create job tables: %w", err)
		}
		return nil
	})
}

// SaveResult persists a finished job and its file outcomes atomically.
func (s *Store) SaveResult(ctx context.Context, r *Result) error {
	return s.pool.WithTx(ctx, func(tx pgx.Tx) error {
		const insertJob = `
			INSERT INTO import_jobs (
				job_id, project, status, started_at, completed_at,
				files_processed, files_failed,
				total_inserted, total_updated, total_skipped, errors
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

		errs := r.Errors
		if errs == nil {
			errs = []string{}
		}

		if _, err := tx.Exec(ctx, insertJob,
			r.JobID, r.Project, string(r.Status), r.StartedAt, r.CompletedAt,
			r.FilesProcessed, r.FilesFailed,
			r.TotalInserted, r.TotalUpdated, r.TotalSkipped, errs,
		); err != nil {
			return fmt.Errorf("insert job record: %w", err)
		}

		const insertFile = `
			INSERT INTO import_job_files (
				job_id, filename, table_name, inserted, updated, skipped, success, error
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

		for _, fr := range r.FileResults {
			if _, err := tx.Exec(ctx, insertFile,
				r.JobID, fr.Filename, fr.Table,
				fr.Inserted, fr.Updated, fr.Skipped, fr.Success, fr.Error,
			); err != nil {
				return fmt.Errorf("insert job file record: %w", err)
			}
		}

		return nil
	})
}

// GetResult loads a persisted job by ID.
func (s *Store) GetResult(ctx context.Context, jobID string) (*Result, error) {
	var result Result

	err := s.pool.WithTx(ctx, func(tx pgx.Tx) error {
		const selectJob = `
			SELECT job_id, project, status, started_at, completed_at,
				files_processed, files_failed,
				total_inserted, total_updated, total_skipped, errors
			FROM import_jobs WHERE job_id = $1`

		var status string
		err := tx.QueryRow(ctx, selectJob, jobID).Scan(
			&result.JobID, &result.Project, &status,
			&result.StartedAt, &result.CompletedAt,
			&result.FilesProcessed, &result.FilesFailed,
			&result.TotalInserted, &result.TotalUpdated, &result.TotalSkipped,
			&result.Errors,
		)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		if err != nil {
			return fmt.Errorf("load job record: %w", err)
		}
		result.Status = Status(status)

		const selectFiles = `
			SELECT filename, table_name, inserted, updated, skipped, success, error
			FROM import_job_files WHERE job_id = $1 ORDER BY filename`

		rows, err := tx.Query(ctx, selectFiles, jobID)
		if err != nil {
			return fmt.Errorf("load job file records: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var fr FileResult
			if err := rows.Scan(&fr.Filename, &fr.Table,
				&fr.Inserted, &fr.Updated, &fr.Skipped, &fr.Success, &fr.Error); err != nil {
				return fmt.Errorf("scan job file record: %w", err)
			}
			result.FileResults = append(result.FileResults, fr)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return &result, nil
}

// ListRecent returns up to limit recent jobs, newest first, without their
// per-file details.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 50
	}

	var results []Result
	err := s.pool.WithTx(ctx, func(tx pgx.Tx) error {
		const q = `
			SELECT job_id, project, status, started_at, completed_at,
				files_processed, files_failed,
				total_inserted, total_updated, total_skipped, errors
			FROM import_jobs ORDER BY started_at DESC LIMIT $1`

		rows, err := tx.Query(ctx, q, limit)
		if err != nil {
			return fmt.Errorf("list jobs: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var r Result
			var status string
			if err := rows.Scan(&r.JobID, &r.Project, &status,
				&r.StartedAt, &r.CompletedAt,
				&r.FilesProcessed, &r.FilesFailed,
				&r.TotalInserted, &r.TotalUpdated, &r.TotalSkipped,
				&r.Errors); err != nil {
				return fmt.Errorf("scan job record: %w", err)
			}
			r.Status = Status(status)
			results = append(results, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return results, nil
}
