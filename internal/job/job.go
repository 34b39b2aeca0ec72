// Package job orchestrates multi-file import jobs: matching files to table
// configurations, running the imports, aggregating per-file outcomes into a
// job status, persisting job records, and delivering webhook callbacks.
package job

import (
	"time"
)

// Status is the final state of an import job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	// StatusPartial means some files succeeded and some failed.
	StatusPartial Status = "partial"
)

// FileResult is the outcome of importing a single file within a job.
type FileResult struct {
	Filename string `json:"filename"`
	Table    string `json:"table_name"`
	Inserted int    `json:"inserted"`
	Updated  int    `json:"updated"`
	Skipped  int    `json:"skipped"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// Result is the complete outcome of one import job.
type Result struct {
	JobID          string       `json:"job_id"`
	Project        string       `json:"project"`
	Status         Status       `json:"status"`
	StartedAt      time.Time    `json:"started_at"`
	CompletedAt    time.Time    `json:"completed_at"`
	FilesProcessed int          `json:"files_processed"`
	FilesFailed    int          `json:"files_failed"`
	TotalInserted  int          `json:"total_inserted"`
	TotalUpdated   int          `json:"total_updated"`
	TotalSkipped   int          `json:"total_skipped"`
	FileResults    []FileResult `json:"file_results"`
	Errors         []string     `json:"errors"`
}

// TotalFiles is the number of files attempted.
func (r *Result) TotalFiles() int {
	return r.FilesProcessed + r.FilesFailed
}

// Duration is the wall-clock time the job ran for.
func (r *Result) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// record tallies one file outcome into the job totals.
func (r *Result) record(fr FileResult) {
	r.FileResults = append(r.FileResults, fr)
	if fr.Success {
		r.FilesProcessed++
		r.TotalInserted += fr.Inserted
		r.TotalUpdated += fr.Updated
		r.TotalSkipped += fr.Skipped
	} else {
		r.FilesFailed++
	}
}

// finalize stamps the completion time and derives the final status:
// completed when no file failed and at least one succeeded, partial when
// mixed, failed otherwise. A status already forced to failed (job-level
// error) is left alone.
func (r *Result) finalize(now time.Time) {
	r.CompletedAt = now

	if r.Status == StatusFailed {
		return
	}
	switch {
	case r.FilesFailed == 0 && r.FilesProcessed > 0:
		r.Status = StatusCompleted
	case r.FilesProcessed > 0 && r.FilesFailed > 0:
		r.Status = StatusPartial
	default:
		r.Status = StatusFailed
	}
}
