package job

// webhook.go delivers job completion callbacks.
//
// Delivery is best-effort with bounded retries: a transient network failure
// or non-2xx response triggers up to two more attempts with a short delay.
// Webhook failures never change the job outcome.

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const (
	webhookTimeout = 30 * time.Second
	webhookRetries = 3
	webhookDelay   = 2 * time.Second
)

// Payload is the JSON body POSTed to a job's callback URL.
type Payload struct {
	JobID           string   `json:"job_id"`
	Project         string   `json:"project"`
	Status          string   `json:"status"`
	FilesProcessed  int      `json:"files_processed"`
	FilesFailed     int      `json:"files_failed"`
	TotalInserted   int      `json:"total_inserted"`
	TotalUpdated    int      `json:"total_updated"`
	TotalSkipped    int      `json:"total_skipped"`
	Errors          []string `json:"errors"`
	DurationSeconds float64  `json:"duration_seconds"`
}

// PayloadFrom builds the webhook payload for a finished job.
func PayloadFrom(r *Result) Payload {
	return Payload{
		JobID:           r.JobID,
		Project:         r.Project,
		Status:          string(r.Status),
		FilesProcessed:  r.FilesProcessed,
		FilesFailed:     r.FilesFailed,
		TotalInserted:   r.TotalInserted,
		TotalUpdated:    r.TotalUpdated,
		TotalSkipped:    r.TotalSkipped,
		Errors:          r.Errors,
		DurationSeconds: r.Duration().Seconds(),
	}
}

// SendWebhook POSTs payload to url, retrying transient failures. Returns an
// error only after every attempt failed.
func SendWebhook(ctx context.Context, url string, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	client := &http.Client{Timeout: webhookTimeout}

	var lastErr error
	for attempt := 1; attempt <= webhookRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(webhookDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			slog.Warn("webhook request failed", "url", url, "attempt", attempt, "error", err)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			slog.Info("webhook delivered", "url", url, "status", resp.StatusCode, "attempt", attempt)
			return nil
		}

		lastErr = fmt.Errorf("webhook returned status %d", resp.StatusCode)
		slog.Warn("webhook returned non-success status",
			"url", url, "status", resp.StatusCode, "attempt", attempt)
	}

	return fmt.Errorf("webhook delivery to %s failed after %d attempts: %w", url, webhookRetries, lastErr)
}
