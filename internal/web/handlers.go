package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"unicode/utf8"

	"github.com/JonMunkholm/ingestd/internal/database"
	"github.com/JonMunkholm/ingestd/internal/importer"
	"github.com/JonMunkholm/ingestd/internal/job"
	"github.com/JonMunkholm/ingestd/internal/logging"
	"github.com/JonMunkholm/ingestd/internal/schema"
	"github.com/go-chi/chi/v5"
)

// handleHealth reports liveness of the server and the management database.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK

	if err := s.pool.Ping(r.Context()); err != nil {
		logging.FromContext(r.Context()).Error("health check failed", "error", err)
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	respondJSON(w, httpStatus, map[string]string{"status": status})
}

// stringOrList accepts a JSON string or array of strings. Single-column
// primary keys are commonly written as a bare string in request bodies.
type stringOrList []string

func (s *stringOrList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*s = []string{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("expected string or list of strings")
	}
	*s = many
	return nil
}

// importRequest is the body of POST /api/imports.
type importRequest struct {
	FilePath      string            `json:"file_path"`
	Table         string            `json:"table"`
	Schema        string            `json:"schema"`
	PrimaryKey    stringOrList      `json:"primary_key"`
	ColumnMapping map[string]string `json:"column_mapping"`
	RebuildTable  bool              `json:"rebuild_table"`
	ChunkSize     int               `json:"chunk_size"`
	Delimiter     string            `json:"delimiter"`
	Encoding      string            `json:"encoding"`
	SkipRows      int               `json:"skip_rows"`
	DatabaseURL   string            `json:"database_url"`
}

// handleImport runs one file import synchronously and returns its result.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if req.Table == "" {
		respondError(w, r, fmt.Errorf("%w: table is required", errBadRequest))
		return
	}
	if req.DatabaseURL == "" {
		respondError(w, r, database.ErrNoDSN)
		return
	}

	var delimiter rune
	if req.Delimiter != "" {
		delimiter, _ = utf8.DecodeRuneInString(req.Delimiter)
	}

	ctx := r.Context()
	if err := s.limiter.Acquire(ctx); err != nil {
		respondError(w, r, err)
		return
	}
	defer s.limiter.Release()

	if req.ChunkSize <= 0 {
		req.ChunkSize = s.cfg.Import.ChunkSize
	}

	result, err := s.importer.Run(ctx, importer.Options{
		FilePath:      req.FilePath,
		Table:         req.Table,
		Schema:        req.Schema,
		PrimaryKey:    req.PrimaryKey,
		ColumnMapping: req.ColumnMapping,
		RebuildTable:  req.RebuildTable,
		ChunkSize:     req.ChunkSize,
		Delimiter:     delimiter,
		Encoding:      req.Encoding,
		SkipRows:      req.SkipRows,
		DatabaseURL:   req.DatabaseURL,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	status := http.StatusOK
	if !result.Success() {
		status = http.StatusUnprocessableEntity
	}
	respondJSON(w, status, importResponse{
		Success:  result.Success(),
		Table:    result.Table,
		FilePath: result.FilePath,
		Inserted: result.Inserted,
		Updated:  result.Updated,
		Skipped:  result.Skipped,
		Errors:   result.Errors,
	})
}

// importResponse is the body returned by POST /api/imports.
type importResponse struct {
	Success  bool     `json:"success"`
	Table    string   `json:"table"`
	FilePath string   `json:"file_path"`
	Inserted int      `json:"inserted"`
	Updated  int      `json:"updated"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

// handleRunJob runs a full project job against the drop directory.
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "project")
	proj, ok := s.projects[name]
	if !ok {
		respondJSON(w, http.StatusNotFound, ErrorResponse{
			Error: fmt.Sprintf("unknown project %q", name),
			Code:  "PROJECT_NOT_FOUND",
		})
		return
	}

	result, err := s.runner.RunProjectDir(r.Context(), proj, s.cfg.Import.DropDir)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleGetJob returns one persisted job with per-file details.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	result, err := s.store.GetResult(r.Context(), jobID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleListJobs returns recent jobs, newest first. ?limit= caps the count.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, r, fmt.Errorf("%w: invalid limit %q", errBadRequest, raw))
			return
		}
		limit = n
	}

	results, err := s.store.ListRecent(r.Context(), limit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if results == nil {
		results = []job.Result{}
	}

	respondJSON(w, http.StatusOK, results)
}

// handleTableColumns lists a target table's columns in ordinal order. The
// target database is named per-request since import targets are not pooled.
func (s *Server) handleTableColumns(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	schemaName := r.URL.Query().Get("schema")
	dsn := r.URL.Query().Get("database_url")
	if dsn == "" {
		respondError(w, r, database.ErrNoDSN)
		return
	}

	var columns []string
	err := database.WithConn(r.Context(), dsn, func(sess database.Session) error {
		var err error
		columns, err = schema.NewManager(sess).Columns(r.Context(), table, schemaName)
		return err
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"table":   table,
		"columns": columns,
	})
}

// refreshViewsRequest is the body of POST /api/views/refresh.
type refreshViewsRequest struct {
	DatabaseURL string `json:"database_url"`
	Schema      string `json:"schema"`
}

// handleRefreshViews refreshes all materialized views in a target schema.
func (s *Server) handleRefreshViews(w http.ResponseWriter, r *http.Request) {
	var req refreshViewsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if req.DatabaseURL == "" {
		respondError(w, r, database.ErrNoDSN)
		return
	}

	var result schema.RefreshResult
	err := database.WithConn(r.Context(), req.DatabaseURL, func(sess database.Session) error {
		var err error
		result, err = schema.NewManager(sess).RefreshMaterializedViews(r.Context(), req.Schema)
		return err
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	status := http.StatusOK
	if len(result.Failed) > 0 {
		status = http.StatusUnprocessableEntity
	}
	respondJSON(w, status, map[string]any{
		"success":   result.Success(),
		"refreshed": result.Refreshed,
		"failed":    result.Failed,
		"errors":    result.Errors,
	})
}

// errBadRequest marks client-side request errors for status mapping.
var errBadRequest = errors.New("bad request")
