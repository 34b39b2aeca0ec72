package web

// errors.go provides unified JSON error responses for the API.
//
// Technical detail is logged server-side with the request ID; the response
// body carries a stable machine-readable code so callers can branch on the
// failure class (validation vs. connectivity vs. not-found) without parsing
// message text.

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/JonMunkholm/ingestd/internal/database"
	"github.com/JonMunkholm/ingestd/internal/importer"
	"github.com/JonMunkholm/ingestd/internal/job"
	"github.com/JonMunkholm/ingestd/internal/logging"
	"github.com/JonMunkholm/ingestd/internal/schema"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// classify maps an error to an HTTP status and a stable code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "BAD_REQUEST"
	case errors.Is(err, importer.ErrMissingPrimaryKey),
		errors.Is(err, importer.ErrFileNotFound):
		return http.StatusBadRequest, "VALIDATION"
	case errors.Is(err, database.ErrNoDSN):
		return http.StatusBadRequest, "CONFIG"
	case errors.Is(err, schema.ErrTableNotFound):
		return http.StatusNotFound, "TABLE_NOT_FOUND"
	case errors.Is(err, job.ErrJobNotFound):
		return http.StatusNotFound, "JOB_NOT_FOUND"
	case errors.Is(err, database.ErrPoolBusy),
		errors.Is(err, importer.ErrTooManyImports):
		return http.StatusServiceUnavailable, "BUSY"
	case database.IsConnectivity(err):
		return http.StatusBadGateway, "CONNECTIVITY"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

// respondError logs err and writes the JSON error envelope.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)

	logging.FromContext(r.Context()).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"code", code,
		"error", err.Error(),
	)

	respondJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

// respondJSON writes v as a JSON response with the given status.
func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
