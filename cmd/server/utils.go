package main

import (
	"errors"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/lychee-technology/duplex"
	"go.uber.org/zap"
)

const maxSearchLimit = 100

// APIResponse is the standard response format
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// writeJSON writes JSON response to http.ResponseWriter
func writeJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, statusCode int, message string) error {
	return writeJSON(w, statusCode, APIResponse{
		Success: false,
		Error:   message,
	})
}

// writeSuccess writes a success response
func writeSuccess(w http.ResponseWriter, statusCode int, data any) error {
	return writeJSON(w, statusCode, APIResponse{
		Success: true,
		Data:    data,
	})
}

// readJSONBody reads and decodes JSON from request body
func readJSONBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// statusFor maps a mirror error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case duplex.IsValidation(err):
		return http.StatusBadRequest
	case duplex.IsNotFound(err):
		return http.StatusNotFound
	case duplex.IsPermission(err):
		return http.StatusForbidden
	case duplex.IsRateLimit(err):
		return http.StatusTooManyRequests
	case duplex.IsBackend(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// retryAfterSeconds renders d for the Retry-After header. It never returns
// less than one second.
func retryAfterSeconds(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// writeServiceError writes err with its mapped status. Rate-limited callers
// are told how long the shared backoff currently is.
func writeServiceError(w http.ResponseWriter, err error, retryAfter time.Duration) {
	status := statusFor(err)
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", retryAfterSeconds(retryAfter))
	}
	if status >= http.StatusInternalServerError {
		zap.S().Errorw("request failed", "status", status, "error", err)
	}
	var code string
	var de *duplex.Error
	if errors.As(err, &de) {
		code = de.Code
	}
	_ = writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
		Code:    code,
	})
}

// parseLimit reads the limit query parameter. Zero means the service default.
func parseLimit(queryParams url.Values) (int, error) {
	raw := queryParams.Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, duplex.NewValidationError("limit", "must be a non-negative integer")
	}
	return min(limit, maxSearchLimit), nil
}

// parseEntityList splits a comma separated entities parameter.
func parseEntityList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if name := strings.TrimSpace(part); name != "" {
			out = append(out, name)
		}
	}
	return out
}
