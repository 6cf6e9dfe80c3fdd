package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/kozaktomas/lookalike/internal/lookalike"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusForError maps a service error to an HTTP status.
func statusForError(err error) int {
	switch lookalike.KindOf(err) {
	case lookalike.KindBadInput:
		return http.StatusBadRequest
	case lookalike.KindNotFound:
		return http.StatusNotFound
	case lookalike.KindNoUsableImages:
		return http.StatusUnprocessableEntity
	case lookalike.KindEmbeddingFailed:
		if lookalike.Retryable(err) {
			return http.StatusServiceUnavailable
		}
		return http.StatusUnprocessableEntity
	case lookalike.KindServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondServiceError writes the user-facing message of a service error.
// The full cause only goes to the log.
func respondServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	} else {
		logger.Debug("request rejected", zap.Int("status", status), zap.Error(err))
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	respondError(w, status, lookalike.MessageOf(err))
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
