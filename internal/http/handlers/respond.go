// Package handlers implements the webhook, trigger and read endpoints.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wolfman30/clinic-automation/internal/apperr"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

type errorResponse struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps err through the failure taxonomy. Internal errors are not
// echoed to the caller.
func writeError(w http.ResponseWriter, logger *logging.Logger, err error) int {
	status := apperr.HTTPStatus(err)
	msg := err.Error()
	switch {
	case status == http.StatusServiceUnavailable:
		msg = "service temporarily unavailable"
	case status >= http.StatusInternalServerError:
		msg = "internal error"
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: errorBody{Message: msg, Details: apperr.Details(err)}})
	return status
}

// decodeJSON reads a bounded JSON body into dst. Malformed JSON is a
// validation error.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.NewValidationError(map[string]string{"body": "request body too large"})
		}
		return apperr.NewValidationError(map[string]string{"body": "invalid JSON: " + err.Error()})
	}
	return nil
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "error"
	case status >= 400:
		return "rejected"
	default:
		return "ok"
	}
}
