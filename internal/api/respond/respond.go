// Package respond provides shared JSON response utilities for API handlers.
package respond

import (
	"encoding/json"
	"net/http"

	"github.com/rewired-gh/quakewatch/internal/logger"
)

// Error codes.
const (
	CodeInvalidQuery   = "INVALID_QUERY"
	CodeInvalidBody    = "INVALID_BODY"
	CodeInvalidSetting = "INVALID_SETTING"
	CodeNotFound       = "NOT_FOUND"
	CodePollInProgress = "POLL_IN_PROGRESS"
	CodeUnavailable    = "UNAVAILABLE"
	CodeRateLimited    = "RATE_LIMITED"
	CodeInternal       = "INTERNAL"
)

// ErrorResponse is the standard error shape for all API errors.
type ErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// WriteJSON marshals v to JSON and writes it with status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to encode response: %v", err)
	}
}

// WriteError sends a structured JSON error response.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	resp := ErrorResponse{}
	resp.Error.Code = code
	resp.Error.Message = message
	WriteJSON(w, status, resp)
}
