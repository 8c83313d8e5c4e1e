package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/opencode-ai/codeagent/internal/logging"
	"github.com/opencode-ai/codeagent/internal/session"
	"github.com/opencode-ai/codeagent/internal/storage"
)

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeConflict       = "CONFLICT"
	ErrCodeUnavailable    = "UNAVAILABLE"
	ErrCodeInternalError  = "INTERNAL_ERROR"
)

// sessionErrors maps engine errors to a status and code. The first match
// wins; anything else is a 500.
var sessionErrors = []struct {
	err    error
	status int
	code   string
}{
	{session.ErrSessionNotFound, http.StatusNotFound, ErrCodeNotFound},
	{storage.ErrInvalidKey, http.StatusNotFound, ErrCodeNotFound},
	{session.ErrSessionBusy, http.StatusConflict, ErrCodeConflict},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Component("http").Debug().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

func writeSessionError(w http.ResponseWriter, err error) {
	for _, m := range sessionErrors {
		if errors.Is(err, m.err) {
			writeError(w, m.status, m.code, err.Error())
			return
		}
	}
	writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
}

func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
