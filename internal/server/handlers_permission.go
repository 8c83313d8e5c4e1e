package server

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/opencode-ai/codeagent/internal/permission"
)

// PermissionResponseRequest answers a pending permission question.
type PermissionResponseRequest struct {
	Response string `json:"response"` // "once" | "always" | "reject"
}

// listPermissions handles GET /permission and GET /session/{sessionID}/permission.
func (s *Server) listPermissions(w http.ResponseWriter, r *http.Request) {
	if s.Asker == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "interactive permissions not enabled")
		return
	}
	pending := s.Asker.PendingRequests(chi.URLParam(r, "sessionID"))
	if pending == nil {
		pending = []permission.Request{}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })
	writeJSON(w, http.StatusOK, pending)
}

// respondPermission handles POST /permission/{requestID}
func (s *Server) respondPermission(w http.ResponseWriter, r *http.Request) {
	if s.Asker == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "interactive permissions not enabled")
		return
	}

	var req PermissionResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	switch req.Response {
	case permission.ResponseOnce, permission.ResponseAlways, permission.ResponseReject:
	default:
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "response must be once, always or reject")
		return
	}

	if !s.Asker.Respond(chi.URLParam(r, "requestID"), req.Response) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "permission request not pending")
		return
	}
	writeSuccess(w)
}
