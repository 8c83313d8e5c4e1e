package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/opencode-ai/codeagent/internal/mcp"
	"github.com/opencode-ai/codeagent/pkg/types"
)

// CreateSessionRequest represents the request body for creating a session.
type CreateSessionRequest struct {
	Directory string `json:"directory,omitempty"`
	Title     string `json:"title,omitempty"`
}

// SessionStateResponse reports whether a turn is running.
type SessionStateResponse struct {
	SessionID  string          `json:"sessionId"`
	Processing bool            `json:"processing"`
	State      types.TurnState `json:"state"`
}

// listSessions handles GET /session
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.Store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	// Ensure we return an empty array [] instead of null
	if sessions == nil {
		sessions = []types.SessionSummary{}
	}

	writeJSON(w, http.StatusOK, sessions)
}

// createSession handles POST /session. An empty body is allowed.
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}

	directory := req.Directory
	if directory == "" {
		directory = s.config.Directory
	}

	sess, err := s.Store.Create(r.Context(), directory, req.Title)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

// getSession handles GET /session/{sessionID}
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionFrom(r))
}

// UpdateSessionRequest is the body of PATCH /session/{sessionID}.
type UpdateSessionRequest struct {
	Title *string `json:"title,omitempty"`
}

// updateSession handles PATCH /session/{sessionID}
func (s *Server) updateSession(w http.ResponseWriter, r *http.Request) {
	var req UpdateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	sess := sessionFrom(r)
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "title must not be empty")
			return
		}
		if err := s.Store.SetTitle(r.Context(), sess.ID, title); err != nil {
			writeSessionError(w, err)
			return
		}
		sess.Title = title
	}
	writeJSON(w, http.StatusOK, sess)
}

// getMessages handles GET /session/{sessionID}/message
func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	msgs := sessionFrom(r).Messages
	if msgs == nil {
		msgs = []types.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// deleteSession handles DELETE /session/{sessionID}. A session with a
// running turn is not deleted.
func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := sessionFrom(r).ID
	if err := s.Store.Delete(r.Context(), id); err != nil {
		writeSessionError(w, err)
		return
	}
	if s.Asker != nil {
		s.Asker.ClearSession(id)
	}
	writeSuccess(w)
}

// getSessionState handles GET /session/{sessionID}/state
func (s *Server) getSessionState(w http.ResponseWriter, r *http.Request) {
	id := sessionFrom(r).ID
	writeJSON(w, http.StatusOK, SessionStateResponse{
		SessionID:  id,
		Processing: s.Processor.IsProcessing(id),
		State:      s.Processor.State(id),
	})
}

// abortSession handles POST /session/{sessionID}/abort
func (s *Server) abortSession(w http.ResponseWriter, r *http.Request) {
	if err := s.Processor.Abort(sessionFrom(r).ID); err != nil {
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
		return
	}
	writeSuccess(w)
}

// ModelInfo is one entry of GET /provider.
type ModelInfo struct {
	ID         string `json:"id"`
	ProviderID string `json:"providerId"`
	Name       string `json:"name"`
	Ref        string `json:"ref"`
	Tools      bool   `json:"tools"`
}

// listModels handles GET /provider
func (s *Server) listModels(w http.ResponseWriter, r *http.Request) {
	out := []ModelInfo{}
	if s.Providers != nil {
		for _, m := range s.Providers.AllModels() {
			out = append(out, ModelInfo{
				ID:         m.ID,
				ProviderID: m.ProviderID,
				Name:       m.Name,
				Ref:        m.ProviderID + "/" + m.ID,
				Tools:      m.SupportsTools,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref < out[j].Ref })
	writeJSON(w, http.StatusOK, out)
}

// listTools handles GET /tool
func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	ids := []string{}
	if s.Tools != nil {
		ids = append(ids, s.Tools.IDs(r.Context())...)
	}
	writeJSON(w, http.StatusOK, ids)
}

// mcpStatus handles GET /mcp
func (s *Server) mcpStatus(w http.ResponseWriter, r *http.Request) {
	out := []mcp.ServerStatus{}
	if s.MCP != nil {
		out = append(out, s.MCP.Status()...)
	}
	writeJSON(w, http.StatusOK, out)
}
