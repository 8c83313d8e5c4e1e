package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/opencode-ai/codeagent/internal/logging"
	"github.com/opencode-ai/codeagent/internal/session"
	"github.com/opencode-ai/codeagent/pkg/types"
)

// SendMessageRequest is the body of POST /session/{sessionID}/message.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// resultEvent is the SSE event type that closes a message stream.
const resultEvent = "result"

// sendMessage handles POST /session/{sessionID}/message. The turn's
// processor events are streamed as SSE, named by their type, followed by
// a final "result" event carrying the TurnResult. Errors that prevent the
// turn from starting are plain JSON errors: 404 for an unknown session,
// 409 while another turn runs. Closing the connection cancels the turn.
func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionFrom(r).ID

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "content is required")
		return
	}

	stream, err := newEventStream(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	var writeErr error
	result, err := s.Processor.Process(r.Context(), sessionID, req.Content, func(ev types.ProcessorEvent) {
		if writeErr != nil {
			return
		}
		writeErr = stream.emit(string(ev.Type), ev)
		if writeErr != nil {
			logging.Debug().Err(writeErr).Str("session", sessionID).Msg("message stream closed")
		}
	})
	if err != nil {
		if !stream.open {
			writeSessionError(w, err)
			return
		}
		_ = stream.emit(string(types.PEError), types.ProcessorEvent{
			Type:      types.PEError,
			SessionID: sessionID,
			Error:     &types.EventError{Kind: types.ErrTransport, Message: err.Error()},
		})
		return
	}
	if writeErr == nil {
		_ = stream.emit(resultEvent, resultView(result))
	}
}

// TurnResultView is the JSON form of a finished turn.
type TurnResultView struct {
	SessionID  string            `json:"sessionId"`
	State      types.TurnState   `json:"state"`
	StopReason types.StopReason  `json:"stopReason,omitempty"`
	Steps      int               `json:"steps"`
	Usage      types.Usage       `json:"usage"`
	Messages   []types.Message   `json:"messages"`
	Error      *types.EventError `json:"error,omitempty"`
}

func resultView(r *session.TurnResult) TurnResultView {
	return TurnResultView{
		SessionID:  r.SessionID,
		State:      r.State,
		StopReason: r.StopReason,
		Steps:      r.Steps,
		Usage:      r.Usage,
		Messages:   r.Messages,
		Error:      r.Error,
	}
}
