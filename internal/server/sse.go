package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/opencode-ai/codeagent/internal/event"
	"github.com/opencode-ai/codeagent/internal/logging"
)

// SSEHeartbeatInterval spaces the keep-alive comments on /event.
const SSEHeartbeatInterval = 30 * time.Second

var errNoStreaming = errors.New("streaming not supported")

// eventStream writes server-sent events. The status line and headers are
// sent with the first event, so a handler can still answer with a plain
// error until then.
type eventStream struct {
	w    http.ResponseWriter
	rc   *http.ResponseController
	open bool
}

func newEventStream(w http.ResponseWriter) (*eventStream, error) {
	if _, ok := w.(http.Flusher); !ok {
		return nil, errNoStreaming
	}
	return &eventStream{w: w, rc: http.NewResponseController(w)}, nil
}

func (s *eventStream) begin() {
	if s.open {
		return
	}
	s.open = true
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
}

// emit JSON-encodes v as the data of an event called name.
func (s *eventStream) emit(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.emitRaw(name, data)
}

// emitRaw sends data, which must be a single line, as is.
func (s *eventStream) emitRaw(name string, data []byte) error {
	return s.write("event: " + name + "\ndata: " + string(data) + "\n\n")
}

// ping sends a comment line that clients ignore.
func (s *eventStream) ping() error {
	return s.write(": heartbeat\n\n")
}

func (s *eventStream) write(frame string) error {
	s.begin()
	if _, err := s.w.Write([]byte(frame)); err != nil {
		return err
	}
	return s.rc.Flush()
}

// events handles GET /event, the bus feed. ?session=<id> keeps the events
// of one session and ?type=a,b keeps the named types.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	if s.Bus == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "event bus not configured")
		return
	}
	stream, err := newEventStream(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	q := r.URL.Query()
	var only []event.EventType
	for _, t := range strings.Split(q.Get("type"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			only = append(only, event.EventType(t))
		}
	}
	msgs, err := s.Bus.Messages(r.Context(), only...)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
		return
	}
	sessionID := q.Get("session")

	if err := stream.emitRaw("message", []byte(`{"type":"server.connected","data":{}}`)); err != nil {
		return
	}

	heartbeat := time.NewTicker(SSEHeartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if err := stream.ping(); err != nil {
				return
			}
		case payload, ok := <-msgs:
			if !ok {
				return
			}
			if sessionID != "" && eventSessionID(payload) != sessionID {
				continue
			}
			if err := stream.emitRaw("message", payload); err != nil {
				logging.Component("http").Debug().Err(err).Msg("event stream closed")
				return
			}
		}
	}
}

// eventSessionID finds the session an encoded bus event belongs to.
func eventSessionID(payload []byte) string {
	for _, v := range gjson.GetManyBytes(payload, "data.sessionID", "data.info.id") {
		if v.Exists() {
			return v.String()
		}
	}
	return ""
}
