package server

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/codeagent/internal/event"
	"github.com/opencode-ai/codeagent/pkg/types"
)

// mockResponseWriter counts flushes.
type mockResponseWriter struct {
	*httptest.ResponseRecorder
	flushed int
}

func (m *mockResponseWriter) Flush() {
	m.flushed++
}

func newMockResponseWriter() *mockResponseWriter {
	return &mockResponseWriter{
		ResponseRecorder: httptest.NewRecorder(),
	}
}

func TestEventStream_DefersHeaders(t *testing.T) {
	w := newMockResponseWriter()
	stream, err := newEventStream(w)
	require.NoError(t, err)
	assert.False(t, stream.open)
	assert.Empty(t, w.Header().Get("Content-Type"))

	require.NoError(t, stream.emit("a", 1))
	require.NoError(t, stream.emit("b", 2))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	assert.Equal(t, "no", w.Header().Get("X-Accel-Buffering"))
	assert.Equal(t, "event: a\ndata: 1\n\nevent: b\ndata: 2\n\n", w.Body.String())
	assert.Equal(t, 2, w.flushed)
}

func TestEventStream_NoFlusher(t *testing.T) {
	_, err := newEventStream(&noFlushWriter{})
	assert.ErrorIs(t, err, errNoStreaming)
}

type noFlushWriter struct{}

func (n *noFlushWriter) Header() http.Header       { return http.Header{} }
func (n *noFlushWriter) Write([]byte) (int, error) { return 0, nil }
func (n *noFlushWriter) WriteHeader(int)           {}

func TestEventStream_Emit(t *testing.T) {
	w := newMockResponseWriter()
	stream, _ := newEventStream(w)

	require.NoError(t, stream.emit("test", map[string]string{"message": "hello"}))
	assert.Equal(t, "event: test\ndata: {\"message\":\"hello\"}\n\n", w.Body.String())

	assert.Error(t, stream.emit("bad", make(chan int)))
}

func TestEventStream_Ping(t *testing.T) {
	w := newMockResponseWriter()
	stream, _ := newEventStream(w)

	require.NoError(t, stream.ping())
	assert.Equal(t, ": heartbeat\n\n", w.Body.String())
	assert.Equal(t, 1, w.flushed)
}

func TestEventSessionID(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"status", `{"type":"session.status","data":{"sessionID":"s1","status":"busy"}}`, "s1"},
		{"session info", `{"type":"session.created","data":{"info":{"id":"s2"}}}`, "s2"},
		{"none", `{"type":"server.connected","data":{}}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, eventSessionID([]byte(tt.payload)))
		})
	}
}

func TestEvents_NoBus(t *testing.T) {
	srv := &Server{}

	w := httptest.NewRecorder()
	srv.events(w, httptest.NewRequest("GET", "/event", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestEvents_StreamsBusEvents(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()
	srv := &Server{Deps: Deps{Bus: bus}}

	ts := httptest.NewServer(http.HandlerFunc(srv.events))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, "GET", ts.URL+"?session=s1", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 16)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if line := scanner.Text(); strings.HasPrefix(line, "data: ") {
				lines <- strings.TrimPrefix(line, "data: ")
			}
		}
	}()

	require.Contains(t, <-lines, "server.connected")

	// The subscription exists once server.connected was written.
	bus.Publish(event.Event{
		Type: event.SessionStatus,
		Data: event.SessionStatusData{SessionID: "other", Status: types.SessionBusy},
	})
	bus.Publish(event.Event{
		Type: event.SessionStatus,
		Data: event.SessionStatusData{SessionID: "s1", Status: types.SessionBusy},
	})

	select {
	case line := <-lines:
		assert.Contains(t, line, `"sessionID":"s1"`)
		assert.Contains(t, line, `"type":"session.status"`)
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}
