package wire

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAllSSE(t *testing.T, r *SSEReader) []SSEEvent {
	t.Helper()
	var out []SSEEvent
	for {
		ev, err := r.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, ev)
	}
}

func TestSSEReader_Basic(t *testing.T) {
	body := "event: message_start\ndata: {\"a\":1}\n\nevent: ping\ndata: {}\n\n"
	events := readAllSSE(t, NewSSEReader(strings.NewReader(body)))

	require.Len(t, events, 2)
	assert.Equal(t, "message_start", events[0].Event)
	assert.Equal(t, `{"a":1}`, events[0].Data)
	assert.Equal(t, "ping", events[1].Event)
}

func TestSSEReader_SplitAcrossReads(t *testing.T) {
	body := "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\r\n\r\ndata: [DONE]\r\n\r\n"
	events := readAllSSE(t, NewSSEReader(iotest.OneByteReader(strings.NewReader(body))))

	require.Len(t, events, 2)
	assert.Equal(t, `{"choices":[{"delta":{"content":"Hel"}}]}`, events[0].Data)
	assert.Equal(t, "[DONE]", events[1].Data)
}

func TestSSEReader_MultiLineDataAndFields(t *testing.T) {
	body := "id: 7\nretry: 1500\ndata: line1\ndata: line2\n\n"
	events := readAllSSE(t, NewSSEReader(strings.NewReader(body)))

	require.Len(t, events, 1)
	assert.Equal(t, "line1\nline2", events[0].Data)
	assert.Equal(t, "7", events[0].ID)
	assert.Equal(t, 1500, events[0].Retry)
}

func TestSSEReader_Comments(t *testing.T) {
	body := ": keepalive\n\ndata: x\n\n"
	events := readAllSSE(t, NewSSEReader(strings.NewReader(body)))

	require.Len(t, events, 2)
	assert.True(t, events[0].Comment)
	assert.Equal(t, "keepalive", events[0].Data)
	assert.False(t, events[1].Comment)
	assert.Equal(t, "x", events[1].Data)
}

func TestSSEReader_TrailingEventWithoutBlankLine(t *testing.T) {
	events := readAllSSE(t, NewSSEReader(strings.NewReader("data: one\n\ndata: two")))

	require.Len(t, events, 2)
	assert.Equal(t, "two", events[1].Data)
}

func TestSSEReader_ReadError(t *testing.T) {
	boom := errors.New("connection reset")
	r := NewSSEReader(io.MultiReader(strings.NewReader("data: partial"), iotest.ErrReader(boom)))

	_, err := r.Next()
	assert.ErrorIs(t, err, boom)
}

func TestLineReader(t *testing.T) {
	body := "{\"a\":1}\n\n  \n{\"b\":2}\n{\"c\":3}"
	r := NewLineReader(iotest.HalfReader(strings.NewReader(body)))

	var lines []string
	for {
		line, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		lines = append(lines, string(line))
	}
	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`, `{"c":3}`}, lines)
}

func TestWatchdog_FiresWithoutTouch(t *testing.T) {
	ctx, w := NewWatchdog(context.Background(), 30*time.Millisecond)
	defer w.Stop()

	select {
	case <-ctx.Done():
		assert.ErrorIs(t, context.Cause(ctx), ErrIdleTimeout)
	case <-time.After(time.Second):
		t.Fatal("watchdog did not fire")
	}
}

func TestWatchdog_TouchKeepsAlive(t *testing.T) {
	ctx, w := NewWatchdog(context.Background(), 80*time.Millisecond)
	defer w.Stop()

	for i := 0; i < 5; i++ {
		time.Sleep(30 * time.Millisecond)
		w.Touch()
	}
	assert.NoError(t, ctx.Err())
}

func TestWatchdog_StopReleases(t *testing.T) {
	ctx, w := NewWatchdog(context.Background(), time.Hour)
	w.Stop()
	w.Touch()

	<-ctx.Done()
	assert.ErrorIs(t, context.Cause(ctx), context.Canceled)
}

func TestWatchdog_Disabled(t *testing.T) {
	ctx, w := NewWatchdog(context.Background(), 0)
	time.Sleep(10 * time.Millisecond)
	assert.NoError(t, ctx.Err())
	w.Stop()
}
