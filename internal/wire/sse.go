package wire

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// SSEEvent is one dispatched Server-Sent Event.
type SSEEvent struct {
	Event string
	Data  string
	ID    string
	Retry int
	// Comment is set for ":" lines. Vendors use them as keepalives.
	Comment bool
}

// SSEReader reads events from an event-stream body. Lines split across
// network reads are buffered by the underlying bufio.Reader.
type SSEReader struct {
	r *bufio.Reader
}

// NewSSEReader wraps r.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next event. It returns io.EOF after the last event; an
// event not followed by a blank line is still dispatched at end of stream.
func (s *SSEReader) Next() (SSEEvent, error) {
	var (
		ev      SSEEvent
		data    strings.Builder
		hasData bool
		hasAny  bool
	)

	for {
		line, err := s.r.ReadString('\n')
		if err != nil && err != io.EOF {
			return SSEEvent{}, err
		}
		eof := err == io.EOF
		if eof && line == "" {
			if hasAny {
				ev.Data = data.String()
				return ev, nil
			}
			return SSEEvent{}, io.EOF
		}

		line = strings.TrimRight(line, "\r\n")

		// Empty line = event complete
		if line == "" {
			if hasAny {
				ev.Data = data.String()
				return ev, nil
			}
			if eof {
				return SSEEvent{}, io.EOF
			}
			continue
		}

		if strings.HasPrefix(line, ":") {
			if !hasAny {
				return SSEEvent{Comment: true, Data: strings.TrimSpace(line[1:])}, nil
			}
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			ev.Event = value
			hasAny = true
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
			hasAny = true
		case "id":
			ev.ID = value
			hasAny = true
		case "retry":
			if n, convErr := strconv.Atoi(value); convErr == nil {
				ev.Retry = n
			}
		}

		if eof {
			if hasAny {
				ev.Data = data.String()
				return ev, nil
			}
			return SSEEvent{}, io.EOF
		}
	}
}
