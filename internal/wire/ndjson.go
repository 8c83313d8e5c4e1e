package wire

import (
	"bufio"
	"bytes"
	"io"
)

// LineReader yields one newline-delimited JSON object per call.
type LineReader struct {
	r *bufio.Reader
}

// NewLineReader wraps r.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next non-blank line without its terminator. A final line
// lacking a newline is returned before io.EOF.
func (l *LineReader) Next() ([]byte, error) {
	for {
		line, err := l.r.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return nil, err
		}
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) > 0 {
			return trimmed, nil
		}
		if err == io.EOF {
			return nil, io.EOF
		}
	}
}
