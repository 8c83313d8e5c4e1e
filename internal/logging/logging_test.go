package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capture points the global logger at a buffer for one test.
func capture(t *testing.T, level Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	Init(Config{Level: level, Output: &buf})
	t.Cleanup(func() {
		Close()
		Init(Config{Level: Disabled})
	})
	return &buf
}

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"DEBUG":     DebugLevel,
		"  debug  ": DebugLevel,
		"info":      InfoLevel,
		"WARN":      WarnLevel,
		"warning":   WarnLevel,
		"error":     ErrorLevel,
		"FATAL":     FatalLevel,
		"":          InfoLevel,
		"verbose":   InfoLevel,
	}
	for input, want := range tests {
		assert.Equal(t, want, ParseLevel(input), "ParseLevel(%q)", input)
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t, WarnLevel)

	Debug().Msg("debug message")
	Info().Msg("info message")
	Warn().Msg("warn message")
	Error().Msg("error message")

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "warn message")
	assert.Contains(t, out, "error message")
}

func TestStructuredFields(t *testing.T) {
	buf := capture(t, InfoLevel)

	Info().Str("provider", "anthropic").Int("attempt", 2).Msg("retrying request")

	entries := lines(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "info", entries[0]["level"])
	assert.Equal(t, "anthropic", entries[0]["provider"])
	assert.EqualValues(t, 2, entries[0]["attempt"])
	assert.Equal(t, "retrying request", entries[0]["message"])
	assert.Contains(t, entries[0], "time")
}

func TestScopedLoggers(t *testing.T) {
	buf := capture(t, DebugLevel)

	Session("01JABC").Debug().Str("to", "StreamingText").Msg("turn state")
	Component("mcp").Info().Str("server", "calc").Msg("mcp server connected")

	entries := lines(t, buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "01JABC", entries[0]["session"])
	assert.Equal(t, "StreamingText", entries[0]["to"])
	assert.Equal(t, "mcp", entries[1]["component"])
	assert.NotContains(t, entries[1], "session")
}

func TestPrettyOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, Output: &buf, Pretty: true})
	t.Cleanup(func() { Init(Config{Level: Disabled}) })

	Info().Msg("pretty test")

	assert.Contains(t, buf.String(), "pretty test")
	assert.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())), "console writer output is not JSON")
}

func TestLogToFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "log")
	var console bytes.Buffer
	Init(Config{Level: InfoLevel, Output: &console, LogToFile: true, LogDir: dir})
	t.Cleanup(func() {
		Close()
		Init(Config{Level: Disabled})
	})

	Info().Msg("file log test")

	path := GetLogFilePath()
	require.NotEmpty(t, path)
	assert.Equal(t, dir, filepath.Dir(path))
	assert.True(t, strings.HasPrefix(filepath.Base(path), "codeagent-"))
	assert.True(t, strings.HasSuffix(path, ".log"))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "file log test")
	assert.Contains(t, console.String(), "file log test")
}

func TestCloseStopsFileLogging(t *testing.T) {
	Init(Config{Level: InfoLevel, Output: &bytes.Buffer{}, LogToFile: true, LogDir: t.TempDir()})
	require.NotEmpty(t, GetLogFilePath())

	Close()
	assert.Empty(t, GetLogFilePath())

	Init(Config{Level: InfoLevel, Output: &bytes.Buffer{}})
	assert.Empty(t, GetLogFilePath())
	Init(Config{Level: Disabled})
}

func TestPruneLogFiles(t *testing.T) {
	dir := t.TempDir()
	for i := 1; i <= 5; i++ {
		name := fmt.Sprintf("codeagent-20260101-00000%d.log", i)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.log"), nil, 0644))

	pruneLogFiles(dir, 2)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{
		"codeagent-20260101-000004.log",
		"codeagent-20260101-000005.log",
		"other.log",
	}, names)
}

func TestInitWithNilOutput(t *testing.T) {
	assert.NotPanics(t, func() {
		Init(Config{Level: Disabled})
		Info().Msg("discarded")
	})
}
