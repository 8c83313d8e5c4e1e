// Package logging wraps a process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide logger. Init replaces it.
var Logger zerolog.Logger

// Level is a zerolog level.
type Level = zerolog.Level

const (
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
	FatalLevel = zerolog.FatalLevel
	Disabled   = zerolog.Disabled
)

// Config controls where logs go and how they look.
type Config struct {
	Level Level
	// Output receives console logs; nil means stderr. Use io.Discard to log
	// to the file only.
	Output io.Writer
	// Pretty switches the console to zerolog's human-readable writer.
	Pretty     bool
	TimeFormat string
	// LogToFile also writes JSON lines to a fresh file in LogDir, which
	// defaults to the temp directory.
	LogToFile bool
	LogDir    string
}

// DefaultConfig logs JSON at info level to stderr.
func DefaultConfig() Config {
	return Config{
		Level:      InfoLevel,
		Output:     os.Stderr,
		TimeFormat: time.RFC3339,
		LogDir:     os.TempDir(),
	}
}

// Init rebuilds Logger from cfg. A file opened by an earlier Init is
// closed first.
func Init(cfg Config) {
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = time.RFC3339
	}
	zerolog.TimeFieldFormat = cfg.TimeFormat

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: cfg.TimeFormat}
	}

	Close()
	if cfg.LogToFile {
		if f := openFile(cfg.LogDir); f != nil {
			out = zerolog.MultiLevelWriter(out, f)
		}
	}

	Logger = zerolog.New(out).Level(cfg.Level).With().Timestamp().Logger()
}

// ParseLevel maps a level name, in any case, to a Level. "warning" is
// accepted for warn. Unknown or empty names give InfoLevel.
func ParseLevel(name string) Level {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "warning" {
		return WarnLevel
	}
	lvl, err := zerolog.ParseLevel(name)
	if err != nil || name == "" {
		return InfoLevel
	}
	return lvl
}

func Debug() *zerolog.Event { return Logger.Debug() }
func Info() *zerolog.Event  { return Logger.Info() }
func Warn() *zerolog.Event  { return Logger.Warn() }
func Error() *zerolog.Event { return Logger.Error() }

// Fatal events exit the process once sent.
func Fatal() *zerolog.Event { return Logger.Fatal() }

// Component returns a logger whose entries carry component=name.
func Component(name string) *zerolog.Logger {
	l := Logger.With().Str("component", name).Logger()
	return &l
}

// Session returns a logger whose entries carry session=id.
func Session(id string) *zerolog.Logger {
	l := Logger.With().Str("session", id).Logger()
	return &l
}

func init() {
	cfg := DefaultConfig()
	cfg.Level = WarnLevel
	Init(cfg)
}
