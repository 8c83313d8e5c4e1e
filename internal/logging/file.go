package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"
)

// MaxLogFiles bounds how many files a log directory keeps.
const MaxLogFiles = 10

const filePrefix = "codeagent-"

var (
	fileMu  sync.Mutex
	logFile *os.File
)

// openFile starts a new timestamped log file in dir and prunes old ones.
// Failures are reported on stderr and leave console logging in place.
func openFile(dir string) *os.File {
	if dir == "" {
		dir = os.TempDir()
	}
	f, err := createFile(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		return nil
	}
	pruneLogFiles(dir, MaxLogFiles)

	fileMu.Lock()
	logFile = f
	fileMu.Unlock()
	return f
}

func createFile(dir string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	name := filePrefix + time.Now().Format("20060102-150405") + ".log"
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// pruneLogFiles removes all but the newest keep files. The timestamp in
// the name makes lexical order chronological.
func pruneLogFiles(dir string, keep int) {
	files, err := filepath.Glob(filepath.Join(dir, filePrefix+"*.log"))
	if err != nil || len(files) <= keep {
		return
	}
	slices.Sort(files)
	for _, old := range files[:len(files)-keep] {
		_ = os.Remove(old)
	}
}

// GetLogFilePath names the open log file, or "" without one.
func GetLogFilePath() string {
	fileMu.Lock()
	defer fileMu.Unlock()
	if logFile == nil {
		return ""
	}
	return logFile.Name()
}

// Close closes the log file. Console logging is unaffected.
func Close() {
	fileMu.Lock()
	defer fileMu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}
