package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "codeagent"

// Paths are the per-user directories codeagent reads and writes.
type Paths struct {
	Data   string
	Config string
	Cache  string
	State  string
}

// xdgDir resolves one XDG base directory. On Windows every kind lives
// under %APPDATA%, with the cache in a subdirectory.
func xdgDir(env string, unix ...string) string {
	if v := os.Getenv(env); v != "" {
		return filepath.Join(v, appName)
	}
	if runtime.GOOS == "windows" {
		base := filepath.Join(os.Getenv("APPDATA"), appName)
		if env == "XDG_CACHE_HOME" {
			return filepath.Join(base, "cache")
		}
		return base
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	return filepath.Join(append(append([]string{home}, unix...), appName)...)
}

// GetPaths resolves the directories from the XDG environment, falling
// back to the usual locations under $HOME.
func GetPaths() *Paths {
	return &Paths{
		Data:   xdgDir("XDG_DATA_HOME", ".local", "share"),
		Config: xdgDir("XDG_CONFIG_HOME", ".config"),
		Cache:  xdgDir("XDG_CACHE_HOME", ".cache"),
		State:  xdgDir("XDG_STATE_HOME", ".local", "state"),
	}
}

// EnsurePaths creates the directories that do not exist yet.
func (p *Paths) EnsurePaths() error {
	for _, dir := range [...]string{p.Data, p.Config, p.Cache, p.State} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// StoragePath is the default root of the session store.
func (p *Paths) StoragePath() string { return filepath.Join(p.Data, "storage") }

// LogPath is where log files go when file logging is on.
func (p *Paths) LogPath() string { return filepath.Join(p.State, "log") }
