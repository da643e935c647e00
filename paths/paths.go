// Package paths resolves where devmonitor keeps its files.
//
// Files are split by purpose:
//
//   - Config (XDG_CONFIG_HOME): config.yaml
//   - State (XDG_STATE_HOME): logs/ with the rotating client log
//
// Resolution order:
//  1. DEVMONITOR_HOME set → flat layout under that directory
//  2. ~/.devmonitor/ exists → flat layout under ~/.devmonitor/
//  3. XDG_CONFIG_HOME or XDG_STATE_HOME set → XDG layout
//  4. Otherwise → ~/.devmonitor/
package paths

import (
	"os"
	"path/filepath"
	"sync"
)

// HomeEnv overrides every other resolution rule when set.
const HomeEnv = "DEVMONITOR_HOME"

const appName = "devmonitor"

var (
	mu       sync.Mutex
	resolved *resolvedPaths
)

type resolvedPaths struct {
	configDir string
	stateDir  string
	flat      bool
}

func flatLayout(dir string) *resolvedPaths {
	return &resolvedPaths{configDir: dir, stateDir: dir, flat: true}
}

// resolve computes the path layout once and caches it.
func resolve() (*resolvedPaths, error) {
	mu.Lock()
	defer mu.Unlock()

	if resolved != nil {
		return resolved, nil
	}

	if dir := os.Getenv(HomeEnv); dir != "" {
		resolved = flatLayout(dir)
		return resolved, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	flatDir := filepath.Join(home, "."+appName)

	if info, err := os.Stat(flatDir); err == nil && info.IsDir() {
		resolved = flatLayout(flatDir)
		return resolved, nil
	}

	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	xdgState := os.Getenv("XDG_STATE_HOME")
	if xdgConfig != "" || xdgState != "" {
		if xdgConfig == "" {
			xdgConfig = filepath.Join(home, ".config")
		}
		if xdgState == "" {
			xdgState = filepath.Join(home, ".local", "state")
		}
		resolved = &resolvedPaths{
			configDir: filepath.Join(xdgConfig, appName),
			stateDir:  filepath.Join(xdgState, appName),
		}
		return resolved, nil
	}

	resolved = flatLayout(flatDir)
	return resolved, nil
}

// ConfigDir returns the directory holding config.yaml.
func ConfigDir() (string, error) {
	r, err := resolve()
	if err != nil {
		return "", err
	}
	return r.configDir, nil
}

// StateDir returns the directory for runtime state and logs.
func StateDir() (string, error) {
	r, err := resolve()
	if err != nil {
		return "", err
	}
	return r.stateDir, nil
}

// ConfigFilePath returns the full path to config.yaml.
func ConfigFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// LogsDir returns the directory for log files.
func LogsDir() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "logs"), nil
}

// IsFlatLayout returns true when config and state share one directory.
func IsFlatLayout() bool {
	r, err := resolve()
	if err != nil {
		return true
	}
	return r.flat
}

// Reset clears the cached path resolution. This is intended for testing only.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resolved = nil
}
