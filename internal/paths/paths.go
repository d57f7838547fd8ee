// Package paths resolves configuration and data directory locations for the
// stall CLI.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

// CWD-relative directory names.
const (
	DefaultConfigDirName = ".stall"
	DefaultDataDirName   = ".stall-db"
)

// Environment variable names for directory overrides.
const (
	EnvConfigDir = "STALL_CONFIG_DIR"
	EnvDataDir   = "STALL_DATA_DIR"
)

const appName = "stall"

// platformDir holds platform-detection functions that can be overridden in tests.
var platformDir = struct {
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
}{
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
}

// DefaultConfigDir returns the per-user configuration directory.
//
// Linux:   $XDG_CONFIG_HOME/stall (fallback ~/.config/stall)
// macOS:   ~/Library/Application Support/stall
// Windows: %APPDATA%/stall
func DefaultConfigDir() (string, error) {
	if runtime.GOOS == "linux" {
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, appName), nil
		}
		home, err := platformDir.homeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".config", appName), nil
	}
	dir, err := platformDir.userConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appName), nil
}

// DefaultDataDir returns the per-user data directory.
//
// Linux:   $XDG_DATA_HOME/stall (fallback ~/.local/share/stall)
// macOS and Windows: the same directory as DefaultConfigDir.
func DefaultDataDir() (string, error) {
	if runtime.GOOS == "linux" {
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, appName), nil
		}
		home, err := platformDir.homeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".local", "share", appName), nil
	}
	return DefaultConfigDir()
}

// ResolveConfigDir returns the configuration directory following the chain
// flag > STALL_CONFIG_DIR > default. The default is $(CWD)/.stall, or
// DefaultConfigDir when user is set.
func ResolveConfigDir(flag string, user bool) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if env := os.Getenv(EnvConfigDir); env != "" {
		return filepath.Abs(env)
	}
	if user {
		return DefaultConfigDir()
	}
	return cwdJoin(DefaultConfigDirName)
}

// ResolveDataDir returns the data directory following the chain
// flag > config.yaml data_dir > STALL_DATA_DIR > default. The default is
// $(CWD)/.stall-db, or DefaultDataDir when user is set.
func ResolveDataDir(flag, configYAMLValue string, user bool) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if configYAMLValue != "" {
		return filepath.Abs(configYAMLValue)
	}
	if env := os.Getenv(EnvDataDir); env != "" {
		return filepath.Abs(env)
	}
	if user {
		return DefaultDataDir()
	}
	return cwdJoin(DefaultDataDirName)
}

func cwdJoin(name string) (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, name), nil
}
