// Package paths provides a single source of truth for busd file paths.
// All path helpers honor environment variable overrides for isolated testing.
//
// Path resolution precedence:
//  1. Specific env vars (BUSD_SOCKET_PATH, BUSD_PID_PATH) take highest priority
//  2. BUSD_DIR env var sets the base directory (derives socket/pid/log/config paths)
//  3. Default behavior (~/.busd, ~/.config/busd) when no env vars are set
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// Environment variable names for path overrides.
const (
	// EnvBusdDir is the base directory override (e.g., /tmp/busd-e2e).
	// When set, socket, PID, log, and config paths derive from this directory.
	EnvBusdDir = "BUSD_DIR"

	// EnvSocketPath overrides the socket path directly.
	EnvSocketPath = "BUSD_SOCKET_PATH"

	// EnvPIDPath overrides the PID file path directly.
	EnvPIDPath = "BUSD_PID_PATH"
)

// BaseDir returns the busd base directory (~/.busd by default).
// Honors the BUSD_DIR environment variable.
func BaseDir() (string, error) {
	if dir := os.Getenv(EnvBusdDir); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".busd"), nil
}

// ConfigDir returns the busd config directory (~/.config/busd by default).
// When BUSD_DIR is set, returns BUSD_DIR/config instead.
func ConfigDir() (string, error) {
	if dir := os.Getenv(EnvBusdDir); dir != "" {
		return filepath.Join(dir, "config"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "busd"), nil
}

// ConfigPath returns the path to the global busd config file.
// (~/.config/busd/config.toml by default, or BUSD_DIR/config/config.toml).
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// SocketPath returns the daemon socket path for the given prefix.
// Precedence: BUSD_SOCKET_PATH > BUSD_DIR/{prefix}.sock > {tmp}/{prefix}.sock
//
// The bare default (no BUSD_DIR) binds under the OS temp directory, matching
// the spec's "{tmp}/{prefix}.sock" socket path rule; BUSD_DIR exists so tests
// and multiple concurrent daemons on one host can isolate their sockets.
func SocketPath(prefix string) string {
	if path := os.Getenv(EnvSocketPath); path != "" {
		return path
	}
	if dir := os.Getenv(EnvBusdDir); dir != "" {
		return filepath.Join(dir, fmt.Sprintf("%s.sock", prefix))
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("%s.sock", prefix))
}

// PIDPath returns the daemon PID file path for the given prefix.
// Precedence: BUSD_PID_PATH > BUSD_DIR/{prefix}.pid > ~/.busd/{prefix}.pid
func PIDPath(prefix string) string {
	if path := os.Getenv(EnvPIDPath); path != "" {
		return path
	}
	base, err := BaseDir()
	if err != nil {
		return filepath.Join(os.TempDir(), fmt.Sprintf("%s.pid", prefix))
	}
	return filepath.Join(base, fmt.Sprintf("%s.pid", prefix))
}

// LogPath returns the daemon log file path.
// If BUSD_DIR is set, uses $BUSD_DIR/busd.log. Otherwise uses ~/.busd/busd.log.
func LogPath() string {
	if dir := os.Getenv(EnvBusdDir); dir != "" {
		return filepath.Join(dir, "busd.log")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "busd.log")
	}
	return filepath.Join(home, ".busd", "busd.log")
}
