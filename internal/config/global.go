// Package config provides host-wide configuration loading for busd.
package config

import (
	"os"

	"github.com/BurntSushi/toml"

	"github.com/socratic-shell/symposium-sub000/internal/paths"
)

// GlobalConfig represents the host-wide busd configuration, loaded once at
// startup and consulted wherever a CLI flag was not explicitly supplied.
type GlobalConfig struct {
	// Daemon holds defaults for daemon invocations.
	Daemon DaemonConfig `toml:"daemon"`

	// Client holds defaults for client/stdio-bridge invocations.
	Client ClientConfig `toml:"client"`

	// LogLevel is the default slog level ("debug", "info", "warn", "error").
	LogLevel string `toml:"log_level"`
}

// DaemonConfig holds host-wide daemon defaults.
type DaemonConfig struct {
	// Prefix is decoded from the file but not consulted by any command:
	// --prefix is required on every invocation and has no fallback.
	Prefix string `toml:"prefix"`

	// IdleTimeoutSeconds is how long the daemon waits with zero peers before
	// shutting down. Zero means "use the package default" (30s).
	IdleTimeoutSeconds int `toml:"idle_timeout_seconds"`

	// HistorySize is the message-history ring capacity. Zero means "use the
	// package default" (1000).
	HistorySize int `toml:"history_size"`

	// MaxLineBytes caps the size of a single line read from any peer. Zero
	// means "use the package default" (1 MiB).
	MaxLineBytes int `toml:"max_line_bytes"`

	// DevLog, when true, additionally writes a rotating log file alongside
	// stderr output.
	DevLog bool `toml:"dev_log"`

	// AdminPrefixes lists identity prefixes permitted to issue #shutdown.
	// Empty means the control command is accepted from no one (default-off,
	// per spec §9's open question on the administrative gate).
	AdminPrefixes []string `toml:"admin_prefixes"`
}

// ClientConfig holds host-wide client defaults.
type ClientConfig struct {
	// IdentityPrefix is the default display label a client sends via
	// #identify when --identity-prefix is omitted.
	IdentityPrefix string `toml:"identity_prefix"`
}

// DefaultLogLevel is the log level used when none is configured.
const DefaultLogLevel = "info"

// GlobalConfigPath returns the path to the global busd config.
func GlobalConfigPath() (string, error) {
	return paths.ConfigPath()
}

// LoadGlobalConfig loads the global busd configuration.
// Returns nil config and nil error if the file doesn't exist.
func LoadGlobalConfig() (*GlobalConfig, error) {
	path, err := GlobalConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadGlobalConfigFromPath(path)
}

// LoadGlobalConfigFromPath loads the global config from a specific path.
// Returns nil config and nil error if the file doesn't exist.
func LoadGlobalConfigFromPath(path string) (*GlobalConfig, error) {
	var cfg GlobalConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return &cfg, nil
}

// GetLogLevel returns the configured log level or the default.
func (c *GlobalConfig) GetLogLevel() string {
	if c != nil && c.LogLevel != "" {
		return c.LogLevel
	}
	return DefaultLogLevel
}
