// Package config loads Agent Mail's configuration from defaults, an
// optional TOML file, and environment variable overrides, in that order
// of increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds all configuration for the Agent Mail server.
type Config struct {
	Storage    StorageConfig    `toml:"storage"`
	Archive    ArchiveConfig    `toml:"archive"`
	Cache      CacheConfig      `toml:"cache"`
	Server     ServerConfig     `toml:"server"`
	Transport  TransportConfig  `toml:"transport"`
	Guard      GuardConfig      `toml:"guard"`
	Escalation EscalationConfig `toml:"escalation"`
	Log        LogConfig        `toml:"log"`
}

// StorageConfig locates the embedded SQLite database.
type StorageConfig struct {
	Path string `toml:"path"` // default: <workspace>/data/<name>.db
}

// ArchiveConfig locates the Git-backed audit archive and the identity used
// to author commits into it.
type ArchiveConfig struct {
	Path            string `toml:"path"`
	CommitterName   string `toml:"committer_name"`
	CommitterEmail  string `toml:"committer_email"`
}

// CacheConfig bounds the repo-handle cache (component C).
type CacheConfig struct {
	RepoCapacity int `toml:"repo_capacity"`
}

// ServerConfig holds process metadata reported on the wire.
type ServerConfig struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// TransportConfig holds transport-related settings.
type TransportConfig struct {
	// Mode selects the transport: "stdio" (default) or "http".
	Mode string `toml:"mode"`
	// Port is the HTTP listen port. Only used when Mode is "http".
	Port string `toml:"port"`
	// Host is the HTTP listen address. Only used when Mode is "http".
	Host string `toml:"host"`
	// CORSOrigins is a comma-separated list of allowed CORS origins.
	CORSOrigins string `toml:"cors_origins"`
}

// GuardConfig mirrors the environment signals the precommit guard (§4.L)
// reads, so the long-lived server can report its expected behavior.
type GuardConfig struct {
	WorktreesEnabled   bool   `toml:"worktrees_enabled"`
	GitIdentityEnabled bool   `toml:"git_identity_enabled"`
	Mode               string `toml:"mode"` // enforce|warn|advisory
}

// EscalationConfig controls the overdue-ACK sweep (component I).
type EscalationConfig struct {
	ThresholdHours int    `toml:"threshold_hours"`
	Channel        string `toml:"channel"` // log|file_reservation|overseer
	IntervalMinutes int   `toml:"interval_minutes"`
	DryRun         bool   `toml:"dry_run"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `toml:"level"` // debug, info, warn, error
}

// Load creates a Config by reading from a TOML config file and environment
// variables. Precedence: environment variables > config file > defaults.
//
// Config file search order (first found wins):
//  1. Path passed via the configPath parameter, when non-empty
//  2. AGENTMAIL_CONFIG environment variable
//  3. ./agentmail.toml (current directory)
//  4. ~/.config/agentmail/agentmail.toml (XDG-style)
//
// All fields are optional in the config file.
func Load(configPath string) (*Config, error) {
	cfg := &Config{
		Storage: StorageConfig{Path: "data/agentmail.db"},
		Archive: ArchiveConfig{
			Path:           "archive",
			CommitterName:  "agent-mail",
			CommitterEmail: "agent-mail@localhost",
		},
		Cache: CacheConfig{RepoCapacity: 8},
		Server: ServerConfig{
			Name:    "agentmail",
			Version: "0.1.0",
		},
		Transport: TransportConfig{
			Mode:        "stdio",
			Port:        "8383",
			Host:        "0.0.0.0",
			CORSOrigins: "*",
		},
		Guard: GuardConfig{
			Mode: "enforce",
		},
		Escalation: EscalationConfig{ThresholdHours: 24, Channel: "log", IntervalMinutes: 15},
		Log:        LogConfig{Level: "info"},
	}

	if err := cfg.loadFile(configPath); err != nil {
		return nil, err
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile finds and parses the TOML config file. If no file is found,
// this is a no-op (config file is optional).
func (c *Config) loadFile(configPath string) error {
	path := resolveConfigPath(configPath)
	if path == "" {
		return nil
	}

	if _, err := toml.DecodeFile(path, c); err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	return nil
}

func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}

	if p := os.Getenv("AGENTMAIL_CONFIG"); p != "" {
		return p
	}

	if _, err := os.Stat("agentmail.toml"); err == nil {
		return "agentmail.toml"
	}

	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, ".config", "agentmail", "agentmail.toml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}

// applyEnv overlays environment variables on top of existing config values.
// An env var only takes effect if it is non-empty.
func (c *Config) applyEnv() {
	envOverride("DATABASE_PATH", &c.Storage.Path)
	envOverride("AGENTMAIL_ARCHIVE_PATH", &c.Archive.Path)
	envOverride("AGENTMAIL_TRANSPORT", &c.Transport.Mode)
	envOverride("AGENTMAIL_PORT", &c.Transport.Port)
	envOverride("AGENTMAIL_HOST", &c.Transport.Host)
	envOverride("AGENTMAIL_CORS_ORIGINS", &c.Transport.CORSOrigins)
	envOverride("AGENTMAIL_LOG_LEVEL", &c.Log.Level)
	envOverride("AGENT_MAIL_GUARD_MODE", &c.Guard.Mode)

	if v := os.Getenv("WORKTREES_ENABLED"); v != "" {
		c.Guard.WorktreesEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("GIT_IDENTITY_ENABLED"); v != "" {
		c.Guard.GitIdentityEnabled = v == "true" || v == "1"
	}
}

// Validate checks that required fields are present.
func (c *Config) Validate() error {
	switch c.Transport.Mode {
	case "stdio", "http":
	default:
		return fmt.Errorf("invalid transport mode: %q (must be \"stdio\" or \"http\")", c.Transport.Mode)
	}
	switch c.Guard.Mode {
	case "enforce", "warn", "advisory":
	default:
		return fmt.Errorf("invalid guard mode: %q (must be enforce, warn, or advisory)", c.Guard.Mode)
	}
	switch c.Escalation.Channel {
	case "log", "file_reservation", "overseer":
	default:
		return fmt.Errorf("invalid escalation channel: %q (must be log, file_reservation, or overseer)", c.Escalation.Channel)
	}
	if c.Cache.RepoCapacity <= 0 {
		return fmt.Errorf("cache.repo_capacity must be positive")
	}
	return nil
}

// envOverride sets *dst to the value of the named env var, if it is non-empty.
func envOverride(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
