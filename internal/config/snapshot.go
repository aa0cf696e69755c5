package config

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// Log levels accepted in configuration.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Error is a field-level configuration validation failure. An invalid
// snapshot is never applied; the previous snapshot stays in effect.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: invalid %s: %s", e.Field, e.Reason)
}

// FileConfig describes rotation for captured worker output.
// Rotation parameters follow lumberjack semantics.
type FileConfig struct {
	Dir        string `json:"dir" mapstructure:"dir"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// Limits bounds worker resource usage. Zero disables a check.
type Limits struct {
	MaxRSSMB   int `json:"max_rss_mb" mapstructure:"max_rss_mb"`
	MaxOpenFDs int `json:"max_open_fds" mapstructure:"max_open_fds"`
}

// Snapshot is the immutable configuration in effect for one generation of
// workers. A reload produces a new Snapshot; it is never mutated in place.
type Snapshot struct {
	Bind              string        `json:"bind" mapstructure:"bind"`
	AdminBind         string        `json:"admin_bind" mapstructure:"admin_bind"`
	Workers           int           `json:"workers" mapstructure:"workers"`
	App               string        `json:"app" mapstructure:"app"`
	RequestTimeout    time.Duration `json:"request_timeout" mapstructure:"request_timeout"`
	GracePeriod       time.Duration `json:"grace_period" mapstructure:"grace_period"`
	StartupTimeout    time.Duration `json:"startup_timeout" mapstructure:"startup_timeout"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval" mapstructure:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `json:"heartbeat_timeout" mapstructure:"heartbeat_timeout"`
	LogLevel          string        `json:"log_level" mapstructure:"log_level"`
	HistoryDSN        string        `json:"history_dsn" mapstructure:"history_dsn"`
	WatchConfig       bool          `json:"watch_config" mapstructure:"watch_config"`
	Log               FileConfig    `json:"log" mapstructure:"log"`
	Limits            Limits        `json:"limits" mapstructure:"limits"`
}

// Default values applied by the loader before validation.
const (
	DefaultBind              = "127.0.0.1:8000"
	DefaultWorkers           = 1
	DefaultApp               = "default"
	DefaultRequestTimeout    = 30 * time.Second
	DefaultGracePeriod       = 30 * time.Second
	DefaultStartupTimeout    = 10 * time.Second
	DefaultHeartbeatInterval = 1 * time.Second
	DefaultHeartbeatTimeout  = 10 * time.Second
)

// Validate checks the snapshot and returns a *Error naming the first
// offending field. The bind address must parse; an actual bind attempt is
// the arbiter's job (that failure is a BindError, not a config error).
func (s Snapshot) Validate() error {
	if s.Workers < 1 {
		return &Error{Field: "workers", Reason: fmt.Sprintf("must be >= 1, got %d", s.Workers)}
	}
	if s.Bind == "" {
		return &Error{Field: "bind", Reason: "address required"}
	}
	if _, _, err := net.SplitHostPort(s.Bind); err != nil {
		return &Error{Field: "bind", Reason: err.Error()}
	}
	if s.AdminBind != "" {
		if _, _, err := net.SplitHostPort(s.AdminBind); err != nil {
			return &Error{Field: "admin_bind", Reason: err.Error()}
		}
	}
	if s.App == "" {
		return &Error{Field: "app", Reason: "application entry required"}
	}
	if s.RequestTimeout <= 0 {
		return &Error{Field: "request_timeout", Reason: "must be positive"}
	}
	if s.GracePeriod <= 0 {
		return &Error{Field: "grace_period", Reason: "must be positive"}
	}
	if s.StartupTimeout <= 0 {
		return &Error{Field: "startup_timeout", Reason: "must be positive"}
	}
	if s.HeartbeatInterval <= 0 {
		return &Error{Field: "heartbeat_interval", Reason: "must be positive"}
	}
	if s.HeartbeatTimeout <= s.HeartbeatInterval {
		return &Error{Field: "heartbeat_timeout", Reason: "must exceed heartbeat_interval"}
	}
	switch strings.ToLower(s.LogLevel) {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
	default:
		return &Error{Field: "log_level", Reason: fmt.Sprintf("unknown level %q", s.LogLevel)}
	}
	return nil
}
