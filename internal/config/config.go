package config

import (
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Overrides carries values from CLI flags that take precedence over the file
// and the environment. Zero values mean "not set".
type Overrides struct {
	Bind      string
	AdminBind string
	Workers   int
	App       string
	LogLevel  string
}

// Load builds a validated Snapshot from an optional TOML file, the PORT
// environment variable, and flag overrides. Precedence, lowest first:
// built-in defaults, config file, PORT, flags.
func Load(path string, ov Overrides) (Snapshot, error) {
	s := Snapshot{
		Workers:           DefaultWorkers,
		App:               DefaultApp,
		RequestTimeout:    DefaultRequestTimeout,
		GracePeriod:       DefaultGracePeriod,
		StartupTimeout:    DefaultStartupTimeout,
		HeartbeatInterval: DefaultHeartbeatInterval,
		HeartbeatTimeout:  DefaultHeartbeatTimeout,
		LogLevel:          LevelInfo,
	}
	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return Snapshot{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := v.Unmarshal(&s); err != nil {
			return Snapshot{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if s.Bind == "" {
		if port := os.Getenv("PORT"); port != "" {
			s.Bind = net.JoinHostPort("", port)
		} else {
			s.Bind = DefaultBind
		}
	}
	applyOverrides(&s, ov)
	s.LogLevel = strings.ToLower(s.LogLevel)
	if err := s.Validate(); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

func applyOverrides(s *Snapshot, ov Overrides) {
	if ov.Bind != "" {
		s.Bind = ov.Bind
	}
	if ov.AdminBind != "" {
		s.AdminBind = ov.AdminBind
	}
	if ov.Workers > 0 {
		s.Workers = ov.Workers
	}
	if ov.App != "" {
		s.App = ov.App
	}
	if ov.LogLevel != "" {
		s.LogLevel = ov.LogLevel
	}
}
