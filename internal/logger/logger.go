package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	lj "gopkg.in/natefinch/lumberjack.v2"

	"github.com/okkara/arbitr/internal/config"
)

// Default rotation parameters for captured worker output.
const (
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 7
)

// New returns a slog.Logger writing colored text to w at the given level.
// Unknown levels fall back to info.
func New(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LevelDebug:
		lvl = slog.LevelDebug
	case config.LevelWarn:
		lvl = slog.LevelWarn
	case config.LevelError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	h := NewColorTextHandler(w, &slog.HandlerOptions{Level: lvl})
	return slog.New(h)
}

// Setup installs a process-wide default logger on stderr.
func Setup(level string) *slog.Logger {
	l := New(os.Stderr, level)
	slog.SetDefault(l)
	return l
}

// WorkerWriters returns rotating stdout/stderr writers for a worker under
// cfg.Dir, named <name>.stdout.log and <name>.stderr.log. Both are nil when
// no directory is configured (output then goes to the arbiter's stdio).
func WorkerWriters(cfg config.FileConfig, name string) (io.WriteCloser, io.WriteCloser, error) {
	if cfg.Dir == "" {
		return nil, nil, nil
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, nil, err
	}
	mk := func(stream string) io.WriteCloser {
		return &lj.Logger{
			Filename:   filepath.Join(cfg.Dir, fmt.Sprintf("%s.%s.log", name, stream)),
			MaxSize:    valOr(cfg.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(cfg.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(cfg.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   cfg.Compress,
		}
	}
	return mk("stdout"), mk("stderr"), nil
}

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
