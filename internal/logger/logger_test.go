package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	lj "gopkg.in/natefinch/lumberjack.v2"

	"github.com/okkara/arbitr/internal/config"
)

func TestNewLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, config.LevelWarn)
	l.Debug("dropped")
	l.Info("dropped too")
	l.Warn("kept")
	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("debug/info should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "kept") {
		t.Fatalf("warn message missing: %q", out)
	}
}

func TestNewUnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "nonsense")
	l.Debug("hidden")
	l.Info("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("unexpected output: %q", buf.String())
	}
}

func TestWorkerWritersNilWithoutDir(t *testing.T) {
	outW, errW, err := WorkerWriters(config.FileConfig{}, "w-1")
	if err != nil {
		t.Fatalf("WorkerWriters: %v", err)
	}
	if outW != nil || errW != nil {
		t.Fatalf("expected nil writers when no dir configured")
	}
}

func TestWorkerWritersPathsAndDefaults(t *testing.T) {
	dir := t.TempDir()
	outW, errW, err := WorkerWriters(config.FileConfig{Dir: dir}, "w-7")
	if err != nil {
		t.Fatalf("WorkerWriters: %v", err)
	}
	ol, ok := outW.(*lj.Logger)
	if !ok {
		t.Fatalf("stdout writer is not lumberjack")
	}
	if ol.MaxSize != DefaultMaxSizeMB || ol.MaxBackups != DefaultMaxBackups || ol.MaxAge != DefaultMaxAgeDays {
		t.Fatalf("unexpected defaults: %+v", ol)
	}
	if _, err := outW.Write([]byte("out\n")); err != nil {
		t.Fatal(err)
	}
	if _, err := errW.Write([]byte("err\n")); err != nil {
		t.Fatal(err)
	}
	_ = outW.Close()
	_ = errW.Close()
	if _, err := os.Stat(filepath.Join(dir, "w-7.stdout.log")); err != nil {
		t.Fatalf("stdout log missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "w-7.stderr.log")); err != nil {
		t.Fatalf("stderr log missing: %v", err)
	}
}
