package arbitr

import (
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestRegisterAppAndList(t *testing.T) {
	if err := RegisterApp("facade-test", func() (http.Handler, error) {
		return http.NewServeMux(), nil
	}); err != nil {
		t.Fatalf("RegisterApp: %v", err)
	}
	found := false
	for _, n := range Apps() {
		if n == "facade-test" {
			found = true
		}
	}
	if !found {
		t.Fatalf("registered app missing from Apps(): %v", Apps())
	}
	if err := RegisterApp("facade-test", func() (http.Handler, error) { return nil, nil }); err == nil {
		t.Fatalf("duplicate RegisterApp succeeded")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	snap, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if snap.Workers != 1 || snap.App != "default" {
		t.Fatalf("defaults = %+v", snap)
	}
	if snap.HeartbeatTimeout <= snap.HeartbeatInterval {
		t.Fatalf("default heartbeat timings inconsistent: %+v", snap)
	}
}

func TestNewRejectsInvalidSnapshot(t *testing.T) {
	snap := Snapshot{Workers: 0}
	_, err := New(snap)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("New error = %v, want *ConfigError", err)
	}
	if cfgErr.Field != "workers" {
		t.Fatalf("field = %q, want workers", cfgErr.Field)
	}
}

func TestNewValidSnapshot(t *testing.T) {
	snap := Snapshot{
		Bind:              "127.0.0.1:0",
		Workers:           2,
		App:               "default",
		RequestTimeout:    time.Second,
		GracePeriod:       time.Second,
		StartupTimeout:    time.Second,
		HeartbeatInterval: 100 * time.Millisecond,
		HeartbeatTimeout:  time.Second,
		LogLevel:          "info",
	}
	p, err := New(snap)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	select {
	case <-p.Done():
		t.Fatalf("Done closed before Start")
	default:
	}
}

func TestNewHistorySinkDispatch(t *testing.T) {
	s, err := NewHistorySink("sqlite://file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("NewHistorySink: %v", err)
	}
	_ = s.Close()

	if _, err := NewHistorySink("redis://nope"); err == nil {
		t.Fatalf("unsupported DSN accepted")
	}
}
