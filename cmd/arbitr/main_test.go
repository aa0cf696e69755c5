package main

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/okkara/arbitr/internal/arbiter"
	"github.com/okkara/arbitr/internal/config"
)

func TestExitCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"config error", &config.Error{Field: "workers", Reason: "bad"}, exitConfig},
		{"bind error", &arbiter.BindError{Addr: ":80", Err: errors.New("in use")}, exitBind},
		{"other", errors.New("boom"), exitFatal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := exitCode(tc.err); got != tc.want {
				t.Fatalf("exitCode = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestCheckCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arbitr.toml")
	if err := os.WriteFile(path, []byte("bind = \":8088\"\nworkers = 3\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	root := buildRoot()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs([]string{"check", "--config", path})
	if err := root.Execute(); err != nil {
		t.Fatalf("check: %v", err)
	}
	if !strings.Contains(out.String(), `"workers": 3`) {
		t.Fatalf("check output missing workers: %s", out.String())
	}
}

func TestCheckCommandInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arbitr.toml")
	if err := os.WriteFile(path, []byte("workers = 0\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	root := buildRoot()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"check", "--config", path})
	err := root.Execute()
	var cfgErr *config.Error
	if !errors.As(err, &cfgErr) {
		t.Fatalf("check error = %v, want *config.Error", err)
	}
	if exitCode(err) != exitConfig {
		t.Fatalf("exitCode = %d, want %d", exitCode(err), exitConfig)
	}
}

func TestAPIClient(t *testing.T) {
	var lastShutdown string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/status":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"generation":1,"target_workers":2,"ready_workers":2}`))
		case "/reload":
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"reload already in progress"}`))
		case "/shutdown":
			lastShutdown = r.URL.RawQuery
			w.WriteHeader(http.StatusAccepted)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewAPIClient(srv.URL, 2*time.Second)

	st, err := c.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Generation != 1 || st.Ready != 2 {
		t.Fatalf("status = %+v", st)
	}

	err = c.Reload()
	if err == nil || !strings.Contains(err.Error(), "already in progress") {
		t.Fatalf("Reload error = %v", err)
	}

	if err := c.Shutdown(false); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if lastShutdown != "graceful=false" {
		t.Fatalf("shutdown query = %q", lastShutdown)
	}
}

func TestWorkerCommandHidden(t *testing.T) {
	root := buildRoot()
	for _, c := range root.Commands() {
		if c.Name() == "worker" {
			if !c.Hidden {
				t.Fatalf("worker subcommand should be hidden")
			}
			return
		}
	}
	t.Fatalf("worker subcommand not registered")
}
