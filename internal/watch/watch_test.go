package watch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arbitr.toml")
	if err := os.WriteFile(path, []byte("workers = 1\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	var reloads atomic.Int32
	w := New(path, func(ctx context.Context) error {
		reloads.Add(1)
		return nil
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	w.debounce = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	// A burst of writes collapses into one reload.
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte("workers = 2\n"), 0o600); err != nil {
			t.Fatalf("rewrite: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && reloads.Load() == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if got := reloads.Load(); got != 1 {
		t.Fatalf("reloads = %d, want 1", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("watcher did not stop on cancel")
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arbitr.toml")
	if err := os.WriteFile(path, []byte(""), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	var reloads atomic.Int32
	w := New(path, func(ctx context.Context) error {
		reloads.Add(1)
		return nil
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	w.debounce = 30 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write other: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if got := reloads.Load(); got != 0 {
		t.Fatalf("reloads = %d for unrelated file, want 0", got)
	}
}
