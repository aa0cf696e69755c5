package arbiter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/okkara/arbitr/internal/worker"
)

// The test binary doubles as the worker executable: ExecLauncher re-execs
// os.Executable(), which is this binary, so TestMain dispatches to the
// worker runtime when the marker env var is present.
func TestMain(m *testing.M) {
	if os.Getenv("ARBITR_TEST_WORKER") == "1" {
		if err := worker.Run(context.Background()); err != nil {
			fmt.Fprintln(os.Stderr, "worker:", err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func TestRealProcessPool(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping real fork/exec in short mode")
	}
	t.Setenv("ARBITR_TEST_WORKER", "1")

	snap := testSnap(2)
	snap.HeartbeatInterval = 100 * time.Millisecond
	snap.HeartbeatTimeout = 5 * time.Second
	snap.StartupTimeout = 15 * time.Second
	snap.GracePeriod = 5 * time.Second

	a, err := New(snap)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx, false)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := a.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	st := waitStatus(t, a, func(st Status) bool { return st.Ready == 2 }, "2 real workers ready")

	// Requests land on real worker processes sharing the socket.
	resp, err := http.Get(fmt.Sprintf("http://%s/health", st.Addr))
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "OK") {
		t.Fatalf("/health = %d %q", resp.StatusCode, body)
	}

	for _, w := range st.Workers {
		if w.PID <= 0 || w.PID == os.Getpid() {
			t.Fatalf("worker pid %d is not a child process", w.PID)
		}
	}

	sctx, scancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer scancel()
	if err := a.Shutdown(sctx, true); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatalf("Done not closed")
	}
}
