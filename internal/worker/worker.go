// Package worker is the child side of the pre-fork model. A worker process
// reconstructs the shared accept socket from its inherited descriptor,
// resolves the configured application handler, serves HTTP, and reports its
// lifecycle over the heartbeat pipe.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/okkara/arbitr/internal/app"
	"github.com/okkara/arbitr/internal/config"
	"github.com/okkara/arbitr/internal/logger"
	"github.com/okkara/arbitr/internal/netutil"
)

// Identity is who this worker is within the pool.
type Identity struct {
	ID         int
	Generation int
}

// IdentityFromEnv reads the identity the arbiter stamped on this process.
func IdentityFromEnv() (Identity, error) {
	id, err := strconv.Atoi(os.Getenv(netutil.EnvWorkerID))
	if err != nil {
		return Identity{}, fmt.Errorf("parse %s: %w", netutil.EnvWorkerID, err)
	}
	gen, err := strconv.Atoi(os.Getenv(netutil.EnvGeneration))
	if err != nil {
		return Identity{}, fmt.Errorf("parse %s: %w", netutil.EnvGeneration, err)
	}
	return Identity{ID: id, Generation: gen}, nil
}

// Worker serves one application entry on a shared listener.
type Worker struct {
	ident   Identity
	snap    config.Snapshot
	ln      net.Listener
	hb      *Heartbeat
	log     *slog.Logger
	handler http.Handler

	drainOnce sync.Once
	drain     chan struct{}
}

// New resolves the snapshot's application entry and prepares the serving
// stack. The handler is wrapped with panic recovery and the request timeout.
func New(ident Identity, snap config.Snapshot, ln net.Listener, hb *Heartbeat, log *slog.Logger) (*Worker, error) {
	h, err := app.Resolve(snap.App)
	if err != nil {
		return nil, err
	}
	w := &Worker{
		ident: ident,
		snap:  snap,
		ln:    ln,
		hb:    hb,
		log:   log,
		drain: make(chan struct{}),
	}
	w.handler = w.wrap(h)
	return w, nil
}

// Drain asks the worker to stop accepting and finish in-flight requests.
// Safe to call more than once and from any goroutine.
func (w *Worker) Drain(reason string) {
	w.drainOnce.Do(func() {
		w.log.Info("drain requested", "reason", reason)
		close(w.drain)
	})
}

// Serve runs until the worker drains, the context is cancelled, or the
// server fails. Each worker owns its dup of the shared socket, so shutting
// this server down never disturbs sibling workers.
func (w *Worker) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w.hb.Set(netutil.BeatStarting)
	go w.hb.Loop(ctx)

	srv := &http.Server{
		Handler:           w.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(w.ln) }()

	mon := NewMonitor(w.snap.Limits, w.log, func(reason string) { w.Drain(reason) })
	go mon.Run(ctx)

	w.hb.Set(netutil.BeatReady)
	w.log.Info("serving", "app", w.snap.App, "addr", w.ln.Addr().String())

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		w.hb.Set(netutil.BeatDraining)
		return srv.Close()
	case <-w.drain:
	}

	w.hb.Set(netutil.BeatDraining)
	w.log.Info("draining", "grace", w.snap.GracePeriod.String())
	sctx, scancel := context.WithTimeout(context.Background(), w.snap.GracePeriod)
	defer scancel()
	if err := srv.Shutdown(sctx); err != nil {
		w.log.Warn("drain incomplete, closing", "error", err)
		return srv.Close()
	}
	return nil
}

// wrap adds panic recovery and the per-request timeout around the
// application handler. A panicking request is answered with 500 and logged;
// the process stays up.
func (w *Worker) wrap(h http.Handler) http.Handler {
	h = http.TimeoutHandler(h, w.snap.RequestTimeout, "request timed out\n")
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				w.log.Error("request handler panicked",
					"method", r.Method, "path", r.URL.Path, "panic", rec)
				http.Error(rw, "internal server error", http.StatusInternalServerError)
			}
		}()
		h.ServeHTTP(rw, r)
	})
}

// Run is the worker process entry point invoked by the hidden subcommand.
// It reads the snapshot from stdin, adopts the inherited listener and
// heartbeat pipe, and serves until told to stop. SIGTERM drains; SIGINT and
// SIGQUIT stop immediately.
func Run(ctx context.Context) error {
	ident, err := IdentityFromEnv()
	if err != nil {
		return err
	}
	snap, err := readSnapshot(os.Stdin)
	if err != nil {
		return err
	}

	log := logger.New(os.Stderr, snap.LogLevel).With(
		"worker", ident.ID, "generation", ident.Generation, "pid", os.Getpid())

	ln, err := netutil.Inherited(netutil.ListenerFD, "listener")
	if err != nil {
		return err
	}
	hbFile := os.NewFile(netutil.HeartbeatFD, "heartbeat")
	if hbFile == nil {
		return fmt.Errorf("no inherited heartbeat pipe on fd %d", netutil.HeartbeatFD)
	}
	defer func() { _ = hbFile.Close() }()

	hb := NewHeartbeat(hbFile, snap.HeartbeatInterval)
	w, err := New(ident, snap, ln, hb, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sigc := make(chan os.Signal, 2)
	signal.Notify(sigc, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer signal.Stop(sigc)
	go func() {
		for sig := range sigc {
			if sig == syscall.SIGTERM {
				w.Drain("terminate signal")
				continue
			}
			log.Warn("immediate stop", "signal", sig.String())
			cancel()
			return
		}
	}()

	return w.Serve(ctx)
}

func readSnapshot(r io.Reader) (config.Snapshot, error) {
	var snap config.Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return snap, fmt.Errorf("decode snapshot: %w", err)
	}
	if err := snap.Validate(); err != nil {
		return snap, err
	}
	return snap, nil
}
