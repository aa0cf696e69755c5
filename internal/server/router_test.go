package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/okkara/arbitr/internal/arbiter"
	"github.com/okkara/arbitr/internal/config"
)

type fakeCtrl struct {
	mu        sync.Mutex
	status    arbiter.Status
	statusErr error
	reloadErr error
	shutdowns []bool
}

func (f *fakeCtrl) Status(ctx context.Context) (arbiter.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.statusErr
}

func (f *fakeCtrl) Reload(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reloadErr
}

func (f *fakeCtrl) Shutdown(ctx context.Context, graceful bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns = append(f.shutdowns, graceful)
	return nil
}

func (f *fakeCtrl) shutdownCalls() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.shutdowns...)
}

func doReq(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthzReflectsReadiness(t *testing.T) {
	ctrl := &fakeCtrl{status: arbiter.Status{Ready: 2, Target: 2}}
	h := NewRouter(ctrl).Handler()

	w := doReq(t, h, http.MethodGet, "/healthz")
	if w.Code != http.StatusOK {
		t.Fatalf("healthy: code = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Fatalf("healthy body = %s", w.Body.String())
	}

	ctrl.mu.Lock()
	ctrl.status.Ready = 0
	ctrl.mu.Unlock()
	w = doReq(t, h, http.MethodGet, "/healthz")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("degraded: code = %d", w.Code)
	}
}

func TestStatusReturnsPoolView(t *testing.T) {
	ctrl := &fakeCtrl{status: arbiter.Status{
		Generation: 2,
		Target:     3,
		Ready:      3,
		Workers: []arbiter.WorkerInfo{
			{ID: 5, PID: 4321, Generation: 2, State: "ready"},
		},
	}}
	h := NewRouter(ctrl).Handler()

	w := doReq(t, h, http.MethodGet, "/status")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	var got arbiter.Status
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Generation != 2 || got.Ready != 3 || len(got.Workers) != 1 || got.Workers[0].PID != 4321 {
		t.Fatalf("status = %+v", got)
	}
}

func TestReloadStatusCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"ok", nil, http.StatusOK},
		{"invalid config", &config.Error{Field: "workers", Reason: "must be >= 1"}, http.StatusBadRequest},
		{"bind conflict", &arbiter.BindError{Addr: ":80", Err: context.DeadlineExceeded}, http.StatusConflict},
		{"already reloading", arbiter.ErrReloadInProgress, http.StatusConflict},
		{"shutting down", arbiter.ErrShuttingDown, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewRouter(&fakeCtrl{reloadErr: tc.err}).Handler()
			w := doReq(t, h, http.MethodPost, "/reload")
			if w.Code != tc.code {
				t.Fatalf("code = %d, want %d (body %s)", w.Code, tc.code, w.Body.String())
			}
		})
	}
}

func TestShutdownAcceptedAndDispatched(t *testing.T) {
	ctrl := &fakeCtrl{}
	h := NewRouter(ctrl).Handler()

	w := doReq(t, h, http.MethodPost, "/shutdown")
	if w.Code != http.StatusAccepted {
		t.Fatalf("code = %d", w.Code)
	}
	waitShutdowns(t, ctrl, 1)
	if calls := ctrl.shutdownCalls(); !calls[0] {
		t.Fatalf("default shutdown was not graceful")
	}

	w = doReq(t, h, http.MethodPost, "/shutdown?graceful=false")
	if w.Code != http.StatusAccepted {
		t.Fatalf("code = %d", w.Code)
	}
	waitShutdowns(t, ctrl, 2)
	if calls := ctrl.shutdownCalls(); calls[1] {
		t.Fatalf("graceful=false was dispatched as graceful")
	}
}

func waitShutdowns(t *testing.T, ctrl *fakeCtrl, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(ctrl.shutdownCalls()) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("shutdown call %d never dispatched", n)
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewRouter(&fakeCtrl{status: arbiter.Status{Ready: 1}}).Handler()
	w := doReq(t, h, http.MethodGet, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_") && w.Body.Len() == 0 {
		t.Fatalf("metrics body empty")
	}
}
