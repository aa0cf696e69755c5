package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterIdempotent(t *testing.T) {
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatalf("second Register: %v", err)
	}
}

func TestHelpersAfterRegister(t *testing.T) {
	_ = Register(prometheus.DefaultRegisterer)
	IncSpawn("0")
	IncExit(ReasonCrash)
	IncExit(ReasonHang)
	ObserveStartup(0.25)
	SetReady(3)
	SetGeneration(1)
	IncReload("ok")

	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()
	for _, want := range []string{
		"arbitr_worker_spawns_total",
		"arbitr_worker_exits_total",
		"arbitr_worker_ready 3",
		"arbitr_arbiter_generation 1",
		"arbitr_arbiter_reloads_total",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
