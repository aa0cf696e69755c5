package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exit reasons used as label values.
const (
	ReasonCrash   = "crash"
	ReasonHang    = "hang"
	ReasonRetired = "retired"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	workerSpawns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arbitr",
			Subsystem: "worker",
			Name:      "spawns_total",
			Help:      "Number of worker processes spawned.",
		}, []string{"generation"},
	)
	workerExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arbitr",
			Subsystem: "worker",
			Name:      "exits_total",
			Help:      "Number of worker exits by reason.",
		}, []string{"reason"},
	)
	workerStartup = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "arbitr",
			Subsystem: "worker",
			Name:      "startup_seconds",
			Help:      "Time from spawn until a worker reports Ready.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	readyWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "arbitr",
			Subsystem: "worker",
			Name:      "ready",
			Help:      "Workers currently in the Ready state.",
		},
	)
	generation = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "arbitr",
			Subsystem: "arbiter",
			Name:      "generation",
			Help:      "Current configuration generation.",
		},
	)
	reloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arbitr",
			Subsystem: "arbiter",
			Name:      "reloads_total",
			Help:      "Reload attempts by outcome.",
		}, []string{"outcome"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{workerSpawns, workerExits, workerStartup, readyWorkers, generation, reloads}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves Prometheus metrics for the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncSpawn(gen string) {
	if regOK.Load() {
		workerSpawns.WithLabelValues(gen).Inc()
	}
}

func IncExit(reason string) {
	if regOK.Load() {
		workerExits.WithLabelValues(reason).Inc()
	}
}

func ObserveStartup(seconds float64) {
	if regOK.Load() {
		workerStartup.Observe(seconds)
	}
}

func SetReady(n int) {
	if regOK.Load() {
		readyWorkers.Set(float64(n))
	}
}

func SetGeneration(g int) {
	if regOK.Load() {
		generation.Set(float64(g))
	}
}

func IncReload(outcome string) {
	if regOK.Load() {
		reloads.WithLabelValues(outcome).Inc()
	}
}
