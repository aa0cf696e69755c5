// Package arbitr runs a pool of pre-forked HTTP worker processes behind a
// single shared listener. The arbiter binds the socket once, workers inherit
// it and accept independently, and generation-tagged reloads swap the whole
// pool without dropping connections.
package arbitr

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/okkara/arbitr/internal/app"
	"github.com/okkara/arbitr/internal/arbiter"
	"github.com/okkara/arbitr/internal/config"
	"github.com/okkara/arbitr/internal/history"
	"github.com/okkara/arbitr/internal/history/factory"
	"github.com/okkara/arbitr/internal/metrics"
	iapi "github.com/okkara/arbitr/internal/server"
	"github.com/okkara/arbitr/internal/worker"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Snapshot = config.Snapshot

type ConfigError = config.Error

type Status = arbiter.Status

type WorkerInfo = arbiter.WorkerInfo

type BindError = arbiter.BindError

type HistorySink = history.Sink

// Sentinel errors surfaced by pool operations.
var (
	ErrReloadInProgress = arbiter.ErrReloadInProgress
	ErrShuttingDown     = arbiter.ErrShuttingDown
)

// AppFactory builds the embedded application's handler once per worker.
type AppFactory = app.Factory

// RegisterApp makes an application entry available to workers under name.
// Call it from an init function or before Pool.Start; every worker process
// resolves the name from the same registry.
func RegisterApp(name string, f AppFactory) error { return app.Register(name, f) }

// Apps lists registered application entries.
func Apps() []string { return app.Names() }

// Pool is a thin facade over the internal arbiter.
// It provides a stable public API for embedding.
type Pool struct{ inner *arbiter.Arbiter }

// New creates a Pool from a validated snapshot.
func New(snap Snapshot, opts ...Option) (*Pool, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	a, err := arbiter.New(snap, o.inner...)
	if err != nil {
		return nil, err
	}
	return &Pool{inner: a}, nil
}

type options struct{ inner []arbiter.Option }

// Option configures a Pool.
type Option func(*options)

// WithHistorySinks exports worker lifecycle events to the given sinks.
func WithHistorySinks(sinks ...HistorySink) Option {
	return func(o *options) { o.inner = append(o.inner, arbiter.WithHistorySinks(sinks...)) }
}

func (p *Pool) Start() error { return p.inner.Start() }
func (p *Pool) Reload(ctx context.Context, snap Snapshot) error {
	return p.inner.Reload(ctx, snap)
}
func (p *Pool) Shutdown(ctx context.Context, graceful bool) error {
	return p.inner.Shutdown(ctx, graceful)
}
func (p *Pool) Status(ctx context.Context) (Status, error) { return p.inner.Status(ctx) }
func (p *Pool) WaitReady(ctx context.Context) error        { return p.inner.WaitReady(ctx) }
func (p *Pool) Done() <-chan struct{}                      { return p.inner.Done() }

// RunWorker runs the current process as a worker child. Binaries embedding a
// Pool must dispatch to it when invoked with the "worker" argument, since
// spawned workers are re-executions of the embedding binary itself.
func RunWorker(ctx context.Context) error { return worker.Run(ctx) }

// LoadConfig builds a snapshot from a TOML file, the PORT environment
// variable, and built-in defaults.
func LoadConfig(path string) (Snapshot, error) {
	return config.Load(path, config.Overrides{})
}

// NewHistorySink builds a lifecycle sink from a DSN
// (postgres://... or sqlite://path).
func NewHistorySink(dsn string) (HistorySink, error) {
	return factory.NewSinkFromDSN(dsn)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// MetricsHandler serves the default registry's metrics.
func MetricsHandler() http.Handler { return metrics.Handler() }

// NewAdminServer starts the admin API on addr, driving the given pool.
// Reload re-reads the config file the pool was loaded from.
func NewAdminServer(addr, configPath string, p *Pool) *http.Server {
	return iapi.NewServer(addr, &poolController{p: p, path: configPath})
}

type poolController struct {
	p    *Pool
	path string
}

func (c *poolController) Status(ctx context.Context) (Status, error) { return c.p.Status(ctx) }

func (c *poolController) Reload(ctx context.Context) error {
	snap, err := LoadConfig(c.path)
	if err != nil {
		return err
	}
	return c.p.Reload(ctx, snap)
}

func (c *poolController) Shutdown(ctx context.Context, graceful bool) error {
	return c.p.Shutdown(ctx, graceful)
}
