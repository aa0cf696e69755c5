// Package server exposes the arbiter's admin surface over HTTP. It is bound
// separately from the application listener so operational traffic never
// competes with worker traffic.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/okkara/arbitr/internal/arbiter"
	"github.com/okkara/arbitr/internal/config"
	"github.com/okkara/arbitr/internal/metrics"
)

// Controller is the slice of arbiter behavior the admin API drives. Reload
// re-reads the configuration source and applies it as a new generation.
type Controller interface {
	Status(ctx context.Context) (arbiter.Status, error)
	Reload(ctx context.Context) error
	Shutdown(ctx context.Context, graceful bool) error
}

// Router provides embeddable HTTP handlers for operating the worker pool.
// Endpoints:
//
//	GET  /healthz   liveness and readiness probe
//	GET  /status    full pool status JSON
//	POST /reload    re-read config and swap generations
//	POST /shutdown  query: graceful=false for immediate stop
//	GET  /metrics   Prometheus exposition
type Router struct {
	ctrl Controller
}

func NewRouter(ctrl Controller) *Router {
	return &Router{ctrl: ctrl}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server or mux.
func (r *Router) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	g.Use(gin.Recovery())
	g.GET("/healthz", r.handleHealthz)
	g.GET("/status", r.handleStatus)
	g.POST("/reload", r.handleReload)
	g.POST("/shutdown", r.handleShutdown)
	g.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone admin server on addr. The caller owns the
// returned server and shuts it down alongside the arbiter.
func NewServer(addr string, ctrl Controller) *http.Server {
	r := NewRouter(ctrl)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleHealthz(c *gin.Context) {
	st, err := r.ctrl.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, errorResp{Error: err.Error()})
		return
	}
	if st.Ready < 1 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "ready_workers": 0})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "ready_workers": st.Ready})
}

func (r *Router) handleStatus(c *gin.Context) {
	st, err := r.ctrl.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (r *Router) handleReload(c *gin.Context) {
	err := r.ctrl.Reload(c.Request.Context())
	if err == nil {
		c.JSON(http.StatusOK, okResp{OK: true})
		return
	}
	var cfgErr *config.Error
	var bindErr *arbiter.BindError
	switch {
	case errors.As(err, &cfgErr):
		c.JSON(http.StatusBadRequest, errorResp{Error: err.Error()})
	case errors.As(err, &bindErr), errors.Is(err, arbiter.ErrReloadInProgress):
		c.JSON(http.StatusConflict, errorResp{Error: err.Error()})
	case errors.Is(err, arbiter.ErrShuttingDown):
		c.JSON(http.StatusServiceUnavailable, errorResp{Error: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
	}
}

func (r *Router) handleShutdown(c *gin.Context) {
	graceful := c.DefaultQuery("graceful", "true") != "false"
	// Shutdown outlives the request; the reply only acknowledges intent.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		_ = r.ctrl.Shutdown(ctx, graceful)
	}()
	c.JSON(http.StatusAccepted, gin.H{"ok": true, "graceful": graceful})
}
