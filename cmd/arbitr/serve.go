package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/okkara/arbitr/internal/arbiter"
	"github.com/okkara/arbitr/internal/config"
	"github.com/okkara/arbitr/internal/history"
	"github.com/okkara/arbitr/internal/history/factory"
	"github.com/okkara/arbitr/internal/logger"
	"github.com/okkara/arbitr/internal/metrics"
	"github.com/okkara/arbitr/internal/server"
	"github.com/okkara/arbitr/internal/watch"
)

// controller adapts the arbiter plus its config source to the admin API.
// Reload always goes back to the original file and overrides so that SIGHUP,
// the admin endpoint, and the file watcher all behave identically.
type controller struct {
	a    *arbiter.Arbiter
	path string
	ov   config.Overrides
}

func (c *controller) Status(ctx context.Context) (arbiter.Status, error) {
	return c.a.Status(ctx)
}

func (c *controller) Reload(ctx context.Context) error {
	snap, err := config.Load(c.path, c.ov)
	if err != nil {
		return err
	}
	return c.a.Reload(ctx, snap)
}

func (c *controller) Shutdown(ctx context.Context, graceful bool) error {
	return c.a.Shutdown(ctx, graceful)
}

func overrides(f ServeFlags) config.Overrides {
	return config.Overrides{
		Bind:      f.Bind,
		AdminBind: f.AdminBind,
		Workers:   f.Workers,
		App:       f.App,
		LogLevel:  f.LogLevel,
	}
}

func runServe(f ServeFlags) error {
	if f.Daemonize {
		return daemonize(os.Args[1:])
	}
	snap, err := config.Load(f.ConfigPath, overrides(f))
	if err != nil {
		return err
	}
	if f.PidFile != "" {
		if err := os.WriteFile(f.PidFile, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
			return fmt.Errorf("write pidfile: %w", err)
		}
		defer func() { _ = os.Remove(f.PidFile) }()
	}
	log := logger.Setup(snap.LogLevel)
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	var sinks []history.Sink
	if snap.HistoryDSN != "" {
		sink, err := factory.NewSinkFromDSN(snap.HistoryDSN)
		if err != nil {
			return err
		}
		sinks = append(sinks, sink)
		defer func() { _ = sink.Close() }()
	}

	a, err := arbiter.New(snap,
		arbiter.WithLogger(log),
		arbiter.WithHistorySinks(sinks...),
	)
	if err != nil {
		return err
	}
	if err := a.Start(); err != nil {
		return err
	}
	log.Info("arbiter started",
		"pid", os.Getpid(), "bind", snap.Bind, "workers", snap.Workers, "app", snap.App)

	ctrl := &controller{a: a, path: f.ConfigPath, ov: overrides(f)}

	var admin *http.Server
	if snap.AdminBind != "" {
		admin = server.NewServer(snap.AdminBind, ctrl)
		log.Info("admin api listening", "addr", snap.AdminBind)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if snap.WatchConfig && f.ConfigPath != "" {
		w := watch.New(f.ConfigPath, ctrl.Reload, log)
		go func() {
			if err := w.Run(ctx); err != nil {
				log.Warn("config watcher stopped", "error", err)
			}
		}()
	}

	sigc := make(chan os.Signal, 2)
	signal.Notify(sigc, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer signal.Stop(sigc)
	go func() {
		for sig := range sigc {
			switch sig {
			case syscall.SIGHUP:
				log.Info("reload signal received")
				go func() {
					if err := ctrl.Reload(ctx); err != nil {
						log.Error("reload failed", "error", err)
					}
				}()
			case syscall.SIGTERM:
				log.Info("terminate signal received, draining")
				go func() { _ = a.Shutdown(context.Background(), true) }()
			default:
				log.Warn("interrupt received, stopping immediately", "signal", sig.String())
				go func() { _ = a.Shutdown(context.Background(), false) }()
			}
		}
	}()

	<-a.Done()
	if admin != nil {
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		_ = admin.Shutdown(sctx)
	}
	return nil
}
