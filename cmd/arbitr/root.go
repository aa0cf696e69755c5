package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/okkara/arbitr/internal/worker"
)

const defaultAdminURL = "http://127.0.0.1:9901"

// ServeFlags configures the serve command. Flag values override both the
// config file and the PORT environment variable.
type ServeFlags struct {
	ConfigPath string
	Bind       string
	AdminBind  string
	App        string
	LogLevel   string
	Workers    int
	PidFile    string
	Daemonize  bool
}

// ClientFlags configures commands that talk to a running arbiter's admin API.
type ClientFlags struct {
	AdminURL string
	Timeout  time.Duration
}

func buildRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "arbitr",
		Short:         "Pre-fork HTTP worker pool arbiter",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var sf ServeFlags
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Bind the listener and run the worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(sf)
		},
	}
	serve.Flags().StringVarP(&sf.ConfigPath, "config", "c", "", "path to TOML config file")
	serve.Flags().StringVarP(&sf.Bind, "bind", "b", "", "application listen address (host:port)")
	serve.Flags().StringVar(&sf.AdminBind, "admin-bind", "", "admin API listen address")
	serve.Flags().StringVar(&sf.App, "app", "", "application entry to serve")
	serve.Flags().IntVarP(&sf.Workers, "workers", "w", 0, "number of worker processes")
	serve.Flags().StringVar(&sf.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	serve.Flags().StringVar(&sf.PidFile, "pidfile", "", "write the arbiter pid to this file")
	serve.Flags().BoolVarP(&sf.Daemonize, "daemonize", "d", false, "detach and run in the background")
	root.AddCommand(serve)

	workerCmd := &cobra.Command{
		Use:    "worker",
		Hidden: true,
		Short:  "Run as a worker process (spawned by the arbiter)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return worker.Run(cmd.Context())
		},
	}
	root.AddCommand(workerCmd)

	var checkPath string
	check := &cobra.Command{
		Use:   "check",
		Short: "Validate a config file and print the effective snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, checkPath)
		},
	}
	check.Flags().StringVarP(&checkPath, "config", "c", "", "path to TOML config file")
	root.AddCommand(check)

	var cf ClientFlags
	addClientFlags := func(c *cobra.Command) *cobra.Command {
		c.Flags().StringVar(&cf.AdminURL, "admin-url", defaultAdminURL, "base URL of the admin API")
		c.Flags().DurationVar(&cf.Timeout, "timeout", 10*time.Second, "request timeout")
		return c
	}
	root.AddCommand(addClientFlags(&cobra.Command{
		Use:   "status",
		Short: "Show pool status of a running arbiter",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, cf)
		},
	}))
	root.AddCommand(addClientFlags(&cobra.Command{
		Use:   "reload",
		Short: "Ask a running arbiter to re-read its config and swap generations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReload(cf)
		},
	}))
	stop := &cobra.Command{
		Use:   "stop",
		Short: "Shut down a running arbiter",
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			return runStop(cf, !force)
		},
	}
	stop.Flags().Bool("force", false, "kill workers instead of draining")
	root.AddCommand(addClientFlags(stop))

	return root
}
