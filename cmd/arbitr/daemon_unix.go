//go:build !windows

package main

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// daemonize re-executes serve in a new session with stdio detached. The
// child runs the same argv minus the daemonize flag.
func daemonize(args []string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	filtered := make([]string, 0, len(args))
	for _, a := range args {
		if a == "--daemonize" || a == "-d" {
			continue
		}
		filtered = append(filtered, a)
	}

	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer func() { _ = devnull.Close() }()

	cmd := exec.Command(exe, filtered...)
	cmd.Stdin = devnull
	cmd.Stdout = devnull
	cmd.Stderr = devnull
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	fmt.Printf("arbitr daemon started (pid %d)\n", cmd.Process.Pid)
	return nil
}
