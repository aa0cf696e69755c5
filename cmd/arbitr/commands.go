package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okkara/arbitr/internal/config"
)

func runCheck(cmd *cobra.Command, path string) error {
	snap, err := config.Load(path, config.Overrides{})
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(out))
	return nil
}

func runStatus(cmd *cobra.Command, f ClientFlags) error {
	st, err := NewAPIClient(f.AdminURL, f.Timeout).Status()
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(out))
	return nil
}

func runReload(f ClientFlags) error {
	if err := NewAPIClient(f.AdminURL, f.Timeout).Reload(); err != nil {
		return err
	}
	fmt.Println("reload complete")
	return nil
}

func runStop(f ClientFlags, graceful bool) error {
	if err := NewAPIClient(f.AdminURL, f.Timeout).Shutdown(graceful); err != nil {
		return err
	}
	if graceful {
		fmt.Println("shutdown started (draining)")
	} else {
		fmt.Println("shutdown started (immediate)")
	}
	return nil
}
