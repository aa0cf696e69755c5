package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/okkara/arbitr/internal/arbiter"
	"github.com/okkara/arbitr/internal/config"
)

// Exit codes: 0 clean shutdown, 2 configuration error, 3 bind failure,
// 1 anything else.
const (
	exitFatal  = 1
	exitConfig = 2
	exitBind   = 3
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var cfgErr *config.Error
	var bindErr *arbiter.BindError
	switch {
	case errors.As(err, &cfgErr):
		return exitConfig
	case errors.As(err, &bindErr):
		return exitBind
	}
	return exitFatal
}
