package arbiter

import "fmt"

// BindError reports that the listener could not be established. Fatal at
// startup; during reload it rejects the new snapshot and leaves the running
// generation untouched.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// ErrReloadInProgress rejects a reload that arrives while a previous
// generation swap is still waiting for its workers to become ready.
var ErrReloadInProgress = fmt.Errorf("reload already in progress")

// ErrShuttingDown rejects operations that arrive after shutdown began.
var ErrShuttingDown = fmt.Errorf("arbiter is shutting down")
