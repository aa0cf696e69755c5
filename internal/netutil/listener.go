// Package netutil owns the bound accept socket shared between the arbiter
// and its workers. The socket is opened exactly once per bind address and is
// handed to worker processes as an inherited file descriptor; the Handle
// reference count guarantees the socket outlives every worker using it.
package netutil

import (
	"fmt"
	"net"
	"os"
	"sync"
)

// ListenerFD is the descriptor number a worker process inherits the accept
// socket on (first entry of ExtraFiles, after stdin/stdout/stderr).
const ListenerFD = 3

// HeartbeatFD is the descriptor number a worker inherits the write end of
// its heartbeat pipe on.
const HeartbeatFD = 4

// Heartbeat frames. A worker writes one byte per beat on its pipe; the byte
// doubles as a state report.
const (
	BeatStarting byte = 'S'
	BeatReady    byte = 'R'
	BeatDraining byte = 'D'
)

// Environment variables stamped on every worker process by the arbiter.
const (
	EnvWorkerID   = "ARBITR_WORKER_ID"
	EnvGeneration = "ARBITR_GENERATION"
)

// Handle wraps the bound socket with reference counting. The arbiter holds
// one reference from Bind; every spawned worker holds one more. The socket
// closes only when the count reaches zero, so a generation being retired can
// keep draining on a listener the arbiter no longer owns.
type Handle struct {
	mu    sync.Mutex
	ln    *net.TCPListener
	refs  int
	close bool
}

// Bind opens a TCP listener on addr and returns a Handle holding one
// reference for the caller.
func Bind(addr string) (*Handle, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	tln, ok := ln.(*net.TCPListener)
	if !ok {
		_ = ln.Close()
		return nil, fmt.Errorf("listener on %s is not TCP", addr)
	}
	return &Handle{ln: tln, refs: 1}, nil
}

// Addr returns the bound address (useful when binding port 0 in tests).
func (h *Handle) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ln == nil {
		return nil
	}
	return h.ln.Addr()
}

// File duplicates the socket for passing to a child via ExtraFiles.
// The caller owns the returned file and must close it after the spawn.
func (h *Handle) File() (*os.File, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ln == nil {
		return nil, fmt.Errorf("listener already closed")
	}
	return h.ln.File()
}

// Retain adds a reference. Each worker spawned against this handle holds one.
func (h *Handle) Retain() {
	h.mu.Lock()
	h.refs++
	h.mu.Unlock()
}

// Release drops a reference. The socket is closed when the count reaches
// zero; extra releases are no-ops.
func (h *Handle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.refs > 0 {
		h.refs--
	}
	if h.refs == 0 && h.ln != nil {
		_ = h.ln.Close()
		h.ln = nil
	}
}

// Refs reports the current reference count.
func (h *Handle) Refs() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refs
}

// Inherited reconstructs the accept socket inside a worker process from the
// descriptor passed down by the arbiter.
func Inherited(fd uintptr, name string) (net.Listener, error) {
	f := os.NewFile(fd, name)
	if f == nil {
		return nil, fmt.Errorf("no inherited fd %d", fd)
	}
	defer func() { _ = f.Close() }()
	ln, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("inherited fd %d is not a listener: %w", fd, err)
	}
	return ln, nil
}
