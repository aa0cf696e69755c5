package worker

import (
	"context"
	"io"
	"sync"
	"time"
)

// Heartbeat writes single-byte state reports on the pipe inherited from the
// arbiter. State changes are written immediately; the loop repeats the
// current state every interval so silence means a hung process, not an idle
// one. Write errors are ignored since a vanished arbiter will reap us anyway.
type Heartbeat struct {
	mu       sync.Mutex
	w        io.Writer
	state    byte
	interval time.Duration
}

func NewHeartbeat(w io.Writer, interval time.Duration) *Heartbeat {
	return &Heartbeat{w: w, interval: interval}
}

// Set records a new state and pushes one beat right away.
func (h *Heartbeat) Set(state byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = state
	_, _ = h.w.Write([]byte{state})
}

// Loop re-announces the current state every interval until ctx is done.
func (h *Heartbeat) Loop(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			h.mu.Lock()
			if h.state != 0 {
				_, _ = h.w.Write([]byte{h.state})
			}
			h.mu.Unlock()
		case <-ctx.Done():
			return
		}
	}
}
