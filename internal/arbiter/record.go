package arbiter

import (
	"time"

	"github.com/google/uuid"

	"github.com/okkara/arbitr/internal/netutil"
)

// State is a worker's lifecycle state as observed by the arbiter.
// Transitions are monotonic within one record; a replacement worker gets a
// fresh record with a strictly larger id.
type State int

const (
	StateStarting State = iota
	StateReady
	StateDraining
	StateExited
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateDraining:
		return "draining"
	case StateExited:
		return "exited"
	}
	return "unknown"
}

// record is the arbiter's private bookkeeping for one worker. It is owned
// exclusively by the event loop; nothing outside the loop touches it.
type record struct {
	id         int
	token      uuid.UUID
	generation int
	state      State
	spawnedAt  time.Time
	lastBeat   time.Time
	proc       Proc
	handle     *netutil.Handle

	retiring   bool   // arbiter asked this worker to retire
	killReason string // set before Kill so the exit is classified correctly
	sawReady   bool
}

// advance applies a state reported by the worker, enforcing monotonic order.
// Reports that would move backwards are dropped.
func (r *record) advance(s State) bool {
	if s <= r.state || r.state == StateExited {
		return false
	}
	r.state = s
	return true
}

// WorkerInfo is the externally visible view of a worker record.
type WorkerInfo struct {
	ID         int       `json:"id"`
	PID        int       `json:"pid"`
	Token      string    `json:"token"`
	Generation int       `json:"generation"`
	State      string    `json:"state"`
	SpawnedAt  time.Time `json:"spawned_at"`
	LastBeat   time.Time `json:"last_heartbeat"`
}

// Status is a point-in-time view of the pool.
type Status struct {
	Addr       string       `json:"addr"`
	Generation int          `json:"generation"`
	Target     int          `json:"target_workers"`
	Ready      int          `json:"ready_workers"`
	Reloading  bool         `json:"reloading"`
	Workers    []WorkerInfo `json:"workers"`
}
