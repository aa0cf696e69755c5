package arbiter

import (
	"time"

	"github.com/okkara/arbitr/internal/config"
	"github.com/okkara/arbitr/internal/metrics"
)

// healthCheck runs on every heartbeat tick. A worker that has not beaten
// within the heartbeat timeout, or is still Starting past the startup
// timeout, is presumed hung and force-killed; the exit handler replaces it.
func (a *Arbiter) healthCheck(now time.Time) {
	if a.shuttingDown {
		return
	}
	for _, rec := range a.records {
		snap := a.snapFor(rec)
		if rec.state == StateStarting && now.Sub(rec.spawnedAt) > snap.StartupTimeout {
			a.condemn(rec, "startup timeout", now.Sub(rec.spawnedAt))
			continue
		}
		if now.Sub(rec.lastBeat) > snap.HeartbeatTimeout {
			a.condemn(rec, "heartbeat timeout", now.Sub(rec.lastBeat))
		}
	}
}

// snapFor picks the snapshot governing a worker's deadlines. Workers of a
// pending generation run under the incoming snapshot's timings.
func (a *Arbiter) snapFor(rec *record) config.Snapshot {
	if a.pending != nil && rec.generation == a.pending.gen {
		return a.pending.snap
	}
	return a.snap
}

func (a *Arbiter) condemn(rec *record, cause string, stale time.Duration) {
	if rec.killReason != "" {
		return
	}
	rec.killReason = metrics.ReasonHang
	a.log.Warn("worker presumed hung, killing",
		"worker", rec.id, "pid", rec.proc.PID(), "cause", cause, "stale", stale)
	_ = rec.proc.Kill()
}
