package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/okkara/arbitr/internal/config"
)

const defaultMonitorInterval = 5 * time.Second

// Monitor periodically samples this process's resident memory and open
// descriptor count. When a configured limit is crossed it fires onExceed
// once; the worker then drains itself and asks to be replaced, which beats
// being OOM-killed mid-request.
type Monitor struct {
	limits   config.Limits
	interval time.Duration
	log      *slog.Logger
	onExceed func(reason string)
}

func NewMonitor(limits config.Limits, log *slog.Logger, onExceed func(reason string)) *Monitor {
	return &Monitor{limits: limits, interval: defaultMonitorInterval, log: log, onExceed: onExceed}
}

func (m *Monitor) Run(ctx context.Context) {
	if m.limits.MaxRSSMB <= 0 && m.limits.MaxOpenFDs <= 0 {
		return
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		m.log.Warn("resource monitor unavailable", "error", err)
		return
	}
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if reason := m.check(proc); reason != "" {
				m.onExceed(reason)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) check(proc *process.Process) string {
	if m.limits.MaxRSSMB > 0 {
		if mem, err := proc.MemoryInfo(); err == nil {
			rssMB := mem.RSS >> 20
			if rssMB > uint64(m.limits.MaxRSSMB) {
				return fmt.Sprintf("rss %dMB exceeds limit %dMB", rssMB, m.limits.MaxRSSMB)
			}
		}
	}
	if m.limits.MaxOpenFDs > 0 {
		if fds, err := proc.NumFDs(); err == nil && int(fds) > m.limits.MaxOpenFDs {
			return fmt.Sprintf("%d open fds exceed limit %d", fds, m.limits.MaxOpenFDs)
		}
	}
	return ""
}
