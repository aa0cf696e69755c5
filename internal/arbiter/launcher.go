package arbiter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/okkara/arbitr/internal/config"
	"github.com/okkara/arbitr/internal/logger"
	"github.com/okkara/arbitr/internal/netutil"
)

// Beat is one heartbeat received from a worker.
type Beat struct {
	State State
	At    time.Time
}

// Proc is the arbiter's handle on a spawned worker. The real implementation
// wraps an OS process; tests substitute scriptable fakes.
type Proc interface {
	PID() int
	Signal(sig os.Signal) error
	Kill() error
	// Beats delivers heartbeat frames until the worker's pipe closes.
	Beats() <-chan Beat
	// Done delivers the exit error (nil on clean exit) exactly once.
	Done() <-chan error
}

// LaunchSpec describes one worker to be spawned.
type LaunchSpec struct {
	ID         int
	Generation int
	Snapshot   config.Snapshot
	Listener   *netutil.Handle
}

// Launcher spawns workers. The arbiter holds exactly one.
type Launcher interface {
	Launch(spec LaunchSpec) (Proc, error)
}

// ExecLauncher re-executes the current binary with the hidden worker
// subcommand. The listener socket and the heartbeat pipe are inherited on
// fixed descriptors; the snapshot travels on stdin as JSON.
type ExecLauncher struct {
	// WorkerArgs is the child argv after the executable, normally
	// []string{"worker"}.
	WorkerArgs []string
}

func (l *ExecLauncher) Launch(spec LaunchSpec) (Proc, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate executable: %w", err)
	}
	lnFile, err := spec.Listener.File()
	if err != nil {
		return nil, fmt.Errorf("dup listener: %w", err)
	}
	pipeR, pipeW, err := os.Pipe()
	if err != nil {
		_ = lnFile.Close()
		return nil, fmt.Errorf("heartbeat pipe: %w", err)
	}
	snapJSON, err := json.Marshal(spec.Snapshot)
	if err != nil {
		_ = lnFile.Close()
		_ = pipeR.Close()
		_ = pipeW.Close()
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	args := spec.argsOr(l.WorkerArgs)
	// #nosec G204 -- re-exec of our own binary
	cmd := exec.Command(exe, args...)
	cmd.Env = append(os.Environ(),
		netutil.EnvWorkerID+"="+strconv.Itoa(spec.ID),
		netutil.EnvGeneration+"="+strconv.Itoa(spec.Generation),
	)
	cmd.Stdin = bytes.NewReader(snapJSON)
	cmd.ExtraFiles = []*os.File{lnFile, pipeW}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	name := fmt.Sprintf("worker-%d", spec.ID)
	outW, errW, err := logger.WorkerWriters(spec.Snapshot.Log, name)
	if err != nil {
		_ = lnFile.Close()
		_ = pipeR.Close()
		_ = pipeW.Close()
		return nil, fmt.Errorf("worker log writers: %w", err)
	}
	if outW != nil {
		cmd.Stdout = outW
	} else {
		cmd.Stdout = os.Stdout
	}
	if errW != nil {
		cmd.Stderr = errW
	} else {
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		_ = lnFile.Close()
		_ = pipeR.Close()
		_ = pipeW.Close()
		closeWriters(outW, errW)
		return nil, err
	}
	// Parent copies are no longer needed once the child holds them.
	_ = lnFile.Close()
	_ = pipeW.Close()

	p := &execProc{
		pid:   cmd.Process.Pid,
		beats: make(chan Beat, 16),
		done:  make(chan error, 1),
	}
	go p.readBeats(pipeR)
	go func() {
		err := cmd.Wait()
		closeWriters(outW, errW)
		p.done <- err
		close(p.done)
	}()
	return p, nil
}

func (s LaunchSpec) argsOr(args []string) []string {
	if len(args) > 0 {
		return args
	}
	return []string{"worker"}
}

func closeWriters(ws ...io.WriteCloser) {
	for _, w := range ws {
		if w != nil {
			_ = w.Close()
		}
	}
}

type execProc struct {
	pid   int
	beats chan Beat
	done  chan error
}

func (p *execProc) PID() int { return p.pid }

func (p *execProc) Signal(sig os.Signal) error {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return fmt.Errorf("unsupported signal %v", sig)
	}
	// Negative pid targets the worker's process group.
	return syscall.Kill(-p.pid, s)
}

func (p *execProc) Kill() error {
	return syscall.Kill(-p.pid, syscall.SIGKILL)
}

func (p *execProc) Beats() <-chan Beat { return p.beats }
func (p *execProc) Done() <-chan error { return p.done }

// readBeats turns heartbeat bytes into Beat values. Unknown bytes are
// ignored so the protocol can grow without breaking older arbiters.
func (p *execProc) readBeats(r io.ReadCloser) {
	defer close(p.beats)
	defer func() { _ = r.Close() }()
	buf := make([]byte, 64)
	for {
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			var st State
			switch b {
			case netutil.BeatStarting:
				st = StateStarting
			case netutil.BeatReady:
				st = StateReady
			case netutil.BeatDraining:
				st = StateDraining
			default:
				continue
			}
			p.beats <- Beat{State: st, At: time.Now()}
		}
		if err != nil {
			return
		}
	}
}
