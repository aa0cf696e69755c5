// Package arbiter supervises the worker pool. All worker records are owned
// by a single event loop goroutine; administrative operations, worker
// heartbeats, exits and health-check ticks are delivered to that loop as
// messages, so no lock covers the records themselves.
package arbiter

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/okkara/arbitr/internal/config"
	"github.com/okkara/arbitr/internal/history"
	"github.com/okkara/arbitr/internal/metrics"
	"github.com/okkara/arbitr/internal/netutil"
)

// respawnDelay throttles replacement attempts after a failed launch.
const respawnDelay = 500 * time.Millisecond

// Arbiter maintains target_workers live workers of the current generation,
// replaces the dead, and coordinates zero-downtime reloads.
type Arbiter struct {
	launcher Launcher
	log      *slog.Logger
	sinks    []history.Sink

	cmds   chan any
	events chan any
	done   chan struct{}

	// Everything below is owned by the run loop.
	snap          config.Snapshot
	ln            *netutil.Handle
	records       map[int]*record
	nextID        int
	generation    int
	shuttingDown  bool
	shutdownReply chan<- error
	pending       *pendingReload
	tick          *time.Ticker
}

type pendingReload struct {
	snap  config.Snapshot
	ln    *netutil.Handle
	gen   int
	reply chan<- error
	timer *time.Timer
}

// Loop events.
type beatEvent struct {
	id   int
	beat Beat
}
type exitEvent struct {
	id  int
	err error
}
type respawnEvent struct{ gen int }
type graceTimeout struct{ id int }
type reloadTimeout struct{ gen int }

// Loop commands.
type reloadReq struct {
	snap  config.Snapshot
	reply chan error
}
type shutdownReq struct {
	graceful bool
	reply    chan error
}
type statusReq struct {
	reply chan Status
}

// Option configures an Arbiter.
type Option func(*Arbiter)

// WithLauncher replaces the default exec launcher (used by tests and
// embedders that run workers in-process).
func WithLauncher(l Launcher) Option {
	return func(a *Arbiter) { a.launcher = l }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Arbiter) { a.log = l }
}

// WithHistorySinks configures lifecycle event export.
func WithHistorySinks(sinks ...history.Sink) Option {
	return func(a *Arbiter) { a.sinks = sinks }
}

// New creates an Arbiter for a validated snapshot.
func New(snap config.Snapshot, opts ...Option) (*Arbiter, error) {
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	a := &Arbiter{
		launcher: &ExecLauncher{},
		log:      slog.Default(),
		cmds:     make(chan any, 8),
		events:   make(chan any, 64),
		done:     make(chan struct{}),
		snap:     snap,
		records:  make(map[int]*record),
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Start binds the listener and launches the generation-0 complement.
// A bind failure is returned as *BindError and nothing is spawned.
func (a *Arbiter) Start() error {
	h, err := netutil.Bind(a.snap.Bind)
	if err != nil {
		return &BindError{Addr: a.snap.Bind, Err: err}
	}
	a.ln = h
	metrics.SetGeneration(0)
	go a.run()
	return nil
}

// Done is closed once the arbiter has fully shut down.
func (a *Arbiter) Done() <-chan struct{} { return a.done }

// Reload applies a new snapshot with a generation swap: the new complement
// is spawned against the (possibly re-bound) listener and must be confirmed
// Ready, or hit the startup timeout, before the old generation is retired.
// Invalid snapshots and bind failures reject the reload and leave the
// running generation untouched.
func (a *Arbiter) Reload(ctx context.Context, snap config.Snapshot) error {
	reply := make(chan error, 1)
	return a.roundTrip(ctx, reloadReq{snap: snap, reply: reply}, reply)
}

// Shutdown stops the pool. Graceful shutdown retires every worker and waits
// up to the grace period for in-flight work; immediate shutdown kills.
// The listener is released after the last worker has exited.
func (a *Arbiter) Shutdown(ctx context.Context, graceful bool) error {
	reply := make(chan error, 1)
	return a.roundTrip(ctx, shutdownReq{graceful: graceful, reply: reply}, reply)
}

// Status reports a point-in-time view of the pool.
func (a *Arbiter) Status(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	select {
	case a.cmds <- statusReq{reply: reply}:
	case <-a.done:
		return Status{}, ErrShuttingDown
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
	select {
	case st := <-reply:
		return st, nil
	case <-a.done:
		return Status{}, ErrShuttingDown
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// WaitReady blocks until at least one worker reports Ready, which is the
// point where the process counts as ready for external orchestrators.
func (a *Arbiter) WaitReady(ctx context.Context) error {
	t := time.NewTicker(20 * time.Millisecond)
	defer t.Stop()
	for {
		st, err := a.Status(ctx)
		if err != nil {
			return err
		}
		if st.Ready >= 1 {
			return nil
		}
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		case <-a.done:
			return ErrShuttingDown
		}
	}
}

func (a *Arbiter) roundTrip(ctx context.Context, req any, reply <-chan error) error {
	select {
	case a.cmds <- req:
	case <-a.done:
		return ErrShuttingDown
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-a.done:
		return ErrShuttingDown
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post delivers an event into the loop unless the arbiter already exited.
func (a *Arbiter) post(ev any) {
	select {
	case a.events <- ev:
	case <-a.done:
	}
}

func (a *Arbiter) run() {
	a.tick = time.NewTicker(a.snap.HeartbeatInterval)
	defer a.tick.Stop()
	for i := 0; i < a.snap.Workers; i++ {
		a.spawn(a.generation, a.ln, a.snap)
	}
	for {
		select {
		case c := <-a.cmds:
			if a.handleCmd(c) {
				return
			}
		case ev := <-a.events:
			if a.handleEvent(ev) {
				return
			}
		case <-a.tick.C:
			a.healthCheck(time.Now())
		}
	}
}

func (a *Arbiter) handleCmd(c any) bool {
	switch req := c.(type) {
	case reloadReq:
		a.handleReload(req)
	case shutdownReq:
		return a.handleShutdown(req)
	case statusReq:
		req.reply <- a.status()
	}
	return false
}

func (a *Arbiter) handleEvent(ev any) bool {
	switch e := ev.(type) {
	case beatEvent:
		a.handleBeat(e)
	case exitEvent:
		return a.handleExit(e)
	case respawnEvent:
		a.handleRespawn(e)
	case graceTimeout:
		a.handleGraceTimeout(e)
	case reloadTimeout:
		if a.pending != nil && a.pending.gen == e.gen {
			a.log.Warn("reload startup timeout, proceeding with retirement",
				"generation", e.gen, "ready", a.readyCountGen(e.gen))
			a.completeReload()
		}
	}
	return false
}

// --- spawning and the worker event pump ---

func (a *Arbiter) spawn(gen int, h *netutil.Handle, snap config.Snapshot) {
	id := a.nextID
	a.nextID++
	h.Retain()
	proc, err := a.launcher.Launch(LaunchSpec{ID: id, Generation: gen, Snapshot: snap, Listener: h})
	if err != nil {
		h.Release()
		a.log.Error("worker launch failed", "worker", id, "generation", gen, "error", err)
		time.AfterFunc(respawnDelay, func() { a.post(respawnEvent{gen: gen}) })
		return
	}
	now := time.Now()
	rec := &record{
		id:         id,
		token:      uuid.New(),
		generation: gen,
		state:      StateStarting,
		spawnedAt:  now,
		lastBeat:   now,
		proc:       proc,
		handle:     h,
	}
	a.records[id] = rec
	metrics.IncSpawn(strconv.Itoa(gen))
	a.recordHistory(history.EventSpawn, rec, "", nil)
	a.log.Info("worker spawned", "worker", id, "pid", proc.PID(), "generation", gen)
	go a.pump(id, proc)
}

// pump forwards one worker's heartbeats and its exit into the loop.
func (a *Arbiter) pump(id int, proc Proc) {
	go func() {
		for b := range proc.Beats() {
			a.post(beatEvent{id: id, beat: b})
		}
	}()
	err := <-proc.Done()
	a.post(exitEvent{id: id, err: err})
}

func (a *Arbiter) handleBeat(e beatEvent) {
	rec := a.records[e.id]
	if rec == nil {
		return
	}
	rec.lastBeat = e.beat.At
	if !rec.advance(e.beat.State) {
		return
	}
	if e.beat.State == StateReady && !rec.sawReady {
		rec.sawReady = true
		metrics.ObserveStartup(time.Since(rec.spawnedAt).Seconds())
		a.recordHistory(history.EventReady, rec, "", nil)
		a.log.Info("worker ready", "worker", rec.id, "pid", rec.proc.PID(), "generation", rec.generation)
	}
	if e.beat.State == StateDraining && !rec.retiring {
		a.log.Warn("worker requested its own retirement", "worker", rec.id, "pid", rec.proc.PID())
	}
	a.updateReadyGauge()
	a.checkPendingReady()
}

func (a *Arbiter) handleExit(e exitEvent) bool {
	rec := a.records[e.id]
	if rec == nil {
		return false
	}
	delete(a.records, e.id)
	prevState := rec.state
	rec.state = StateExited
	rec.handle.Release()

	reason := metrics.ReasonCrash
	switch {
	case rec.killReason != "":
		reason = rec.killReason
	case rec.retiring || a.shuttingDown:
		reason = metrics.ReasonRetired
	case prevState == StateDraining:
		// Self-initiated retirement (resource exhaustion); still replaced.
		reason = metrics.ReasonRetired
	}
	metrics.IncExit(reason)
	a.recordHistory(history.EventExit, rec, reason, e.err)
	a.updateReadyGauge()
	if reason == metrics.ReasonCrash {
		a.log.Error("worker died unexpectedly", "worker", rec.id, "error", e.err)
	} else {
		a.log.Info("worker exited", "worker", rec.id, "reason", reason, "error", e.err)
	}

	if a.shuttingDown {
		if len(a.records) == 0 {
			a.finishShutdown()
			return true
		}
		return false
	}
	// Keep the live count at target. Replacements join the cohort the dead
	// worker belonged to; retired old-generation workers are not replaced.
	if a.pending != nil && rec.generation == a.pending.gen {
		a.spawn(a.pending.gen, a.pending.ln, a.pending.snap)
		return false
	}
	if !rec.retiring && rec.generation == a.generation {
		a.spawn(a.generation, a.ln, a.snap)
	}
	return false
}

func (a *Arbiter) handleRespawn(e respawnEvent) {
	if a.shuttingDown {
		return
	}
	if a.pending != nil && e.gen == a.pending.gen {
		if a.liveCountGen(e.gen) < a.pending.snap.Workers {
			a.spawn(e.gen, a.pending.ln, a.pending.snap)
		}
		return
	}
	if e.gen == a.generation && a.liveCountGen(e.gen) < a.snap.Workers {
		a.spawn(a.generation, a.ln, a.snap)
	}
}

func (a *Arbiter) handleGraceTimeout(e graceTimeout) {
	rec := a.records[e.id]
	if rec == nil || rec.state == StateExited {
		return
	}
	a.log.Warn("grace period expired, killing worker", "worker", rec.id, "pid", rec.proc.PID())
	_ = rec.proc.Kill()
}

// --- reload ---

func (a *Arbiter) handleReload(req reloadReq) {
	if a.shuttingDown {
		req.reply <- ErrShuttingDown
		return
	}
	if a.pending != nil {
		req.reply <- ErrReloadInProgress
		return
	}
	if err := req.snap.Validate(); err != nil {
		metrics.IncReload("config_error")
		a.log.Error("reload rejected", "error", err)
		req.reply <- err
		return
	}
	ln := a.ln
	if req.snap.Bind != a.snap.Bind {
		// Bind the new address first; if that fails the whole reload fails
		// and the old listener and workers stay untouched.
		h, err := netutil.Bind(req.snap.Bind)
		if err != nil {
			metrics.IncReload("bind_error")
			a.log.Error("reload rejected: new bind failed", "bind", req.snap.Bind, "error", err)
			req.reply <- &BindError{Addr: req.snap.Bind, Err: err}
			return
		}
		ln = h
	}
	gen := a.generation + 1
	a.pending = &pendingReload{snap: req.snap, ln: ln, gen: gen, reply: req.reply}
	a.log.Info("reload started", "generation", gen, "workers", req.snap.Workers, "bind", req.snap.Bind)
	for i := 0; i < req.snap.Workers; i++ {
		a.spawn(gen, ln, req.snap)
	}
	a.pending.timer = time.AfterFunc(req.snap.StartupTimeout, func() { a.post(reloadTimeout{gen: gen}) })
}

func (a *Arbiter) checkPendingReady() {
	p := a.pending
	if p == nil {
		return
	}
	if a.readyCountGen(p.gen) >= p.snap.Workers {
		a.completeReload()
	}
}

// completeReload promotes the pending generation and retires every worker of
// older cohorts. Accepting capacity never drops below target: the new
// complement is already serving before the old one is told to go.
func (a *Arbiter) completeReload() {
	p := a.pending
	a.pending = nil
	if p.timer != nil {
		p.timer.Stop()
	}
	a.generation = p.gen
	a.snap = p.snap
	if p.ln != a.ln {
		a.ln.Release()
		a.ln = p.ln
	}
	a.tick.Reset(a.snap.HeartbeatInterval)
	for _, rec := range a.records {
		if rec.generation < p.gen {
			a.retire(rec, a.snap.GracePeriod)
		}
	}
	metrics.SetGeneration(p.gen)
	metrics.IncReload("ok")
	a.log.Info("reload complete", "generation", p.gen)
	p.reply <- nil
}

// retire asks a worker to drain and arms the force-kill deadline.
func (a *Arbiter) retire(rec *record, grace time.Duration) {
	if rec.retiring || rec.state == StateExited {
		return
	}
	rec.retiring = true
	rec.advance(StateDraining)
	_ = rec.proc.Signal(syscall.SIGTERM)
	id := rec.id
	time.AfterFunc(grace, func() { a.post(graceTimeout{id: id}) })
}

// --- shutdown ---

func (a *Arbiter) handleShutdown(req shutdownReq) bool {
	if a.shuttingDown {
		req.reply <- ErrShuttingDown
		return false
	}
	a.shuttingDown = true
	a.shutdownReply = req.reply
	if p := a.pending; p != nil {
		if p.timer != nil {
			p.timer.Stop()
		}
		if p.ln != a.ln {
			p.ln.Release()
		}
		p.reply <- ErrShuttingDown
		a.pending = nil
	}
	a.log.Info("shutdown started", "graceful", req.graceful, "workers", len(a.records))
	if len(a.records) == 0 {
		a.finishShutdown()
		return true
	}
	for _, rec := range a.records {
		if req.graceful {
			a.retire(rec, a.snap.GracePeriod)
		} else {
			rec.retiring = true
			_ = rec.proc.Kill()
		}
	}
	return false
}

func (a *Arbiter) finishShutdown() {
	a.ln.Release()
	metrics.SetReady(0)
	a.log.Info("shutdown complete")
	if a.shutdownReply != nil {
		a.shutdownReply <- nil
	}
	close(a.done)
}

// --- helpers (loop goroutine only) ---

func (a *Arbiter) status() Status {
	addr := a.snap.Bind
	if la := a.ln.Addr(); la != nil {
		addr = la.String()
	}
	st := Status{
		Addr:       addr,
		Generation: a.generation,
		Target:     a.snap.Workers,
		Reloading:  a.pending != nil,
		Workers:    make([]WorkerInfo, 0, len(a.records)),
	}
	for _, rec := range a.records {
		if rec.state == StateReady {
			st.Ready++
		}
		st.Workers = append(st.Workers, WorkerInfo{
			ID:         rec.id,
			PID:        rec.proc.PID(),
			Token:      rec.token.String(),
			Generation: rec.generation,
			State:      rec.state.String(),
			SpawnedAt:  rec.spawnedAt,
			LastBeat:   rec.lastBeat,
		})
	}
	sort.Slice(st.Workers, func(i, j int) bool { return st.Workers[i].ID < st.Workers[j].ID })
	return st
}

func (a *Arbiter) readyCountGen(gen int) int {
	n := 0
	for _, rec := range a.records {
		if rec.generation == gen && rec.state == StateReady {
			n++
		}
	}
	return n
}

func (a *Arbiter) liveCountGen(gen int) int {
	n := 0
	for _, rec := range a.records {
		if rec.generation == gen && rec.state != StateExited {
			n++
		}
	}
	return n
}

func (a *Arbiter) updateReadyGauge() {
	n := 0
	for _, rec := range a.records {
		if rec.state == StateReady {
			n++
		}
	}
	metrics.SetReady(n)
}

func (a *Arbiter) recordHistory(t history.EventType, rec *record, reason string, exitErr error) {
	if len(a.sinks) == 0 {
		return
	}
	evt := history.Event{
		Type:       t,
		OccurredAt: time.Now().UTC(),
		Record: history.Record{
			WorkerID:   rec.id,
			PID:        rec.proc.PID(),
			Generation: rec.generation,
			Token:      rec.token.String(),
			ExitReason: reason,
		},
	}
	if exitErr != nil {
		evt.Record.ExitError = exitErr.Error()
	}
	sinks := a.sinks
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, s := range sinks {
			if err := s.Send(ctx, evt); err != nil {
				a.log.Warn("history sink send failed", "error", err)
			}
		}
	}()
}
