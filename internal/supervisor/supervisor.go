// Package supervisor drives the game server lifecycle: start, graceful and
// forced stop, restart with cooldown, and state resolution from probes.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cubic-control/cubicd/internal/control"
	"github.com/cubic-control/cubicd/internal/metrics"
	"github.com/cubic-control/cubicd/internal/poll"
	"github.com/cubic-control/cubicd/internal/probe"
	"github.com/cubic-control/cubicd/internal/proc"
	"github.com/cubic-control/cubicd/internal/profile"
	"github.com/cubic-control/cubicd/internal/status"
)

const (
	// Wait for the process to exit after a graceful stop command before
	// escalating to signals.
	defaultStopWait = 15 * time.Second
	// The game process needs time to release ports and level storage
	// between a stop and the next start.
	defaultRestartCooldown = 20 * time.Second
	// Out-of-band stop confirmation: attempts x interval.
	stopConfirmAttempts = 20
	stopConfirmInterval = time.Second
)

// Recorder persists lifecycle events. Satisfied by the event store; a nil
// Recorder disables persistence.
type Recorder interface {
	RecordEvent(ctx context.Context, profileName, event, detail string) error
}

// handle is the slice of proc.Handle the supervisor needs; narrowed so
// tests can inject fakes without spawning processes.
type handle interface {
	PID() int
	StartedAt() time.Time
	Alive() bool
	Output() *proc.Ring
	WaitExit(timeout time.Duration) bool
	Stop(wait time.Duration) error
	KillTree() error
}

// commander is the control channel to the game server.
type commander interface {
	Command(cmd string) (string, error)
	Stop() error
}

type entry struct {
	mu      sync.Mutex
	handle  handle
	tracker *status.Tracker

	// ops serializes the check-then-spawn sections of Start and restart
	// so duplicate calls cannot both pass the Off gate and each launch a
	// process.
	ops sync.Mutex
}

func (e *entry) getHandle() handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handle
}

func (e *entry) setHandle(h handle) {
	e.mu.Lock()
	e.handle = h
	e.mu.Unlock()
}

// Supervisor owns one entry per profile. All probe and process access is
// behind injectable functions so lifecycle logic is testable in isolation.
type Supervisor struct {
	mu      sync.Mutex
	entries map[string]*entry

	log   *slog.Logger
	store Recorder

	spawn   func(workDir, script string) (handle, error)
	queryOK func(p *profile.Profile) bool
	query   func(p *profile.Profile) (*probe.QueryResult, error)
	rcon    func(p *profile.Profile) commander
	scan    func(p *profile.Profile) probe.Locator

	stopWait time.Duration
	cooldown time.Duration
}

// New returns a supervisor wired to real processes and probes. rec may be
// nil to disable event persistence.
func New(log *slog.Logger, rec Recorder) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	s := &Supervisor{
		entries:  make(map[string]*entry),
		log:      log,
		store:    rec,
		stopWait: defaultStopWait,
		cooldown: defaultRestartCooldown,
	}
	s.spawn = func(workDir, script string) (handle, error) {
		return proc.Start(workDir, script)
	}
	s.queryOK = func(p *profile.Profile) bool {
		_, err := probe.QueryClient{}.Query(p.Host, p.QueryPort)
		return err == nil
	}
	s.query = func(p *profile.Profile) (*probe.QueryResult, error) {
		return probe.QueryClient{}.Query(p.Host, p.QueryPort)
	}
	s.rcon = func(p *profile.Profile) commander {
		return control.Client{Addr: p.RconAddr(), Password: p.RconPassword}
	}
	s.scan = func(p *profile.Profile) probe.Locator {
		return probe.ScanLocator{Match: probe.MatchCwd(p.Root)}
	}
	return s
}

func (s *Supervisor) entryFor(name string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		e = &entry{tracker: status.NewTracker()}
		s.entries[name] = e
	}
	return e
}

// locatorFor prefers the owned handle and falls back to a process scan for
// servers started out-of-band.
func (s *Supervisor) locatorFor(e *entry, p *profile.Profile) probe.Locator {
	if h := e.getHandle(); h != nil && h.Alive() {
		return probe.FuncLocator{
			PresentFn: func() (bool, error) { return h.Alive(), nil },
			PIDFn:     func() (int, bool) { return h.PID(), true },
		}
	}
	return s.scan(p)
}

// State resolves the current lifecycle state for the profile.
func (s *Supervisor) State(p *profile.Profile) status.State {
	e := s.entryFor(p.Name)
	loc := s.locatorFor(e, p)
	st := e.tracker.Resolve(loc.Present, func() bool { return s.queryOK(p) })
	metrics.SetLifecycleState(p.Name, string(st))
	return st
}

// Status reports the public message and legacy code for the profile.
func (s *Supervisor) Status(p *profile.Profile) Outcome {
	return StateOutcome(s.State(p))
}

// Start launches the profile's run script. Refused unless the server is Off.
func (s *Supervisor) Start(p *profile.Profile) Outcome {
	e := s.entryFor(p.Name)
	e.ops.Lock()
	defer e.ops.Unlock()
	return s.startLocked(p, e)
}

// startLocked requires e.ops to be held across the state gate and spawn.
func (s *Supervisor) startLocked(p *profile.Profile, e *entry) Outcome {
	if st := s.State(p); st != status.Off {
		return Outcome{
			Message: fmt.Sprintf("Server is already active (%s)", st),
			Code:    CodeRefused,
		}
	}
	script := p.RunScriptPath()
	if _, err := os.Stat(script); err != nil {
		s.log.Error("launch script missing", "profile", p.Name, "script", script)
		return Outcome{Message: "Launch script not found: " + script, Code: CodeError}
	}

	h, err := s.spawn(p.Root, script)
	if err != nil {
		s.log.Error("spawn failed", "profile", p.Name, "err", err)
		return Outcome{Message: "Failed to start server: " + err.Error(), Code: CodeError}
	}
	e.setHandle(h)
	s.log.Info("server starting", "profile", p.Name, "pid", h.PID())
	metrics.IncServerStart(p.Name)
	s.record(p.Name, "start", fmt.Sprintf("pid=%d", h.PID()))
	return Outcome{Message: "Server is starting...", Code: CodeStarting}
}

// Stop begins a graceful shutdown and returns immediately. The caller
// observes completion through Status polling.
func (s *Supervisor) Stop(p *profile.Profile) Outcome {
	e := s.entryFor(p.Name)
	switch st := s.State(p); st {
	case status.Off:
		return Outcome{Message: "Server is already off", Code: CodeOff}
	case status.Stopping:
		return Outcome{Message: "Stop already in progress", Code: CodeStopping}
	case status.Restarting:
		// The restart owns the stop/cooldown sequence; a second stop
		// would race it.
		return Outcome{Message: "Server is restarting, please wait...", Code: CodeBusy}
	}
	e.tracker.SetStopping()
	go s.stopServer(p, e)
	return Outcome{Message: "Server is stopping...", Code: CodeStopping}
}

// stopServer performs the graceful-then-forced stop sequence.
func (s *Supervisor) stopServer(p *profile.Profile, e *entry) {
	if err := s.rcon(p).Stop(); err != nil {
		s.log.Warn("stop command failed, falling back to signals",
			"profile", p.Name, "err", err)
	}

	if h := e.getHandle(); h != nil {
		if !h.WaitExit(s.stopWait) {
			s.log.Warn("server did not exit in time, escalating", "profile", p.Name)
			if err := h.Stop(2 * time.Second); err != nil {
				s.log.Error("escalated stop failed", "profile", p.Name, "err", err)
			}
		}
		e.setHandle(nil)
	} else {
		// Not locally owned: confirm by polling until both the query and
		// the process table agree the server is gone.
		gone := poll.Until(context.Background(), stopConfirmInterval, stopConfirmAttempts, func() bool {
			if s.queryOK(p) {
				return false
			}
			up, err := s.scan(p).Present()
			return err == nil && !up
		})
		if !gone {
			s.log.Warn("could not confirm server exit", "profile", p.Name)
		}
	}

	e.tracker.ClearStopping()
	s.log.Info("server stopped", "profile", p.Name)
	metrics.IncServerStop(p.Name)
	s.record(p.Name, "stop", "graceful")
}

// ForceStop kills the whole process tree immediately, using the locator
// fallback when no handle is owned.
func (s *Supervisor) ForceStop(p *profile.Profile) Outcome {
	e := s.entryFor(p.Name)
	if h := e.getHandle(); h != nil {
		if err := h.KillTree(); err != nil {
			s.log.Error("kill tree failed", "profile", p.Name, "err", err)
			return Outcome{Message: "Force stop failed: " + err.Error(), Code: CodeError}
		}
		e.setHandle(nil)
	} else if pid, ok := s.scan(p).PID(); ok {
		if err := proc.KillTreePID(pid); err != nil {
			s.log.Error("kill tree failed", "profile", p.Name, "pid", pid, "err", err)
			return Outcome{Message: "Force stop failed: " + err.Error(), Code: CodeError}
		}
	} else {
		return Outcome{Message: "Server is already off", Code: CodeOff}
	}
	e.tracker.ClearStopping()
	s.log.Info("server force-stopped", "profile", p.Name)
	metrics.IncServerStop(p.Name)
	s.record(p.Name, "forcestop", "")
	return Outcome{Message: "Server killed", Code: CodeOff}
}

// Restart performs stop, cooldown, start in the background. Only a fully
// loaded server may be restarted, and only one restart may be in flight
// per profile.
func (s *Supervisor) Restart(p *profile.Profile) Outcome {
	e := s.entryFor(p.Name)
	switch st := s.State(p); st {
	case status.Running:
	case status.Restarting:
		return Outcome{Message: "Restart already in progress", Code: CodeBusy}
	default:
		return Outcome{Message: fmt.Sprintf("Cannot restart while the server is %s", st), Code: CodeRefused}
	}
	if !e.tracker.SetRestarting() {
		return Outcome{Message: "Restart already in progress", Code: CodeBusy}
	}
	go s.performRestart(p, e)
	return Outcome{Message: "Server is restarting...", Code: CodeRestarting}
}

// performRestart clears the restarting intent on every exit path so a
// failed sub-step can never wedge future operations.
func (s *Supervisor) performRestart(p *profile.Profile, e *entry) {
	defer e.tracker.ClearRestarting()

	e.tracker.SetStopping()
	s.stopServer(p, e)

	// The game process holds ports and level storage for a while after
	// exiting; starting too soon fails.
	time.Sleep(s.cooldown)

	e.ops.Lock()
	defer e.ops.Unlock()
	script := p.RunScriptPath()
	if _, err := os.Stat(script); err != nil {
		s.log.Error("restart aborted, launch script missing",
			"profile", p.Name, "script", script)
		return
	}
	h, err := s.spawn(p.Root, script)
	if err != nil {
		s.log.Error("restart spawn failed", "profile", p.Name, "err", err)
		return
	}
	e.setHandle(h)
	s.log.Info("server restarted", "profile", p.Name, "pid", h.PID())
	metrics.IncServerRestart(p.Name)
	s.record(p.Name, "restart", fmt.Sprintf("pid=%d", h.PID()))
}

// Players queries the current player list.
func (s *Supervisor) Players(p *profile.Profile) (*probe.QueryResult, error) {
	res, err := s.query(p)
	if err != nil {
		return nil, err
	}
	metrics.SetOnlinePlayers(p.Name, res.Players)
	return res, nil
}

// Command forwards a free-text command over the control channel.
func (s *Supervisor) Command(p *profile.Profile, cmd string) (string, error) {
	return s.rcon(p).Command(cmd)
}

// Output returns the most recent captured output lines, newest last.
func (s *Supervisor) Output(p *profile.Profile, n int) []string {
	if h := s.entryFor(p.Name).getHandle(); h != nil {
		return h.Output().Tail(n)
	}
	return nil
}

// Subscribe streams future output lines; the cancel func must be called.
func (s *Supervisor) Subscribe(p *profile.Profile) (<-chan string, func(), bool) {
	if h := s.entryFor(p.Name).getHandle(); h != nil {
		ch, cancel := h.Output().Subscribe()
		return ch, cancel, true
	}
	return nil, nil, false
}

func (s *Supervisor) record(profileName, event, detail string) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.store.RecordEvent(ctx, profileName, event, detail); err != nil {
		s.log.Warn("event record failed", "profile", profileName, "event", event, "err", err)
	}
}
