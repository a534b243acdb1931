package supervisor

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cubic-control/cubicd/internal/probe"
	"github.com/cubic-control/cubicd/internal/proc"
	"github.com/cubic-control/cubicd/internal/profile"
	"github.com/cubic-control/cubicd/internal/status"
)

type fakeHandle struct {
	pid       int
	alive     bool
	ring      *proc.Ring
	killCalls int
}

func (f *fakeHandle) PID() int                  { return f.pid }
func (f *fakeHandle) StartedAt() time.Time      { return time.Now() }
func (f *fakeHandle) Alive() bool               { return f.alive }
func (f *fakeHandle) Output() *proc.Ring        { return f.ring }
func (f *fakeHandle) WaitExit(time.Duration) bool {
	return !f.alive
}
func (f *fakeHandle) Stop(time.Duration) error {
	f.alive = false
	return nil
}
func (f *fakeHandle) KillTree() error {
	f.killCalls++
	f.alive = false
	return nil
}

type fakeCommander struct {
	stopErr  error
	commands []string
}

func (f *fakeCommander) Command(cmd string) (string, error) {
	f.commands = append(f.commands, cmd)
	return "ok", nil
}

func (f *fakeCommander) Stop() error {
	f.commands = append(f.commands, "stop")
	return f.stopErr
}

func testProfile(t *testing.T) *profile.Profile {
	t.Helper()
	root := t.TempDir()
	script := filepath.Join(root, "run.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nsleep 60\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return &profile.Profile{
		Name:      "survival",
		Root:      root,
		RunScript: "run.sh",
		Host:      "127.0.0.1",
		RconPort:  27001,
		QueryPort: 27002,
	}
}

func newTestSupervisor(t *testing.T) (*Supervisor, *fakeCommander) {
	t.Helper()
	cmd := &fakeCommander{}
	s := New(nil, nil)
	s.stopWait = 50 * time.Millisecond
	s.cooldown = 10 * time.Millisecond
	s.queryOK = func(*profile.Profile) bool { return false }
	s.rcon = func(*profile.Profile) commander { return cmd }
	s.scan = func(*profile.Profile) probe.Locator {
		return probe.FuncLocator{}
	}
	return s, cmd
}

func TestStartTwiceReportsAlreadyActive(t *testing.T) {
	s, _ := newTestSupervisor(t)
	p := testProfile(t)

	spawned := 0
	s.spawn = func(workDir, script string) (handle, error) {
		spawned++
		return &fakeHandle{pid: 1234, alive: true, ring: proc.NewRing(10)}, nil
	}

	if out := s.Start(p); out.Code != CodeStarting {
		t.Fatalf("first start: got %+v", out)
	}
	if out := s.Start(p); out.Code != CodeRefused {
		t.Fatalf("second start must be refused, got %+v", out)
	}
	if spawned != 1 {
		t.Fatalf("expected exactly one spawn, got %d", spawned)
	}
}

func TestStartMissingScriptFailsWithoutStateChange(t *testing.T) {
	s, _ := newTestSupervisor(t)
	p := testProfile(t)
	p.RunScript = "missing.sh"

	if out := s.Start(p); out.Code != CodeError {
		t.Fatalf("got %+v, want script-missing error", out)
	}
	if st := s.State(p); st != status.Off {
		t.Fatalf("failed start must not mutate state, got %v", st)
	}
}

func TestStopOwnedHandleEscalates(t *testing.T) {
	s, cmd := newTestSupervisor(t)
	p := testProfile(t)
	e := s.entryFor(p.Name)
	h := &fakeHandle{pid: 99, alive: true, ring: proc.NewRing(10)}
	e.setHandle(h)

	e.tracker.SetStopping()
	s.stopServer(p, e)

	if len(cmd.commands) == 0 || cmd.commands[0] != "stop" {
		t.Fatalf("graceful path must issue the stop command, got %v", cmd.commands)
	}
	if h.alive {
		t.Fatal("handle must be dead after escalation")
	}
	if e.tracker.Stopping() {
		t.Fatal("stopping intent must clear after stopServer")
	}
	if e.getHandle() != nil {
		t.Fatal("handle must be released after stop")
	}
}

func TestStopOutOfBandConfirmsViaProbes(t *testing.T) {
	s, cmd := newTestSupervisor(t)
	cmd.stopErr = errors.New("unreachable")
	p := testProfile(t)
	e := s.entryFor(p.Name)

	e.tracker.SetStopping()
	s.stopServer(p, e) // no handle: confirms via query + scan

	if e.tracker.Stopping() {
		t.Fatal("stopping intent must clear once probes confirm absence")
	}
}

func TestRestartClearsIntentUnderFaults(t *testing.T) {
	s, cmd := newTestSupervisor(t)
	cmd.stopErr = errors.New("unreachable")
	p := testProfile(t)
	e := s.entryFor(p.Name)

	s.spawn = func(workDir, script string) (handle, error) {
		return nil, errors.New("spawn exploded")
	}

	if !e.tracker.SetRestarting() {
		t.Fatal("intent must be free before the restart")
	}
	s.performRestart(p, e)
	if e.tracker.Restarting() {
		t.Fatal("restarting intent must clear even when the start fails")
	}

	// A second restart may now proceed.
	if !e.tracker.SetRestarting() {
		t.Fatal("intent must be reusable after a failed restart")
	}
	e.tracker.ClearRestarting()
}

func TestRestartRefusedWhileInFlight(t *testing.T) {
	s, _ := newTestSupervisor(t)
	p := testProfile(t)
	e := s.entryFor(p.Name)

	if !e.tracker.SetRestarting() {
		t.Fatal("setup: could not set intent")
	}
	defer e.tracker.ClearRestarting()

	if out := s.Restart(p); out.Code != CodeBusy {
		t.Fatalf("concurrent restart must be refused, got %+v", out)
	}
}

func TestConcurrentStartSpawnsOnce(t *testing.T) {
	s, _ := newTestSupervisor(t)
	p := testProfile(t)

	var spawns int32
	s.spawn = func(workDir, script string) (handle, error) {
		atomic.AddInt32(&spawns, 1)
		// Hold the spawn long enough for the second caller to reach the
		// state gate while the first is still mid-start.
		time.Sleep(50 * time.Millisecond)
		return &fakeHandle{pid: 1234, alive: true, ring: proc.NewRing(10)}, nil
	}

	outcomes := make(chan Outcome, 2)
	for i := 0; i < 2; i++ {
		go func() { outcomes <- s.Start(p) }()
	}
	first, second := <-outcomes, <-outcomes

	if n := atomic.LoadInt32(&spawns); n != 1 {
		t.Fatalf("concurrent Start spawned %d processes, want 1", n)
	}
	codes := []int{first.Code, second.Code}
	sort.Ints(codes)
	if codes[0] != CodeStarting || codes[1] != CodeRefused {
		t.Fatalf("outcomes: %+v / %+v", first, second)
	}
}

func TestStopDuringRestartRefused(t *testing.T) {
	s, cmd := newTestSupervisor(t)
	p := testProfile(t)
	e := s.entryFor(p.Name)

	if !e.tracker.SetRestarting() {
		t.Fatal("setup: could not set intent")
	}
	defer e.tracker.ClearRestarting()

	out := s.Stop(p)
	if out.Code != CodeBusy {
		t.Fatalf("stop during restart: got %+v, want busy refusal", out)
	}
	if len(cmd.commands) != 0 {
		t.Fatalf("no stop command may be issued, got %v", cmd.commands)
	}
}

func TestRestartOnlyFromRunning(t *testing.T) {
	s, _ := newTestSupervisor(t)
	p := testProfile(t)

	// Off: nothing to restart.
	if out := s.Restart(p); out.Code != CodeRefused {
		t.Fatalf("restart from Off: got %+v", out)
	}

	// Running: accepted, and the intent clears once the restart is done.
	e := s.entryFor(p.Name)
	e.setHandle(&fakeHandle{pid: 55, alive: true, ring: proc.NewRing(10)})
	s.queryOK = func(*profile.Profile) bool { return true }
	s.spawn = func(workDir, script string) (handle, error) {
		return &fakeHandle{pid: 56, alive: true, ring: proc.NewRing(10)}, nil
	}

	if out := s.Restart(p); out.Code != CodeRestarting {
		t.Fatalf("restart from Running: got %+v", out)
	}
	deadline := time.Now().Add(2 * time.Second)
	for e.tracker.Restarting() {
		if time.Now().After(deadline) {
			t.Fatal("restart never completed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if h := e.getHandle(); h == nil || h.PID() != 56 {
		t.Fatalf("restarted handle not installed: %+v", h)
	}
}

func TestForceStopFallbackWithoutHandle(t *testing.T) {
	s, _ := newTestSupervisor(t)
	p := testProfile(t)

	// Locator resolves a PID that no longer exists; the tree kill treats
	// that as already dead.
	s.scan = func(*profile.Profile) probe.Locator {
		return probe.FuncLocator{
			PresentFn: func() (bool, error) { return true, nil },
			PIDFn:     func() (int, bool) { return 2_000_000, true },
		}
	}

	if out := s.ForceStop(p); out.Code != CodeOff {
		t.Fatalf("fallback force stop: got %+v", out)
	}
}

func TestForceStopNothingRunning(t *testing.T) {
	s, _ := newTestSupervisor(t)
	p := testProfile(t)
	if out := s.ForceStop(p); out.Code != CodeOff {
		t.Fatalf("got %+v, want already-off outcome", out)
	}
}

func TestStatusMapsStatesToLegacyCodes(t *testing.T) {
	cases := []struct {
		state status.State
		code  int
	}{
		{status.Off, CodeOff},
		{status.Starting, CodeStarting},
		{status.Running, CodeRunning},
		{status.Stopping, CodeStopping},
		{status.Restarting, CodeRestarting},
		{status.Error, CodeError},
	}
	for _, c := range cases {
		if got := StateOutcome(c.state); got.Code != c.code {
			t.Fatalf("state %v: got code %d, want %d", c.state, got.Code, c.code)
		}
	}
}
