// Package proc owns spawned OS processes: launch, live output capture,
// graceful termination with kill escalation, and descendant-tree kills.
package proc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Handle wraps exactly one child process. A Handle is owned by the
// supervisor that spawned it and must not be shared across supervisors;
// cross-supervisor visibility goes through probes only.
type Handle struct {
	mu        sync.Mutex
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	running   bool
	exitErr   error
	waitDone  chan struct{}
	ring      *Ring
}

// Start spawns the command in workDir inside its own process group and
// begins pumping its combined output into the ring buffer.
func Start(workDir string, name string, args ...string) (*Handle, error) {
	return StartWithOutput(workDir, nil, name, args...)
}

// StartWithOutput additionally copies every output line to sink, used for
// processes whose output belongs in a log file.
func StartWithOutput(workDir string, sink io.Writer, name string, args ...string) (*Handle, error) {
	// #nosec G204 -- command comes from a validated profile launch script
	cmd := exec.Command(name, args...)
	cmd.Dir = workDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	h := &Handle{
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		running:   true,
		waitDone:  make(chan struct{}),
		ring:      NewRing(400),
	}
	go h.pump(stdout, sink)
	go h.wait()
	return h, nil
}

func (h *Handle) pump(r io.Reader, sink io.Writer) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		h.ring.Append(line)
		if sink != nil {
			_, _ = io.WriteString(sink, line+"\n")
		}
	}
}

func (h *Handle) wait() {
	err := h.cmd.Wait()
	h.mu.Lock()
	h.running = false
	h.exitErr = err
	close(h.waitDone)
	h.mu.Unlock()
}

// PID returns the child's process id.
func (h *Handle) PID() int { return h.pid }

// StartedAt returns the spawn time.
func (h *Handle) StartedAt() time.Time { return h.startedAt }

// Output returns the live output ring buffer.
func (h *Handle) Output() *Ring { return h.ring }

// Alive reports whether the child has not yet been reaped.
func (h *Handle) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// ExitErr returns the Wait error once the process has exited.
func (h *Handle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

// ExitCode returns the process exit code after reaping, -1 while alive.
func (h *Handle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running || h.cmd.ProcessState == nil {
		return -1
	}
	return h.cmd.ProcessState.ExitCode()
}

// Done returns a channel closed when the child has been reaped.
func (h *Handle) Done() <-chan struct{} { return h.waitDone }

// WaitExit blocks until the child exits or the timeout elapses.
func (h *Handle) WaitExit(timeout time.Duration) bool {
	select {
	case <-h.waitDone:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Terminate sends SIGTERM to the process group. Safe on exited processes.
func (h *Handle) Terminate() {
	_ = syscall.Kill(-h.pid, syscall.SIGTERM)
}

// Kill sends SIGKILL to the process group. Safe on exited processes.
func (h *Handle) Kill() {
	_ = syscall.Kill(-h.pid, syscall.SIGKILL)
}

// Stop escalates: SIGTERM, bounded wait, SIGKILL, short reap wait. The
// returned error reflects a child that could not be confirmed dead.
func (h *Handle) Stop(wait time.Duration) error {
	if !h.Alive() {
		return nil
	}
	h.Terminate()
	if h.WaitExit(wait) {
		return nil
	}
	h.Kill()
	if h.WaitExit(2 * time.Second) {
		return nil
	}
	return fmt.Errorf("process %d did not exit after SIGKILL", h.pid)
}

// KillTree force-kills the child and every descendant.
func (h *Handle) KillTree() error {
	err := KillTreePID(h.pid)
	// Reap our own child if the tree kill got it.
	h.WaitExit(2 * time.Second)
	return err
}

// ErrNotStarted is returned by helpers that need a live handle.
var ErrNotStarted = errors.New("process not started")
