// Package sidecar manages auxiliary third-party processes (reverse proxy,
// tunnel client): install the binary, launch with a rotating log, probe the
// startup log for real failures, and tear down including orphan sweeps.
package sidecar

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gops "github.com/shirou/gopsutil/v4/process"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/cubic-control/cubicd/internal/metrics"
	"github.com/cubic-control/cubicd/internal/probe"
	"github.com/cubic-control/cubicd/internal/proc"
)

// ErrInstall marks a failed binary installation. It is fatal to the
// requested operation; the operator must restore connectivity and retry.
var ErrInstall = errors.New("sidecar install failed")

// Service describes one managed sidecar.
type Service struct {
	// Name identifies the service in logs and the API.
	Name string
	// BinaryName is the executable's file name inside the release archive.
	BinaryName string
	// ReleasesURL points at the GitHub latest-release metadata endpoint.
	ReleasesURL string
	// Args builds the launch arguments given the service's data directory.
	Args func(dataDir string) []string
	// FailureMarkers are lowercase substrings that flag a startup log line
	// as a potential failure.
	FailureMarkers []string
	// WarmupError reports whether a marked line is an expected warm-up
	// condition (upstream not ready yet) rather than a real failure.
	WarmupError func(line string) bool
}

// StartDiag is the diagnostic snapshot of the most recent start attempt.
type StartDiag struct {
	At           time.Time `json:"at"`
	HadFailure   bool      `json:"had_failure"`
	FailureLines []string  `json:"failure_lines,omitempty"`
	LogTail      []string  `json:"log_tail,omitempty"`
	ExitCode     int       `json:"exit_code"`
}

// Status is rebuilt on every query; nothing here is persisted.
type Status struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	PID       int       `json:"pid,omitempty"`
	Available bool      `json:"available"`
	Binary    string    `json:"binary,omitempty"`
	LastStart StartDiag `json:"last_start"`
}

// Manager owns one sidecar process.
type Manager struct {
	svc     Service
	dataDir string
	logDir  string
	log     *slog.Logger
	newSink func(path string) io.WriteCloser

	mu        sync.Mutex
	handle    *proc.Handle
	binPath   string
	lastStart StartDiag
}

// NewManager creates a manager rooted at dataDir. Binaries live under
// dataDir/bin, per-day logs under logDir.
func NewManager(svc Service, dataDir, logDir string, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		svc:     svc,
		dataDir: dataDir,
		logDir:  logDir,
		log:     log.With("sidecar", svc.Name),
		newSink: func(path string) io.WriteCloser {
			return &lumberjack.Logger{
				Filename:   path,
				MaxSize:    20,
				MaxBackups: 3,
				MaxAge:     14,
			}
		},
	}
}

// Name returns the service name.
func (m *Manager) Name() string { return m.svc.Name }

// BinaryPath returns the resolved binary location, installed or not.
func (m *Manager) BinaryPath() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.binPath != "" {
		return m.binPath
	}
	return filepath.Join(m.dataDir, "bin", m.svc.BinaryName)
}

// logPath is the per-day log file the sidecar writes to.
func (m *Manager) logPath() string {
	name := fmt.Sprintf("%s-%s.log", m.svc.Name, time.Now().Format("2006-01-02"))
	return filepath.Join(m.logDir, name)
}

// Running reports liveness via the owned handle first, then a best-effort
// process-table scan for the same binary.
func (m *Manager) Running() (bool, int) {
	m.mu.Lock()
	h := m.handle
	m.mu.Unlock()
	if h != nil && h.Alive() {
		return true, h.PID()
	}
	loc := probe.ScanLocator{Match: probe.MatchExePath(m.BinaryPath())}
	if pid, ok := loc.PID(); ok {
		return true, pid
	}
	return false, 0
}

// Start launches the sidecar unless it already runs. When probeTimeout is
// positive the startup log is watched for failure markers for that long and
// a classified failure is returned as an error.
func (m *Manager) Start(probeTimeout time.Duration) error {
	if up, pid := m.Running(); up {
		m.log.Info("already running", "pid", pid)
		return nil
	}

	bin := m.BinaryPath()
	if _, err := os.Stat(bin); err != nil {
		return fmt.Errorf("%w: binary not installed at %s", ErrInstall, bin)
	}
	if err := os.MkdirAll(m.logDir, 0o750); err != nil {
		return err
	}

	logPath := m.logPath()
	offset := fileSize(logPath)
	sink := m.newSink(logPath)

	args := []string{}
	if m.svc.Args != nil {
		args = m.svc.Args(m.dataDir)
	}
	h, err := proc.StartWithOutput(m.dataDir, sink, bin, args...)
	if err != nil {
		_ = sink.Close()
		return fmt.Errorf("start %s: %w", m.svc.Name, err)
	}
	go func() {
		<-h.Done()
		_ = sink.Close()
	}()

	m.mu.Lock()
	m.handle = h
	m.mu.Unlock()
	m.log.Info("started", "pid", h.PID(), "log", logPath)
	metrics.IncSidecarStart(m.svc.Name)

	diag := StartDiag{At: time.Now()}
	if probeTimeout > 0 {
		diag = m.probeStartup(h, logPath, offset, probeTimeout)
	}
	m.mu.Lock()
	m.lastStart = diag
	m.mu.Unlock()

	if diag.HadFailure {
		m.log.Error("startup failed", "lines", diag.FailureLines)
		return fmt.Errorf("%s reported startup errors, see %s", m.svc.Name, logPath)
	}
	return nil
}

// Stop terminates the sidecar gracefully with kill escalation, then sweeps
// the process table for orphans running the same binary.
func (m *Manager) Stop() {
	m.mu.Lock()
	h := m.handle
	m.handle = nil
	m.mu.Unlock()

	if h != nil && h.Alive() {
		if err := h.Stop(5 * time.Second); err != nil {
			m.log.Warn("stop escalation failed", "err", err)
		}
	}
	m.sweep()
	m.log.Info("stopped")
}

// sweep kills any process running our binary that we do not own. Covers
// duplicates left behind by crashed daemon instances.
func (m *Manager) sweep() {
	bin := m.BinaryPath()
	procs, err := gops.Processes()
	if err != nil {
		return
	}
	match := probe.MatchExePath(bin)
	for _, p := range procs {
		if !match(p) {
			continue
		}
		m.log.Warn("sweeping orphan", "pid", p.Pid)
		_ = p.Terminate()
		time.Sleep(500 * time.Millisecond)
		if alive, _ := p.IsRunning(); alive {
			_ = p.Kill()
		}
	}
}

// Status rebuilds the current snapshot.
func (m *Manager) Status() Status {
	running, pid := m.Running()
	bin := m.BinaryPath()
	_, statErr := os.Stat(bin)

	m.mu.Lock()
	last := m.lastStart
	m.mu.Unlock()

	return Status{
		Name:      m.svc.Name,
		Running:   running,
		PID:       pid,
		Available: statErr == nil,
		Binary:    bin,
		LastStart: last,
	}
}

// classify inspects one startup log line. It returns true when the line is
// a real failure, i.e. it carries a failure marker and is not an expected
// warm-up error.
func (m *Manager) classify(line string) bool {
	lower := strings.ToLower(line)
	marked := false
	for _, marker := range m.svc.FailureMarkers {
		if strings.Contains(lower, marker) {
			marked = true
			break
		}
	}
	if !marked {
		return false
	}
	if m.svc.WarmupError != nil && m.svc.WarmupError(lower) {
		return false
	}
	return true
}

func fileSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}
