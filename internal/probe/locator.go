package probe

import (
	"path/filepath"
	"strings"

	gops "github.com/shirou/gopsutil/v4/process"
)

// Locator answers whether a supervised process is present and, when
// possible, which PID owns it. Two implementations exist: one backed by a
// locally owned process handle, and a system-wide scan used when the
// process was started out-of-band. Keeping this behind an interface makes
// the kill path testable without a live process table.
type Locator interface {
	// Present reports whether a matching process exists.
	Present() (bool, error)
	// PID returns the owning process id when known.
	PID() (int, bool)
}

// FuncLocator adapts plain functions to the Locator interface; used by
// supervisors that already hold a process handle, and by tests.
type FuncLocator struct {
	PresentFn func() (bool, error)
	PIDFn     func() (int, bool)
}

func (f FuncLocator) Present() (bool, error) {
	if f.PresentFn == nil {
		return false, nil
	}
	return f.PresentFn()
}

func (f FuncLocator) PID() (int, bool) {
	if f.PIDFn == nil {
		return 0, false
	}
	return f.PIDFn()
}

// ScanLocator walks the system process table looking for a match. It is the
// fallback for servers or sidecars this daemon did not spawn itself.
type ScanLocator struct {
	Match func(p *gops.Process) bool
}

func (s ScanLocator) Present() (bool, error) {
	_, ok, err := s.find()
	return ok, err
}

func (s ScanLocator) PID() (int, bool) {
	pid, ok, err := s.find()
	if err != nil {
		return 0, false
	}
	return pid, ok
}

func (s ScanLocator) find() (int, bool, error) {
	if s.Match == nil {
		return 0, false, nil
	}
	procs, err := gops.Processes()
	if err != nil {
		return 0, false, err
	}
	for _, p := range procs {
		if s.Match(p) {
			return int(p.Pid), true, nil
		}
	}
	return 0, false, nil
}

// MatchCwd matches processes whose working directory is dir. The game
// server is always launched from its profile root, so this finds servers
// started outside the supervisor too.
func MatchCwd(dir string) func(p *gops.Process) bool {
	want := filepath.Clean(dir)
	return func(p *gops.Process) bool {
		cwd, err := p.Cwd()
		if err != nil || cwd == "" {
			return false
		}
		return filepath.Clean(cwd) == want
	}
}

// MatchExePath matches processes running exactly the given binary.
func MatchExePath(path string) func(p *gops.Process) bool {
	want := filepath.Clean(path)
	return func(p *gops.Process) bool {
		exe, err := p.Exe()
		if err != nil || exe == "" {
			return false
		}
		return filepath.Clean(exe) == want
	}
}

// MatchNameContains matches by substring of the process name.
func MatchNameContains(s string) func(p *gops.Process) bool {
	needle := strings.ToLower(s)
	return func(p *gops.Process) bool {
		name, err := p.Name()
		if err != nil {
			return false
		}
		return strings.Contains(strings.ToLower(name), needle)
	}
}
