package proc

import (
	"syscall"

	gops "github.com/shirou/gopsutil/v4/process"
)

// KillTreePID force-kills pid and all of its descendants. Children are
// collected before the parent dies so orphans cannot escape, then the whole
// process group is killed as a backstop. Safe to call on an already-exited
// process.
func KillTreePID(pid int) error {
	if pid <= 0 {
		return ErrNotStarted
	}
	if parent, err := gops.NewProcess(int32(pid)); err == nil {
		for _, child := range descendants(parent) {
			_ = child.Kill()
		}
		_ = parent.Kill()
	}
	// Backstop: the group id equals the leader pid because children are
	// spawned with Setpgid.
	_ = syscall.Kill(-pid, syscall.SIGKILL)
	return nil
}

// TerminatePID sends a graceful terminate to a process we do not own.
func TerminatePID(pid int) error {
	p, err := gops.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	return p.Terminate()
}

func descendants(p *gops.Process) []*gops.Process {
	var out []*gops.Process
	children, err := p.Children()
	if err != nil {
		return out
	}
	for _, c := range children {
		out = append(out, descendants(c)...)
		out = append(out, c)
	}
	return out
}
