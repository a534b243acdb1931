// Package guard enforces the single-instance rule and funnels every
// shutdown trigger into one idempotent cleanup path.
package guard

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
)

// ErrAlreadyRunning means another live daemon holds the guards. The
// process must exit immediately with a non-zero status.
var ErrAlreadyRunning = errors.New("another instance is already running")

// Guard holds the two independent single-instance guards: an exclusive
// file lock carrying our PID and an exclusive loopback port. Both must be
// held; either one failing means another instance is alive.
type Guard struct {
	lockPath string
	lockFile *os.File
	listener net.Listener
	once     sync.Once
}

// Acquire takes both guards or fails with ErrAlreadyRunning. A lock file
// left behind by a dead process is recovered by checking the recorded PID.
func Acquire(lockPath string, port int) (*Guard, error) {
	f, err := lockWithStaleRecovery(lockPath)
	if err != nil {
		return nil, err
	}

	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
		_ = f.Sync()
	}

	// Independent second guard: even a corrupted or mislocated lock file
	// cannot defeat an exclusive loopback bind.
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		return nil, fmt.Errorf("%w: loopback port %d is taken", ErrAlreadyRunning, port)
	}

	return &Guard{lockPath: lockPath, lockFile: f, listener: ln}, nil
}

func lockWithStaleRecovery(lockPath string) (*os.File, error) {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600) // #nosec G304
		if err != nil {
			return nil, err
		}
		if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err == nil {
			return f, nil
		}
		_ = f.Close()

		// The lock is held. Trust it only if the recorded PID is alive;
		// otherwise clear the stale file and retry once.
		if pid, ok := recordedPID(lockPath); ok && pidAlive(pid) {
			return nil, fmt.Errorf("%w: lock held by pid %d", ErrAlreadyRunning, pid)
		}
		if attempt == 0 {
			_ = os.Remove(lockPath)
			continue
		}
	}
	return nil, ErrAlreadyRunning
}

func recordedPID(lockPath string) (int, bool) {
	data, err := os.ReadFile(lockPath) // #nosec G304
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

func pidAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// Release drops both guards and deletes the lock file. Safe to call any
// number of times from any goroutine.
func (g *Guard) Release() {
	g.once.Do(func() {
		if g.listener != nil {
			_ = g.listener.Close()
		}
		if g.lockFile != nil {
			_ = syscall.Flock(int(g.lockFile.Fd()), syscall.LOCK_UN)
			_ = g.lockFile.Close()
			_ = os.Remove(g.lockPath)
		}
	})
}
