// Package idle watches the player activity signal and shuts the server,
// and optionally the host and this daemon, down after a configured quiet
// period.
package idle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/cubic-control/cubicd/internal/metrics"
)

// suspendDelay gives the daemon time to finish its own exit before the
// host goes to sleep.
const suspendDelay = 10 * time.Second

// Controller polls the activity signal for one profile. All collaborators
// are plain funcs so the decision logic runs against fakes in tests.
type Controller struct {
	Log       *slog.Logger
	Profile   string
	Interval  time.Duration
	IdleLimit time.Duration

	SuspendOnIdle bool
	ExitOnIdle    bool

	// Activity returns the current player count. An error means the query
	// was unreachable; that still counts toward idleness since a crashed
	// or never-booted server is also inactive.
	Activity func() (int, error)
	// StopServer issues a graceful stop of the game server.
	StopServer func()
	// Suspend schedules host suspension; defaults to a detached helper.
	Suspend func() error
	// Shutdown runs the shared cleanup path before the controller exits
	// the daemon.
	Shutdown func(reason string)

	exitFn func(int)

	lastActive    time.Time
	triggered     bool
	lastCount     int
	offlineLogged bool
}

// Run polls until ctx is cancelled. The idle timer starts fresh so a just-
// started server gets a full idle window to boot and attract players.
func (c *Controller) Run(ctx context.Context) {
	if c.Log == nil {
		c.Log = slog.Default()
	}
	if c.Suspend == nil {
		c.Suspend = func() error { return ScheduleSuspend(suspendDelay) }
	}
	if c.exitFn == nil {
		c.exitFn = os.Exit
	}
	c.lastActive = time.Now()
	c.lastCount = -1

	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()
	c.Log.Info("inactivity controller running",
		"profile", c.Profile, "interval", c.Interval, "limit", c.IdleLimit)
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			count, err := c.Activity()
			c.step(now, count, err)
		}
	}
}

// step consumes one activity sample and fires the idle sequence at most
// once per idle episode.
func (c *Controller) step(now time.Time, count int, err error) {
	if err != nil {
		if !c.offlineLogged {
			c.Log.Info("activity signal unreachable, counting as idle", "profile", c.Profile)
			c.offlineLogged = true
		}
	} else {
		c.offlineLogged = false
		if count != c.lastCount {
			c.Log.Info("player count changed", "profile", c.Profile, "players", count)
			c.lastCount = count
		}
		if count > 0 {
			c.lastActive = now
			c.triggered = false
			return
		}
	}

	if c.triggered || now.Sub(c.lastActive) < c.IdleLimit {
		return
	}
	c.triggered = true
	c.Log.Info("idle limit reached", "profile", c.Profile, "idle", now.Sub(c.lastActive))
	metrics.IncIdleShutdown(c.Profile)

	if err == nil && count == 0 && c.StopServer != nil {
		c.StopServer()
	}
	if c.SuspendOnIdle {
		if err := c.Suspend(); err != nil {
			c.Log.Error("host suspend scheduling failed", "err", err)
		}
	}
	if c.ExitOnIdle {
		// Cleanup first, but never let a misbehaving cleanup keep the
		// daemon alive.
		if c.Shutdown != nil {
			c.Shutdown("idle limit reached")
		}
		c.exitFn(0)
	}
}

// ScheduleSuspend arranges host suspension through a detached helper so it
// survives this process exiting first.
func ScheduleSuspend(delay time.Duration) error {
	script := fmt.Sprintf("sleep %d && systemctl suspend", int(delay.Seconds()))
	cmd := exec.Command("sh", "-c", script)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd.Start()
}
