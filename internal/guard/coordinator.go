package guard

import (
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Coordinator funnels every shutdown trigger (signals, idle exit, fatal
// startup errors, normal exit) into one cleanup routine that runs exactly
// once.
type Coordinator struct {
	log     *slog.Logger
	once    sync.Once
	cleanup func(reason string)
}

// NewCoordinator wraps the shared cleanup routine. cleanup stops the
// supervised services and releases the instance guard.
func NewCoordinator(log *slog.Logger, cleanup func(reason string)) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{log: log, cleanup: cleanup}
}

// CleanupOnExit runs the cleanup routine. Every call after the first is a
// no-op, so racing triggers degrade to nothing.
func (c *Coordinator) CleanupOnExit(reason string) {
	c.once.Do(func() {
		c.log.Info("running shutdown cleanup", "reason", reason)
		if c.cleanup != nil {
			c.cleanup(reason)
		}
	})
}

// HandleSignals blocks until a termination signal arrives, then runs the
// cleanup and exits. Meant to run on its own goroutine.
func (c *Coordinator) HandleSignals() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	sig := <-ch
	c.CleanupOnExit("signal " + sig.String())
	os.Exit(0)
}
