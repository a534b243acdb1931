// Package cubicd wires the supervisor, sidecars, inactivity controller,
// instance guard and HTTP API into one embeddable daemon.
package cubicd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cubic-control/cubicd/internal/config"
	"github.com/cubic-control/cubicd/internal/guard"
	"github.com/cubic-control/cubicd/internal/idle"
	"github.com/cubic-control/cubicd/internal/logger"
	"github.com/cubic-control/cubicd/internal/metrics"
	"github.com/cubic-control/cubicd/internal/poll"
	"github.com/cubic-control/cubicd/internal/profile"
	"github.com/cubic-control/cubicd/internal/server"
	"github.com/cubic-control/cubicd/internal/sidecar"
	"github.com/cubic-control/cubicd/internal/status"
	"github.com/cubic-control/cubicd/internal/store/factory"
	"github.com/cubic-control/cubicd/internal/supervisor"
)

// Re-export the types embedders need.

type Profile = profile.Profile

type Outcome = supervisor.Outcome

// App is the assembled daemon.
type App struct {
	Cfg        *config.FileConfig
	Log        *slog.Logger
	Registry   *profile.Registry
	Supervisor *supervisor.Supervisor
	Caddy      *sidecar.Manager
	Playit     *sidecar.Manager

	Coordinator *guard.Coordinator

	store      interface{ Close() error }
	guard      *guard.Guard
	idleCancel context.CancelFunc
}

// New builds the daemon from its configuration. Nothing is started yet;
// call AcquireGuard and InitServices before serving.
func New(cfg *config.FileConfig) (*App, error) {
	log := logger.New(*cfg.Log)
	slog.SetDefault(log)

	reg, err := profile.OpenRegistry(cfg.RegistryPath())
	if err != nil {
		return nil, err
	}

	st, err := factory.NewFromDSN(cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := st.EnsureSchema(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("event store schema: %w", err)
	}

	if cfg.Metrics {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			log.Warn("metrics registration failed", "err", err)
		}
	}

	a := &App{
		Cfg:        cfg,
		Log:        log,
		Registry:   reg,
		Supervisor: supervisor.New(log, st),
		store:      st,
	}
	a.Caddy = sidecar.NewManager(sidecar.CaddyService(cfg.APIAddr), cfg.DataDir, cfg.Log.Dir, log)
	a.Playit = sidecar.NewManager(sidecar.PlayitService(), cfg.DataDir, cfg.Log.Dir, log)
	a.Coordinator = guard.NewCoordinator(log, a.cleanup)
	return a, nil
}

// AcquireGuard enforces the single-instance rule. On failure the caller
// must exit with a non-zero status without touching anything else.
func (a *App) AcquireGuard() error {
	g, err := guard.Acquire(a.Cfg.LockFile, a.Cfg.LockPort)
	if err != nil {
		return err
	}
	a.guard = g
	return nil
}

// InitServices installs and starts the sidecars and the inactivity
// controller. A reverse proxy that fails its startup probe aborts the
// whole startup: without it nothing is reachable from outside.
func (a *App) InitServices(ctx context.Context) error {
	if a.Cfg.Caddy.Enabled {
		if _, err := a.Caddy.EnsureBinary(ctx, a.Cfg.Caddy.CheckUpdate); err != nil {
			return err
		}
		domain := a.Cfg.Domain
		if domain == "" {
			domain = "localhost"
		}
		if err := sidecar.EnsureCaddyfile(a.Cfg.DataDir, domain, a.Cfg.APIAddr); err != nil {
			return err
		}
		if err := a.Caddy.Start(a.Cfg.Caddy.ProbeTimeout); err != nil {
			return err
		}
	}
	if a.Cfg.Playit.Enabled {
		if _, err := a.Playit.EnsureBinary(ctx, a.Cfg.Playit.CheckUpdate); err != nil {
			return err
		}
		if err := a.Playit.Start(a.Cfg.Playit.ProbeTimeout); err != nil {
			// The tunnel is optional reachability; the daemon still works
			// on the local network without it.
			a.Log.Error("tunnel start failed", "err", err)
		}
	}

	if p := a.Registry.Active(); p != nil {
		if err := p.SyncServerProperties(); err != nil {
			a.Log.Warn("server.properties sync failed", "profile", p.Name, "err", err)
		}
		a.startIdleController(p)
	}
	return nil
}

func (a *App) startIdleController(p *profile.Profile) {
	ctx, cancel := context.WithCancel(context.Background())
	a.idleCancel = cancel
	c := &idle.Controller{
		Log:           a.Log,
		Profile:       p.Name,
		Interval:      p.PollInterval,
		IdleLimit:     p.IdleLimit,
		SuspendOnIdle: p.SuspendOnIdle,
		ExitOnIdle:    p.ExitOnIdle,
		Activity: func() (int, error) {
			res, err := a.Supervisor.Players(p)
			if err != nil {
				return 0, err
			}
			return res.Players, nil
		},
		StopServer: func() { a.Supervisor.Stop(p) },
		Shutdown:   a.Coordinator.CleanupOnExit,
	}
	go c.Run(ctx)
}

// Router returns the HTTP control API handler.
func (a *App) Router() http.Handler {
	return server.NewRouter(server.Deps{
		Log:        a.Log,
		Registry:   a.Registry,
		Supervisor: a.Supervisor,
		Sidecars:   []*sidecar.Manager{a.Caddy, a.Playit},
		Metrics:    a.Cfg.Metrics,
	})
}

// Shutdown runs the one-shot cleanup path.
func (a *App) Shutdown(reason string) {
	a.Coordinator.CleanupOnExit(reason)
}

// cleanup stops everything this daemon owns, in dependency order, exactly
// once. Registered with the coordinator; never called directly.
func (a *App) cleanup(reason string) {
	if a.idleCancel != nil {
		a.idleCancel()
	}

	if p := a.Registry.Active(); p != nil {
		if st := a.Supervisor.State(p); st != status.Off {
			a.Log.Info("stopping game server", "profile", p.Name)
			a.Supervisor.Stop(p)
			poll.Until(context.Background(), time.Second, 20, func() bool {
				return a.Supervisor.State(p) == status.Off
			})
		}
	}

	a.Playit.Stop()
	a.Caddy.Stop()

	if a.store != nil {
		_ = a.store.Close()
	}
	if a.guard != nil {
		a.guard.Release()
	}
	a.Log.Info("cleanup complete", "reason", reason)
}
