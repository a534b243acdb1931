// Package server exposes the daemon's HTTP control API. The admin UI and
// its session handling live behind the reverse proxy, not here.
package server

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cubic-control/cubicd/internal/metrics"
	"github.com/cubic-control/cubicd/internal/probe"
	"github.com/cubic-control/cubicd/internal/profile"
	"github.com/cubic-control/cubicd/internal/sidecar"
	"github.com/cubic-control/cubicd/internal/supervisor"
)

// Lifecycle is the slice of the supervisor the API needs.
type Lifecycle interface {
	Status(p *profile.Profile) supervisor.Outcome
	Start(p *profile.Profile) supervisor.Outcome
	Stop(p *profile.Profile) supervisor.Outcome
	ForceStop(p *profile.Profile) supervisor.Outcome
	Restart(p *profile.Profile) supervisor.Outcome
	Players(p *profile.Profile) (*probe.QueryResult, error)
	Command(p *profile.Profile, cmd string) (string, error)
	Output(p *profile.Profile, n int) []string
}

// Deps wires the API to the rest of the daemon.
type Deps struct {
	Log        *slog.Logger
	Registry   *profile.Registry
	Supervisor Lifecycle
	Sidecars   []*sidecar.Manager
	Metrics    bool
}

// NewRouter builds the gin engine with all routes registered.
func NewRouter(d Deps) *gin.Engine {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	s := &api{deps: d}

	r.GET("/status", s.status)
	r.POST("/start", s.start)
	r.POST("/stop", s.stop)
	r.POST("/forcestop", s.forceStop)
	r.POST("/restart", s.restart)
	r.GET("/players", s.players)
	r.POST("/command", s.command)
	r.GET("/logs", s.logs)
	r.GET("/api/sidecars", s.sidecars)
	if d.Metrics {
		r.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return r
}

type api struct {
	deps Deps
}

// active resolves the active profile or answers the request itself.
func (s *api) active(c *gin.Context) *profile.Profile {
	p := s.deps.Registry.Active()
	if p == nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "no active profile", "code": http.StatusNotFound})
		return nil
	}
	return p
}

// render reports a lifecycle outcome using its legacy code as the HTTP
// status, which existing launchers key off.
func render(c *gin.Context, out supervisor.Outcome) {
	c.JSON(out.Code, out)
}

func (s *api) status(c *gin.Context) {
	if p := s.active(c); p != nil {
		render(c, s.deps.Supervisor.Status(p))
	}
}

func (s *api) start(c *gin.Context) {
	if p := s.active(c); p != nil {
		render(c, s.deps.Supervisor.Start(p))
	}
}

func (s *api) stop(c *gin.Context) {
	if p := s.active(c); p != nil {
		render(c, s.deps.Supervisor.Stop(p))
	}
}

func (s *api) forceStop(c *gin.Context) {
	if p := s.active(c); p != nil {
		render(c, s.deps.Supervisor.ForceStop(p))
	}
}

func (s *api) restart(c *gin.Context) {
	if p := s.active(c); p != nil {
		render(c, s.deps.Supervisor.Restart(p))
	}
}

func (s *api) players(c *gin.Context) {
	p := s.active(c)
	if p == nil {
		return
	}
	res, err := s.deps.Supervisor.Players(p)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"message": "server not reachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"players":     res.Players,
		"max_players": res.MaxPlayers,
		"names":       res.PlayerNames,
	})
}

type commandRequest struct {
	Command string `json:"command" binding:"required"`
}

func (s *api) command(c *gin.Context) {
	p := s.active(c)
	if p == nil {
		return
	}
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "command is required"})
		return
	}
	resp, err := s.deps.Supervisor.Command(p, req.Command)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"message": "server not reachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"response": resp})
}

func (s *api) logs(c *gin.Context) {
	p := s.active(c)
	if p == nil {
		return
	}
	n := 0
	if raw := c.Query("lines"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			n = v
		}
	}
	c.JSON(http.StatusOK, gin.H{"lines": s.deps.Supervisor.Output(p, n)})
}

func (s *api) sidecars(c *gin.Context) {
	out := make([]sidecar.Status, 0, len(s.deps.Sidecars))
	for _, m := range s.deps.Sidecars {
		out = append(out, m.Status())
	}
	c.JSON(http.StatusOK, out)
}
