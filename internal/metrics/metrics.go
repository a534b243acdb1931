package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serverStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cubicd",
			Subsystem: "server",
			Name:      "starts_total",
			Help:      "Number of game server starts.",
		}, []string{"profile"},
	)
	serverStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cubicd",
			Subsystem: "server",
			Name:      "stops_total",
			Help:      "Number of game server stops (graceful or forced).",
		}, []string{"profile"},
	)
	serverRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cubicd",
			Subsystem: "server",
			Name:      "restarts_total",
			Help:      "Number of game server restarts.",
		}, []string{"profile"},
	)
	idleShutdowns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cubicd",
			Subsystem: "idle",
			Name:      "shutdowns_total",
			Help:      "Number of shutdowns triggered by the inactivity controller.",
		}, []string{"profile"},
	)
	lifecycleState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "cubicd",
			Subsystem: "server",
			Name:      "lifecycle_state",
			Help:      "Current lifecycle state per profile (1 = active state, 0 = inactive).",
		}, []string{"profile", "state"},
	)
	sidecarStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cubicd",
			Subsystem: "sidecar",
			Name:      "starts_total",
			Help:      "Number of sidecar process starts.",
		}, []string{"service"},
	)
	onlinePlayers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "cubicd",
			Subsystem: "server",
			Name:      "online_players",
			Help:      "Last observed player count per profile.",
		}, []string{"profile"},
	)
)

var knownStates = []string{"off", "starting", "running", "stopping", "restarting", "error"}

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{serverStarts, serverStops, serverRestarts, idleShutdowns, lifecycleState, sidecarStarts, onlinePlayers}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving metrics from the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncServerStart(profile string) {
	if regOK.Load() {
		serverStarts.WithLabelValues(profile).Inc()
	}
}

func IncServerStop(profile string) {
	if regOK.Load() {
		serverStops.WithLabelValues(profile).Inc()
	}
}

func IncServerRestart(profile string) {
	if regOK.Load() {
		serverRestarts.WithLabelValues(profile).Inc()
	}
}

func IncIdleShutdown(profile string) {
	if regOK.Load() {
		idleShutdowns.WithLabelValues(profile).Inc()
	}
}

func IncSidecarStart(service string) {
	if regOK.Load() {
		sidecarStarts.WithLabelValues(service).Inc()
	}
}

// SetLifecycleState marks exactly one state active for the profile.
func SetLifecycleState(profile, state string) {
	if !regOK.Load() {
		return
	}
	for _, s := range knownStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		lifecycleState.WithLabelValues(profile, s).Set(v)
	}
}

func SetOnlinePlayers(profile string, n int) {
	if regOK.Load() {
		onlinePlayers.WithLabelValues(profile).Set(float64(n))
	}
}
