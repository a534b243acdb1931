// Package status reconciles intent flags and probe results into one
// canonical lifecycle state per profile.
package status

import (
	"sync"
	"time"
)

// State is the canonical lifecycle state of a supervised server.
type State string

const (
	Off        State = "off"
	Starting   State = "starting"
	Running    State = "running"
	Stopping   State = "stopping"
	Restarting State = "restarting"
	Error      State = "error"
)

// DefaultStoppingGrace bounds how long the stopping intent may hold the
// reported state before raw probes win again. A crashed stop would
// otherwise pin the state forever.
const DefaultStoppingGrace = 45 * time.Second

// Tracker holds the transition intent flags for one profile. Intents are
// set and cleared only by the supervisor; Resolve consumes them.
type Tracker struct {
	mu            sync.Mutex
	restarting    bool
	stopping      bool
	stoppingSince time.Time
	grace         time.Duration
	now           func() time.Time
}

// NewTracker returns a tracker with the default grace window.
func NewTracker() *Tracker {
	return &Tracker{grace: DefaultStoppingGrace, now: time.Now}
}

// SetRestarting marks a restart in flight. It returns false if one is
// already in flight, so at most one restart runs per profile.
func (t *Tracker) SetRestarting() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.restarting {
		return false
	}
	t.restarting = true
	return true
}

// ClearRestarting clears the restart intent. Safe to call when unset.
func (t *Tracker) ClearRestarting() {
	t.mu.Lock()
	t.restarting = false
	t.mu.Unlock()
}

// Restarting reports whether a restart is in flight.
func (t *Tracker) Restarting() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.restarting
}

// SetStopping marks a stop in flight and stamps when it began.
func (t *Tracker) SetStopping() {
	t.mu.Lock()
	if !t.stopping {
		t.stopping = true
		t.stoppingSince = t.now()
	}
	t.mu.Unlock()
}

// Stopping reports whether a stop is in flight.
func (t *Tracker) Stopping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopping
}

// ClearStopping clears the stop intent. Safe to call when unset.
func (t *Tracker) ClearStopping() {
	t.mu.Lock()
	t.stopping = false
	t.stoppingSince = time.Time{}
	t.mu.Unlock()
}

// Resolve turns the current intents plus fresh probe results into one
// state. present reports process presence, queryOK reports whether the
// query protocol answered. Neither signal is trusted alone:
//
//  1. A restart in flight wins outright.
//  2. A stop in flight is re-validated against raw signals so that a
//     finished stop reads Off immediately, and a stop stuck past the
//     grace window heals itself instead of pinning the state.
//  3. Otherwise presence decides Off, and the query decides between
//     Starting (process up, game logic not yet answering) and Running.
func (t *Tracker) Resolve(present func() (bool, error), queryOK func() bool) State {
	t.mu.Lock()
	restarting := t.restarting
	stopping := t.stopping
	since := t.stoppingSince
	grace := t.grace
	now := t.now()
	t.mu.Unlock()

	if restarting {
		return Restarting
	}
	if stopping {
		up, err := present()
		if err == nil && !up && !queryOK() {
			t.ClearStopping()
			return Off
		}
		if now.Sub(since) > grace {
			t.ClearStopping()
		} else {
			return Stopping
		}
	}

	up, err := present()
	if err != nil {
		return Error
	}
	if !up {
		return Off
	}
	if queryOK() {
		return Running
	}
	return Starting
}
