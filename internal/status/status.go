// Package status provides a thread-safe status tracker for the
// doorwatch daemon. It is read by the HTTP handlers and rendered into
// heartbeat system events.
package status

import (
	"sync"
	"time"

	"doorwatch/internal/logic"
	"doorwatch/internal/occupancy"
	"doorwatch/internal/traffic"
)

// Config contains daemon configuration for display.
type Config struct {
	Mode        string
	WindowMs    int64
	HeartbeatMs int64
	Backend     string

	// Target is the broker URL or HTTP endpoint readings go to.
	Target   string
	HTTPAddr string
}

// Reading is the last emission, kept for display.
type Reading struct {
	Category string
	Value    float64
	Detail   string
	At       time.Time
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	State       traffic.State
	ArmedAt     time.Time
	Motion      logic.Level
	Door        logic.Level
	Traffic     traffic.Counts
	Occupancy   occupancy.Counts
	LastReading *Reading
	StartTime   time.Time
	Now         time.Time
	LinkUp      bool
	Config      Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// WindowRemaining returns how much of the correlation window is left at
// the snapshot time, zero when nothing is pending.
func (s Snapshot) WindowRemaining() time.Duration {
	if s.State == traffic.StateIdle || s.State == "" {
		return 0
	}
	remaining := time.Duration(s.Config.WindowMs)*time.Millisecond - s.Now.Sub(s.ArmedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// SetTraffic records the correlator state and sensor levels.
// Called from the run loop after every event and tick.
func (t *Tracker) SetTraffic(state traffic.State, armedAt time.Time, motion, door logic.Level, counts traffic.Counts) {
	t.mu.Lock()
	t.snap.State = state
	t.snap.ArmedAt = armedAt
	t.snap.Motion = motion
	t.snap.Door = door
	t.snap.Traffic = counts
	t.mu.Unlock()
}

// SetOccupancy records the observed level in occupancy mode.
func (t *Tracker) SetOccupancy(level logic.Level, counts occupancy.Counts) {
	t.mu.Lock()
	t.snap.Door = level
	t.snap.Occupancy = counts
	t.mu.Unlock()
}

// SetLinkUp sets the transport connection status.
func (t *Tracker) SetLinkUp(up bool) {
	t.mu.Lock()
	t.snap.LinkUp = up
	t.mu.Unlock()
}

// SetLastReading records the most recent emission.
func (t *Tracker) SetLastReading(r Reading) {
	t.mu.Lock()
	t.snap.LastReading = &r
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
