// Package occupancy mirrors a single contact sensor into occupied/free
// reports. It is the single-sensor counterpart of package traffic: pure
// logic, time injected by the caller, one goroutine at a time.
package occupancy

import (
	"time"

	"doorwatch/internal/logic"
)

// Report is emitted for every observed level change. Active means the
// latch is released (room free), idle means it is engaged (room occupied).
type Report struct {
	Level logic.Level
	At    time.Time
}

// Occupied reports whether the room is occupied at this report's level.
func (r Report) Occupied() bool {
	return r.Level == logic.LevelIdle
}

// Counts tracks reports since startup.
type Counts struct {
	Occupied int
	Freed    int
}

// Reporter tracks the reference level of the contact sensor and reports
// each departure from it. The first observation only establishes the
// reference; there is no transition to report yet.
type Reporter struct {
	level  logic.Level
	primed bool
	counts Counts
}

// New creates a reporter with no reference level yet.
func New() *Reporter {
	return &Reporter{}
}

// Restore seeds the reference level from a retained record.
func (r *Reporter) Restore(level logic.Level) {
	r.level = level
	r.primed = true
}

// Apply feeds one observed level and returns a Report when it differs from
// the reference. Every change reports; there is no suppression window.
func (r *Reporter) Apply(level logic.Level, at time.Time) *Report {
	if !r.primed {
		r.level = level
		r.primed = true
		return nil
	}
	if level == r.level {
		return nil
	}
	r.level = level
	if level == logic.LevelActive {
		r.counts.Freed++
	} else {
		r.counts.Occupied++
	}
	return &Report{Level: level, At: at}
}

// Level returns the current reference level and whether one is established.
func (r *Reporter) Level() (logic.Level, bool) {
	return r.level, r.primed
}

// Counts returns report totals since construction.
func (r *Reporter) Counts() Counts {
	return r.counts
}
