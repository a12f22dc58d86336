// Package traffic implements the correlator that pairs door and motion
// activity into directional entry/exit resolutions. Like package logic it
// does no I/O of its own; callers inject time through event timestamps and
// explicit now parameters.
package traffic

import (
	"time"

	"doorwatch/internal/logic"
)

// State is the correlator's position in the pairing cycle.
type State string

const (
	StateIdle          State = "IDLE"
	StateMotionPending State = "MOTION_PENDING"
	StateDoorPending   State = "DOOR_PENDING"
)

// DefaultWindow is how long a pending observation stays eligible for
// pairing before it is discarded.
const DefaultWindow = 15 * time.Second

// Resolution is an entry or exit inferred from a completed pair.
type Resolution struct {
	Direction logic.Direction
	At        time.Time
}

// DiscardCause says why a pending observation was dropped without pairing.
type DiscardCause string

const (
	DiscardLapsed     DiscardCause = "WINDOW_LAPSED"
	DiscardSensorIdle DiscardCause = "SENSOR_IDLE"
)

// Counts tracks resolutions and discards since startup.
type Counts struct {
	Entries    int
	Exits      int
	Lapsed     int
	SensorIdle int
}

// Correlator pairs events from the two sensors within a bounded window.
//
// The pairing rule is fixed: a pending door activation resolved by motion
// is an entry (door opened from outside, then the room saw the person);
// pending motion resolved by the door is an exit (the room saw the person,
// then the door opened). A pending observation is dropped when its own
// sensor returns to idle or when the window lapses, and a drop is never
// reported downstream.
//
// Not safe for concurrent use; both binaries drive it from one goroutine.
type Correlator struct {
	state  State
	window Window
	counts Counts
}

// New creates an idle correlator with the given pairing window.
func New(window time.Duration) *Correlator {
	return &Correlator{
		state:  StateIdle,
		window: NewWindow(window),
	}
}

// Apply feeds one observed level change through the transition table and
// returns a Resolution when the change completes a pair. The correlator
// returns to idle in the same call that produces a Resolution, so a single
// pending observation can never resolve twice.
func (c *Correlator) Apply(ev logic.Event) *Resolution {
	// A pending observation that outlived its window is dropped before the
	// new event is considered; the event then applies from idle.
	c.ExpireIfDue(ev.At)

	switch c.state {
	case StateIdle:
		if ev.Level != logic.LevelActive {
			// Idle-level events carry no information here.
			return nil
		}
		switch ev.Sensor {
		case logic.SensorMotion:
			c.arm(StateMotionPending, ev.At)
		case logic.SensorDoor:
			c.arm(StateDoorPending, ev.At)
		}

	case StateMotionPending:
		switch {
		case ev.Sensor == logic.SensorDoor && ev.Level == logic.LevelActive:
			return c.resolve(logic.DirectionExit, ev.At)
		case ev.Sensor == logic.SensorMotion && ev.Level == logic.LevelIdle:
			c.discard(DiscardSensorIdle)
		}

	case StateDoorPending:
		switch {
		case ev.Sensor == logic.SensorMotion && ev.Level == logic.LevelActive:
			return c.resolve(logic.DirectionEntry, ev.At)
		case ev.Sensor == logic.SensorDoor && ev.Level == logic.LevelIdle:
			c.discard(DiscardSensorIdle)
		}
	}

	return nil
}

// ExpireIfDue drops a pending observation whose window has lapsed at now
// and reports whether a drop happened. The daemon calls this from its tick;
// the one-shot calls it right after restoring persisted state, before any
// polled level is processed.
func (c *Correlator) ExpireIfDue(now time.Time) bool {
	if c.state == StateIdle || !c.window.Lapsed(now) {
		return false
	}
	c.discard(DiscardLapsed)
	return true
}

// Restore seeds the correlator from persisted state. A pending state whose
// window has already lapsed is dropped immediately; the return value
// reports that drop.
func (c *Correlator) Restore(state State, armedAt time.Time, now time.Time) bool {
	switch state {
	case StateMotionPending, StateDoorPending:
		c.state = state
		c.window.Arm(armedAt)
		return c.ExpireIfDue(now)
	default:
		c.state = StateIdle
		c.window.Cancel()
		return false
	}
}

// Snapshot returns the current state and, while pending, the window start.
func (c *Correlator) Snapshot() (State, time.Time) {
	return c.state, c.window.ArmedAt()
}

// Remaining returns how much pairing window is left at now, zero when idle.
func (c *Correlator) Remaining(now time.Time) time.Duration {
	if c.state == StateIdle {
		return 0
	}
	return c.window.Remaining(now)
}

// WindowLength returns the configured pairing window.
func (c *Correlator) WindowLength() time.Duration {
	return c.window.Length()
}

// Counts returns resolution and discard totals since construction.
func (c *Correlator) Counts() Counts {
	return c.counts
}

func (c *Correlator) arm(s State, at time.Time) {
	c.state = s
	c.window.Arm(at)
}

func (c *Correlator) resolve(dir logic.Direction, at time.Time) *Resolution {
	c.state = StateIdle
	c.window.Cancel()
	switch dir {
	case logic.DirectionEntry:
		c.counts.Entries++
	case logic.DirectionExit:
		c.counts.Exits++
	}
	return &Resolution{Direction: dir, At: at}
}

func (c *Correlator) discard(cause DiscardCause) {
	c.state = StateIdle
	c.window.Cancel()
	switch cause {
	case DiscardLapsed:
		c.counts.Lapsed++
	case DiscardSensorIdle:
		c.counts.SensorIdle++
	}
}
