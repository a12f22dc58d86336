// Package wake computes the hardware wake sources to arm before each
// power-down of the cycle-powered variant and persists the resulting plan
// for the platform helper that programs the actual pins and alarm.
package wake

import (
	"time"

	"doorwatch/internal/logic"
	"doorwatch/internal/traffic"
)

// MinTimer is the shortest timer the plan will request. Platform alarms
// take whole positive durations, so a nearly-exhausted window still gets a
// one second timer rather than zero.
const MinTimer = time.Second

// Plan describes the wake sources to arm before powering down.
type Plan struct {
	// DoorLevel is the door level whose arrival wakes the device. Always
	// the complement of the level observed at arm time; a level-triggered
	// wake on the current level would fire immediately.
	DoorLevel logic.Level
	// MotionWake arms wake-on-active for the motion sensor. Set only while
	// the sensor reads idle, for the same reason.
	MotionWake bool
	// Timer is the residual pairing window. Zero when nothing is pending.
	Timer time.Duration
}

// Next computes the traffic-mode plan from the post-transition correlator
// state and the currently observed sensor levels.
func Next(state traffic.State, motion, door logic.Level, remaining time.Duration) Plan {
	p := Plan{
		DoorLevel:  door.Complement(),
		MotionWake: motion == logic.LevelIdle,
	}
	if state != traffic.StateIdle {
		p.Timer = clampTimer(remaining)
	}
	return p
}

// NextOccupancy computes the single-sensor plan: wake on the complement of
// the contact's current level, no timer.
func NextOccupancy(level logic.Level) Plan {
	return Plan{DoorLevel: level.Complement()}
}

func clampTimer(remaining time.Duration) time.Duration {
	if remaining < MinTimer {
		return MinTimer
	}
	return remaining
}
