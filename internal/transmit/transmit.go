// Package transmit delivers readings to the home-automation backend with
// abstraction for testing. A reading is one (category, value) pair; the
// state machines upstream decide when one exists, senders only carry it.
package transmit

import (
	"context"
	"time"

	"doorwatch/internal/logic"
)

// Categories understood by the backend.
const (
	CategoryTraffic   = "apartment_traffic"
	CategoryOccupancy = "bathroom_main"
)

// Wire values. The backend stores plain numbers; these are the agreed
// meanings per category.
const (
	ValueEntry    float64 = 0
	ValueExit     float64 = 1
	ValueOccupied float64 = 0
	ValueFree     float64 = 1
)

// Reading is one measurement delivered to the backend.
type Reading struct {
	Category string
	Value    float64
	At       time.Time
}

// TrafficReading renders a correlator resolution as a Reading.
func TrafficReading(dir logic.Direction, at time.Time) Reading {
	v := ValueEntry
	if dir == logic.DirectionExit {
		v = ValueExit
	}
	return Reading{Category: CategoryTraffic, Value: v, At: at}
}

// OccupancyReading renders an occupancy report as a Reading. Active means
// the latch is released, so the room is free.
func OccupancyReading(level logic.Level, at time.Time) Reading {
	v := ValueOccupied
	if level == logic.LevelActive {
		v = ValueFree
	}
	return Reading{Category: CategoryOccupancy, Value: v, At: at}
}

// Sender delivers readings to the backend.
type Sender interface {
	// Send makes one delivery attempt. A nil return means the transport
	// accepted the reading; the error carries the failure detail. Callers
	// never retry: a reading that could not be handed over is lost.
	Send(ctx context.Context, r Reading) error

	// Close releases the transport.
	Close() error
}

// LinkStatus reports whether a sender's transport link is up. Senders
// without a persistent link (plain HTTP) don't implement it.
type LinkStatus interface {
	IsConnected() bool
}

// Lifecycle event names carried on the system channel.
const (
	EventStartup     = "STARTUP"
	EventShutdown    = "SHUTDOWN"
	EventHeartbeat   = "HEARTBEAT"
	EventReconnected = "RECONNECTED"
	EventLost        = "CONNECTION_LOST"
)

// SystemEvent is a lifecycle notification (startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string
	Reason     string // e.g. "SIGTERM" on shutdown
	RawPayload []byte // pre-formatted JSON; if set it is sent verbatim
	Retained   bool
}

// SystemSender is implemented by transports with a system channel. The
// HTTP backend has no endpoint for lifecycle events, so the HTTP sender
// does not implement it.
type SystemSender interface {
	SendSystem(ev SystemEvent) error
}
