// Package logic contains the domain vocabulary shared by the traffic
// correlator and the occupancy reporter. This package has NO external
// dependencies (no GPIO, HTTP, MQTT, or time.Sleep). Time is always
// injectable via time.Time parameters.
package logic

import "time"

// SensorID identifies one of the physical inputs.
type SensorID string

const (
	SensorMotion SensorID = "MOTION"
	SensorDoor   SensorID = "DOOR"
)

// Level is the normalized logic level of a binary sensor. Active means
// motion present, door open, or latch released, independent of the
// electrical polarity of the input pin.
type Level string

const (
	LevelIdle   Level = "IDLE"
	LevelActive Level = "ACTIVE"
)

// Complement returns the opposite level.
func (l Level) Complement() Level {
	if l == LevelActive {
		return LevelIdle
	}
	return LevelActive
}

// Event is a single observed level change on one sensor.
type Event struct {
	Sensor SensorID
	Level  Level
	At     time.Time
}

// Direction is the outcome of a correlated door/motion pair.
type Direction string

const (
	DirectionEntry Direction = "ENTRY"
	DirectionExit  Direction = "EXIT"
)
