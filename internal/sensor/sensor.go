// Package sensor provides binary sensor input with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package sensor

import (
	"time"

	"doorwatch/internal/logic"
)

// Port is a single binary sensor input.
type Port interface {
	// Level returns the sensor's current normalized level.
	Level() (logic.Level, error)

	// Close releases the underlying input.
	Close() error
}

// EventPort is a Port that also delivers level-change notifications.
type EventPort interface {
	Port

	// Subscribe registers fn for both-edge level changes. fn runs on the
	// driver's event goroutine; keep it short, typically a channel send.
	// Only one subscriber per port.
	Subscribe(fn func(logic.Event)) error
}

// Options configure a single input line.
type Options struct {
	// Chip is the GPIO chip name, DefaultChip when empty.
	Chip string
	// Pin is the line offset (BCM numbering on a Raspberry Pi).
	Pin int
	// Sensor is stamped into every event from this port.
	Sensor logic.SensorID
	// ActiveLow marks inputs whose electrical active level is low, such as
	// a reed contact switching to ground.
	ActiveLow bool
	// Debounce is the hardware debounce period, 0 for none. Mechanical
	// contacts want one; PIR modules do their own hold-off.
	Debounce time.Duration
}

// DefaultChip is the GPIO chip of a Raspberry Pi header.
const DefaultChip = "gpiochip0"
