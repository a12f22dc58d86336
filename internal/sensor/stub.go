//go:build !linux

package sensor

import (
	"errors"

	"doorwatch/internal/logic"
)

// RealPort is not available on non-Linux platforms.
type RealPort struct{}

// NewRealPort returns an error on non-Linux platforms.
func NewRealPort(opts Options) (*RealPort, error) {
	return nil, errors.New("sensor: not supported on this platform (requires Linux)")
}

// Level is not implemented on non-Linux platforms.
func (p *RealPort) Level() (logic.Level, error) {
	return logic.LevelIdle, errors.New("sensor: not supported")
}

// Subscribe is not implemented on non-Linux platforms.
func (p *RealPort) Subscribe(fn func(logic.Event)) error {
	return errors.New("sensor: not supported")
}

// Close is not implemented on non-Linux platforms.
func (p *RealPort) Close() error {
	return nil
}
