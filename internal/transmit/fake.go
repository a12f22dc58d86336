package transmit

import (
	"context"
	"sync"
)

// Fake is a Sender test double that records everything handed to it.
type Fake struct {
	mu sync.Mutex

	// Readings accumulates everything passed to Send.
	Readings []Reading
	// SystemEvents accumulates everything passed to SendSystem.
	SystemEvents []SystemEvent

	// SendErr, if set, is returned by Send.
	SendErr error
	// SystemErr, if set, is returned by SendSystem.
	SystemErr error

	// Connected is what IsConnected reports.
	Connected bool

	closed bool
}

// NewFake creates a fake sender that reports a healthy link.
func NewFake() *Fake {
	return &Fake{Connected: true}
}

// Send records the reading, or fails with the injected error.
func (f *Fake) Send(ctx context.Context, r Reading) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return f.SendErr
	}
	f.Readings = append(f.Readings, r)
	return nil
}

// SendSystem records the event, or fails with the injected error.
func (f *Fake) SendSystem(ev SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SystemErr != nil {
		return f.SystemErr
	}
	f.SystemEvents = append(f.SystemEvents, ev)
	return nil
}

// IsConnected reports the scripted link state.
func (f *Fake) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// Close marks the sender closed.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Sent returns a copy of the recorded readings.
func (f *Fake) Sent() []Reading {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Reading, len(f.Readings))
	copy(out, f.Readings)
	return out
}

// FailWith makes Send return err from now on.
func (f *Fake) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SendErr = err
}

// SetConnected scripts the link state.
func (f *Fake) SetConnected(up bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Connected = up
}
