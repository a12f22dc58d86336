package sensor

import (
	"errors"
	"sync"
	"time"

	"doorwatch/internal/logic"
)

// FakePort is a test double with a settable level and manual event
// delivery.
type FakePort struct {
	mu     sync.Mutex
	id     logic.SensorID
	level  logic.Level
	err    error
	fn     func(logic.Event)
	closed bool
}

// NewFakePort creates a fake sensor holding the given level.
func NewFakePort(id logic.SensorID, level logic.Level) *FakePort {
	return &FakePort{id: id, level: level}
}

// Level returns the scripted level, or the injected error.
func (f *FakePort) Level() (logic.Level, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return logic.LevelIdle, f.err
	}
	return f.level, nil
}

// Subscribe registers the change handler.
func (f *FakePort) Subscribe(fn func(logic.Event)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fn != nil {
		return errors.New("sensor: port already subscribed")
	}
	f.fn = fn
	return nil
}

// Close marks the port as closed.
func (f *FakePort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *FakePort) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// SetLevel changes the level without delivering an event, as if the change
// happened while nobody was watching.
func (f *FakePort) SetLevel(level logic.Level) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.level = level
}

// FailWith makes Level return err.
func (f *FakePort) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Emit sets the level and delivers the change to the subscriber, the way
// an edge interrupt would.
func (f *FakePort) Emit(level logic.Level, at time.Time) {
	f.mu.Lock()
	f.level = level
	fn := f.fn
	id := f.id
	f.mu.Unlock()
	if fn != nil {
		fn(logic.Event{Sensor: id, Level: level, At: at})
	}
}
