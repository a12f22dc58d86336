package traffic

import "time"

// Window is the bounded interval during which a pending observation may
// still pair with the other sensor. The zero value is disarmed.
type Window struct {
	length  time.Duration
	armedAt time.Time
	armed   bool
}

// NewWindow returns a disarmed window of the given length. Non-positive
// lengths fall back to DefaultWindow.
func NewWindow(length time.Duration) Window {
	if length <= 0 {
		length = DefaultWindow
	}
	return Window{length: length}
}

// Arm starts the window at now. Re-arming replaces the previous start.
func (w *Window) Arm(now time.Time) {
	w.armedAt = now
	w.armed = true
}

// Cancel disarms the window.
func (w *Window) Cancel() {
	w.armed = false
	w.armedAt = time.Time{}
}

// Armed reports whether the window is currently running.
func (w *Window) Armed() bool {
	return w.armed
}

// ArmedAt returns the start of the window, zero when disarmed.
func (w *Window) ArmedAt() time.Time {
	return w.armedAt
}

// Length returns the configured window length.
func (w *Window) Length() time.Duration {
	return w.length
}

// Lapsed reports whether the window has run out at now. The boundary is
// inclusive: an instant exactly one length past arming is still inside.
func (w *Window) Lapsed(now time.Time) bool {
	return w.armed && now.Sub(w.armedAt) > w.length
}

// Remaining returns how much of the window is left at now. Disarmed or
// lapsed windows report zero.
func (w *Window) Remaining(now time.Time) time.Duration {
	if !w.armed {
		return 0
	}
	left := w.length - now.Sub(w.armedAt)
	if left < 0 {
		return 0
	}
	return left
}
