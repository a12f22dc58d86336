//go:build linux

package sensor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"

	"doorwatch/internal/logic"
)

// RealPort reads one input line through the Linux GPIO character device.
// Active-low normalization happens in the kernel request, so Level and the
// edge events already carry logical levels.
type RealPort struct {
	opts Options
	chip *gpiocdev.Chip
	line *gpiocdev.Line

	mu sync.Mutex
	fn func(logic.Event)
}

// NewRealPort requests the configured line as input with edge detection.
// The line is pulled against its active level so a floating input reads
// idle rather than chattering.
func NewRealPort(opts Options) (*RealPort, error) {
	chipName := opts.Chip
	if chipName == "" {
		chipName = DefaultChip
	}
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chipName, err)
	}

	p := &RealPort{opts: opts, chip: chip}

	lineOpts := []gpiocdev.LineReqOption{
		gpiocdev.AsInput,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(p.handleEvent),
	}
	if opts.ActiveLow {
		lineOpts = append(lineOpts, gpiocdev.AsActiveLow, gpiocdev.WithPullUp)
	} else {
		lineOpts = append(lineOpts, gpiocdev.WithPullDown)
	}
	if opts.Debounce > 0 {
		lineOpts = append(lineOpts, gpiocdev.WithDebounce(opts.Debounce))
	}

	line, err := chip.RequestLine(opts.Pin, lineOpts...)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request %s pin %d: %w", opts.Sensor, opts.Pin, err)
	}
	p.line = line

	return p, nil
}

// Level returns the current logical level of the line.
func (p *RealPort) Level() (logic.Level, error) {
	v, err := p.line.Value()
	if err != nil {
		return logic.LevelIdle, fmt.Errorf("read %s pin: %w", p.opts.Sensor, err)
	}
	if v != 0 {
		return logic.LevelActive, nil
	}
	return logic.LevelIdle, nil
}

// Subscribe registers the change handler. Events that fired before the
// subscription are dropped.
func (p *RealPort) Subscribe(fn func(logic.Event)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fn != nil {
		return errors.New("sensor: port already subscribed")
	}
	p.fn = fn
	return nil
}

// handleEvent runs on the gpiocdev event goroutine. It only converts and
// forwards; any real work belongs to the subscriber's loop.
func (p *RealPort) handleEvent(ev gpiocdev.LineEvent) {
	level := logic.LevelIdle
	if ev.Type == gpiocdev.LineEventRisingEdge {
		level = logic.LevelActive
	}

	p.mu.Lock()
	fn := p.fn
	p.mu.Unlock()
	if fn != nil {
		fn(logic.Event{Sensor: p.opts.Sensor, Level: level, At: time.Now()})
	}
}

// Close releases the line and chip. The line is reconfigured back to a
// plain input first so external hardware sees boot-default pin state
// during shutdown.
func (p *RealPort) Close() error {
	var errs []error

	if p.line != nil {
		if err := p.line.Reconfigure(gpiocdev.AsInput); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure %s pin: %w", p.opts.Sensor, err))
		}
		if err := p.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s pin: %w", p.opts.Sensor, err))
		}
	}
	if p.chip != nil {
		if err := p.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
