package wake

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Armer persists a wake plan for the platform to apply at power-down.
type Armer interface {
	Arm(Plan) error
}

// FileArmer writes the plan as JSON to a fixed path. The write goes through
// a temp file and rename so the platform helper never reads a half-written
// plan.
type FileArmer struct {
	Path string
}

// NewFileArmer returns an armer writing to path.
func NewFileArmer(path string) *FileArmer {
	return &FileArmer{Path: path}
}

// planFile is the on-disk rendering of a Plan. The timer is whole seconds
// because the consumer is a shell helper programming an RTC alarm.
type planFile struct {
	DoorLevel    string `json:"door_level"`
	MotionWake   bool   `json:"motion_wake"`
	TimerSeconds int64  `json:"timer_seconds,omitempty"`
}

// Arm writes the plan.
func (a *FileArmer) Arm(p Plan) error {
	pf := planFile{
		DoorLevel:    string(p.DoorLevel),
		MotionWake:   p.MotionWake,
		TimerSeconds: ceilSeconds(p.Timer),
	}
	data, err := json.MarshalIndent(pf, "", "  ")
	if err != nil {
		return fmt.Errorf("encode wake plan: %w", err)
	}
	data = append(data, '\n')

	tmp := a.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write wake plan: %w", err)
	}
	if err := os.Rename(tmp, a.Path); err != nil {
		return fmt.Errorf("commit wake plan: %w", err)
	}
	return nil
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}

// Fake records armed plans for tests.
type Fake struct {
	Plans []Plan
	Err   error
}

// Arm records the plan, or fails with the injected error.
func (f *Fake) Arm(p Plan) error {
	if f.Err != nil {
		return f.Err
	}
	f.Plans = append(f.Plans, p)
	return nil
}

// Last returns the most recently armed plan.
func (f *Fake) Last() (Plan, bool) {
	if len(f.Plans) == 0 {
		return Plan{}, false
	}
	return f.Plans[len(f.Plans)-1], true
}
