package motion

import (
	"errors"
	"fmt"
)

// ErrConfig is wrapped by every parameter validation failure.
var ErrConfig = errors.New("invalid motion configuration")

// Params are the thresholds and windows that drive the engine. They are
// supplied once at startup.
type Params struct {
	// TriggerPoint is added to the aged mean to form the entry threshold.
	TriggerPoint int
	// TriggerPointBase is added to the aged mean to form the exit threshold.
	TriggerPointBase int
	// Window is the number of samples averaged for each mean.
	Window int
	// Age is the offset, in frames, of the baseline mean.
	Age int
	// PreFrames frames captured before the trigger open each clip.
	PreFrames int
	// PostFrames frames are kept after motion ends.
	PostFrames int
}

// Validate rejects parameter sets that would make the trigger misbehave.
func (p Params) Validate() error {
	if p.TriggerPointBase >= p.TriggerPoint {
		return fmt.Errorf("%w: trigger_point_base (%d) must be below trigger_point (%d)",
			ErrConfig, p.TriggerPointBase, p.TriggerPoint)
	}
	if p.Window < 1 {
		return fmt.Errorf("%w: movement_window must be at least 1, got %d", ErrConfig, p.Window)
	}
	if p.Age < 0 {
		return fmt.Errorf("%w: movement_window_age must not be negative, got %d", ErrConfig, p.Age)
	}
	if p.PreFrames < 0 {
		return fmt.Errorf("%w: pre_frames must not be negative, got %d", ErrConfig, p.PreFrames)
	}
	if p.PostFrames < 0 {
		return fmt.Errorf("%w: post_frames must not be negative, got %d", ErrConfig, p.PostFrames)
	}
	return nil
}

// Decision is the outcome of one trigger evaluation.
type Decision struct {
	// Warm is false during warm-up; nothing else is set then.
	Warm bool
	// Level is the newest movement level.
	Level int
	// Current is the mean of the most recent window.
	Current int
	// Aged is the mean of the window ending Age frames back.
	Aged int
	// Fired is set on the tick motion becomes active.
	Fired bool
	// Ended is set on the tick motion becomes inactive.
	Ended bool
	// Manual is set when a forced trigger was applied this tick.
	Manual bool
}

// Trigger is the two-threshold hysteresis over a RollingBuffer. Motion starts
// when the newest level rises strictly above aged+TriggerPoint and stops when
// the current mean falls strictly below aged+TriggerPointBase.
type Trigger struct {
	params  Params
	active  bool
	pending bool
}

// NewTrigger validates p and returns an inactive trigger.
func NewTrigger(p Params) (*Trigger, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Trigger{params: p}, nil
}

// Active reports whether motion is currently considered active.
func (t *Trigger) Active() bool { return t.active }

// Force requests an unconditional start of motion. It is applied on the next
// warm evaluation.
func (t *Trigger) Force() { t.pending = true }

// Reset drops back to inactive without emitting a decision. Used when a clip
// cannot be opened so that the entry threshold must be crossed again.
func (t *Trigger) Reset() { t.active = false }

// Evaluate updates the trigger from the buffer contents.
func (t *Trigger) Evaluate(b *RollingBuffer) Decision {
	if !b.Warm() {
		return Decision{}
	}
	current, err := b.Mean(0, t.params.Window)
	if err != nil {
		return Decision{}
	}
	aged, err := b.Mean(t.params.Age, t.params.Window)
	if err != nil {
		return Decision{}
	}

	d := Decision{Warm: true, Level: b.Latest(), Current: current, Aged: aged}

	if t.pending {
		t.pending = false
		d.Manual = true
		if !t.active {
			t.active = true
			d.Fired = true
		}
		return d
	}

	if t.active {
		if current < aged+t.params.TriggerPointBase {
			t.active = false
			d.Ended = true
		}
		return d
	}

	if d.Level > aged+t.params.TriggerPoint {
		t.active = true
		d.Fired = true
	}
	return d
}
