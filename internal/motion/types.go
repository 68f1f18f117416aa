// Package motion implements the motion hysteresis and clip assembly engine.
//
// Each tick the engine pushes one movement level into a RollingBuffer,
// evaluates the Trigger against the current and aged window means and drives
// the clip window: buffered pre-trigger frames and live frames are written to
// a ClipSink until PostFrames ticks after motion ends. Every state transition
// is reported to a Recorder as an EventRecord.
package motion

import (
	"fmt"
	"time"
)

// State is the engine state machine position.
type State int

const (
	// StateIdle means no clip is open.
	StateIdle State = iota
	// StateArmed is the transient state while a clip sink is being opened.
	StateArmed
	// StateRecording means motion is active and the sink is open.
	StateRecording
	// StateDraining means motion ended and post frames are being written.
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateArmed:
		return "ARMED"
	case StateRecording:
		return "RECORDING"
	case StateDraining:
		return "DRAINING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON and CSV output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseState is the inverse of State.String.
func ParseState(name string) (State, error) {
	for s := StateIdle; s <= StateDraining; s++ {
		if s.String() == name {
			return s, nil
		}
	}
	return StateIdle, fmt.Errorf("unknown state %q", name)
}

// UnmarshalText accepts the names produced by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	v, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Frame is an opaque captured frame. Data must not be modified after the
// frame is handed to the engine since it may be held in the pre-frame ring.
type Frame struct {
	Index     int64
	Timestamp time.Time
	Data      []byte
}

// MovementSample is the movement level measured for one frame.
type MovementSample struct {
	FrameIndex int64
	Level      int
}

// EventKind classifies an EventRecord.
type EventKind string

const (
	EventTriggered     EventKind = "triggered"
	EventClipOpened    EventKind = "clip_opened"
	EventClipAborted   EventKind = "clip_aborted"
	EventMotionEnded   EventKind = "motion_ended"
	EventMotionResumed EventKind = "motion_resumed"
	EventClipClosed    EventKind = "clip_closed"
	EventHeartbeat     EventKind = "heartbeat"
)

// EventRecord describes one state transition or heartbeat. Records are
// values and are never modified after they are emitted.
type EventRecord struct {
	Timestamp        time.Time `json:"timestamp"`
	Kind             EventKind `json:"kind"`
	From             State     `json:"from"`
	To               State     `json:"to"`
	FrameIndex       int64     `json:"frame_index"`
	TriggerPoint     int       `json:"trigger_point"`
	TriggerPointBase int       `json:"trigger_point_base"`
	WindowMean       int       `json:"window_mean"`
	AgedMean         int       `json:"aged_mean"`
	PeakLevel        int       `json:"peak_level"`
	PeakFrame        int64     `json:"peak_frame"`
	ClipID           string    `json:"clip_id,omitempty"`
	Manual           bool      `json:"manual,omitempty"`
	Err              string    `json:"error,omitempty"`
}

// TickStats are the per-tick metrics passed to Recorder.Observe.
type TickStats struct {
	Timestamp   time.Time
	FrameIndex  int64
	Level       int
	Warm        bool
	CurrentMean int
	AgedMean    int
	State       State
}

// Recorder consumes engine events. Implementations must not block for long
// and must handle their own errors; nothing they do affects triggering.
type Recorder interface {
	Record(EventRecord)
	Observe(TickStats)
}

// ClipInfo identifies a clip being written.
type ClipInfo struct {
	ID      string
	Opened  time.Time
	Trigger int64
	Manual  bool
}

// ClipSink receives the frames of one clip.
type ClipSink interface {
	WriteFrame(Frame) error
	// Close finalises the clip.
	Close() error
	// Abort discards the clip.
	Abort() error
}

// SinkOpener opens a ClipSink for a new clip.
type SinkOpener interface {
	Open(ClipInfo) (ClipSink, error)
}

// TraceRow is one tick of the per-clip trigger trace.
type TraceRow struct {
	FrameIndex       int64
	Level            int
	CurrentMean      int
	AgedMean         int
	TriggerPoint     int
	TriggerPointBase int
}

// ClipSummary is handed to ClipObservers once a clip is closed.
type ClipSummary struct {
	ClipInfo
	Closed    time.Time
	Frames    int
	PeakLevel int
	PeakFrame Frame
	Trace     []TraceRow
	// Sink is the closed sink, letting observers reach sink-specific
	// metadata such as the output path.
	Sink ClipSink
}

// Duration is the wall time between open and close.
func (s ClipSummary) Duration() time.Duration { return s.Closed.Sub(s.Opened) }

// ClipObserver is notified of every closed clip. Still images, trigger
// charts, the clip table and post-clip commands hang off this hook.
type ClipObserver interface {
	ClipClosed(ClipSummary)
}

// ClipObserverFunc adapts a function to ClipObserver.
type ClipObserverFunc func(ClipSummary)

// ClipClosed calls f.
func (f ClipObserverFunc) ClipClosed(s ClipSummary) { f(s) }
