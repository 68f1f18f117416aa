package motion

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/motion.report/internal/monitoring"
	"github.com/banshee-data/motion.report/internal/timeutil"
)

// LevelSource measures the movement level of a frame.
type LevelSource interface {
	Measure(Frame) (MovementSample, error)
}

// Options wires the engine to its collaborators. Only Sinks is required.
type Options struct {
	Sinks     SinkOpener
	Recorder  Recorder
	Observers []ClipObserver
	Commands  *Commands
	Clock     timeutil.Clock

	// TraceWindow is the number of ticks of trigger trace kept per clip.
	TraceWindow int

	// NewClipID defaults to uuid.NewString.
	NewClipID func() string

	// OnDiagnostics receives the result of a dump request. When nil the
	// diagnostics are logged.
	OnDiagnostics func(Diagnostics)
}

// Engine runs the motion state machine. Tick, Process and Close must be
// called from a single goroutine; Status may be called from any goroutine.
type Engine struct {
	params Params
	opts   Options
	clock  timeutil.Clock

	buf     *RollingBuffer
	trigger *Trigger
	ring    frameRing
	trace   traceLog

	state     State
	since     time.Time
	window    *ClipWindow
	sink      ClipSink
	clip      ClipInfo
	written   int
	peakLevel int
	peakFrame Frame
	clips     int

	last      Decision
	lastFrame int64

	status atomic.Pointer[Status]
}

// NewEngine validates p and builds an idle engine.
func NewEngine(p Params, opts Options) (*Engine, error) {
	trigger, err := NewTrigger(p)
	if err != nil {
		return nil, err
	}
	if opts.Sinks == nil {
		return nil, fmt.Errorf("%w: no clip sink configured", ErrConfig)
	}
	if opts.TraceWindow < 0 {
		return nil, fmt.Errorf("%w: trace window must not be negative, got %d", ErrConfig, opts.TraceWindow)
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Commands == nil {
		opts.Commands = NewCommands()
	}
	if opts.NewClipID == nil {
		opts.NewClipID = uuid.NewString
	}

	e := &Engine{
		params:    p,
		opts:      opts,
		clock:     opts.Clock,
		buf:       NewRollingBuffer(p.Window, p.Age),
		trigger:   trigger,
		ring:      newFrameRing(p.PreFrames),
		trace:     traceLog{size: opts.TraceWindow},
		state:     StateIdle,
		since:     opts.Clock.Now(),
		lastFrame: -1,
	}
	e.publish()
	return e, nil
}

// Params returns the engine parameters.
func (e *Engine) Params() Params { return e.params }

// Commands returns the queue polled at the start of each tick.
func (e *Engine) Commands() *Commands { return e.opts.Commands }

// Status returns the snapshot stored at the end of the last tick.
func (e *Engine) Status() Status {
	return *e.status.Load()
}

// Process measures frame with src and runs one tick.
func (e *Engine) Process(frame Frame, src LevelSource) State {
	sample, err := src.Measure(frame)
	return e.Tick(frame, sample.Level, err)
}

// Tick runs one capture cycle for frame with its measured movement level. A
// non-nil detectErr or a negative level counts as no movement.
func (e *Engine) Tick(frame Frame, level int, detectErr error) State {
	now := e.clock.Now()
	force, dump := e.opts.Commands.Poll()
	if force {
		monitoring.Logf("[engine] manual clip requested at frame %d", frame.Index)
		e.trigger.Force()
	}

	if detectErr != nil || level < 0 {
		if detectErr == nil {
			detectErr = fmt.Errorf("negative movement level %d", level)
		}
		monitoring.Logf("[engine] frame %d: detector failure, treating as no movement: %v", frame.Index, detectErr)
		level = 0
	}

	e.buf.Push(level)
	d := e.trigger.Evaluate(e.buf)
	d.Level = level
	e.last = d
	e.lastFrame = frame.Index

	if d.Warm {
		e.trace.add(TraceRow{
			FrameIndex:       frame.Index,
			Level:            level,
			CurrentMean:      d.Current,
			AgedMean:         d.Aged,
			TriggerPoint:     d.Aged + e.params.TriggerPoint,
			TriggerPointBase: d.Aged + e.params.TriggerPointBase,
		})
	}

	if !e.step(now, frame, d) {
		e.ring.push(frame)
	}

	if e.opts.Recorder != nil {
		e.opts.Recorder.Observe(TickStats{
			Timestamp:   now,
			FrameIndex:  frame.Index,
			Level:       level,
			Warm:        d.Warm,
			CurrentMean: d.Current,
			AgedMean:    d.Aged,
			State:       e.state,
		})
	}

	if dump {
		e.dumpDiagnostics()
	}

	e.publish()
	return e.state
}

// step drives the clip window and reports whether frame went into a clip.
func (e *Engine) step(now time.Time, frame Frame, d Decision) bool {
	if d.Fired && e.state == StateIdle {
		info := ClipInfo{
			ID:      e.opts.NewClipID(),
			Opened:  now,
			Trigger: frame.Index,
			Manual:  d.Manual,
		}
		if !e.openClip(now, info, d) {
			return false
		}
	}
	if e.sink == nil {
		return false
	}

	if e.trigger.Active() {
		e.window.Extend()
		if e.state == StateDraining {
			e.transition(now, StateDraining, StateRecording, EventMotionResumed, frame.Index, d, nil)
		}
	} else if e.state == StateRecording {
		e.transition(now, StateRecording, StateDraining, EventMotionEnded, frame.Index, d, nil)
	}

	wrote := false
	if e.window.FramesRemaining > 0 {
		if err := e.sink.WriteFrame(frame); err != nil {
			e.abortClip(now, frame.Index, d, fmt.Errorf("write frame %d: %w", frame.Index, err))
			return false
		}
		wrote = true
		e.window.consume()
		e.written++
		if d.Level > e.peakLevel {
			e.peakLevel = d.Level
			e.peakFrame = frame
		}
	}

	if e.window.FramesRemaining == 0 && !e.trigger.Active() {
		e.closeClip(now, frame.Index, d)
	}
	return wrote
}

func (e *Engine) openClip(now time.Time, info ClipInfo, d Decision) bool {
	e.clip = info
	e.window = newClipWindow(e.params.PreFrames, e.params.PostFrames)
	e.transition(now, StateIdle, StateArmed, EventTriggered, info.Trigger, d, nil)

	sink, err := e.opts.Sinks.Open(info)
	if err != nil {
		monitoring.Logf("[engine] clip %s: open failed, discarding clip: %v", info.ID, err)
		e.trigger.Reset()
		e.transition(now, StateArmed, StateIdle, EventClipAborted, info.Trigger, d, err)
		e.resetClip()
		return false
	}
	e.sink = sink
	e.peakLevel = -1

	for _, f := range e.ring.drain() {
		if err := sink.WriteFrame(f); err != nil {
			e.abortClip(now, info.Trigger, d, fmt.Errorf("write pre-frame %d: %w", f.Index, err))
			return false
		}
		e.window.consume()
		e.written++
	}

	e.trace.start()
	e.transition(now, StateArmed, StateRecording, EventClipOpened, info.Trigger, d, nil)
	return true
}

func (e *Engine) abortClip(now time.Time, index int64, d Decision, cause error) {
	monitoring.Logf("[engine] clip %s: aborting: %v", e.clip.ID, cause)
	if err := e.sink.Abort(); err != nil {
		monitoring.Logf("[engine] clip %s: discard failed: %v", e.clip.ID, err)
	}
	e.trigger.Reset()
	e.trace.finish()
	e.transition(now, e.state, StateIdle, EventClipAborted, index, d, cause)
	e.resetClip()
}

func (e *Engine) closeClip(now time.Time, index int64, d Decision) error {
	sink := e.sink
	if err := sink.Close(); err != nil {
		err = fmt.Errorf("close clip: %w", err)
		e.abortClip(now, index, d, err)
		return err
	}

	summary := ClipSummary{
		ClipInfo:  e.clip,
		Closed:    now,
		Frames:    e.written,
		PeakLevel: max(e.peakLevel, 0),
		PeakFrame: e.peakFrame,
		Trace:     e.trace.finish(),
		Sink:      sink,
	}
	e.clips++
	e.transition(now, e.state, StateIdle, EventClipClosed, index, d, nil)
	e.resetClip()

	for _, obs := range e.opts.Observers {
		obs.ClipClosed(summary)
	}
	return nil
}

func (e *Engine) resetClip() {
	e.sink = nil
	e.window = nil
	e.clip = ClipInfo{}
	e.written = 0
	e.peakLevel = 0
	e.peakFrame = Frame{}
}

func (e *Engine) transition(now time.Time, from, to State, kind EventKind, index int64, d Decision, cause error) {
	rec := EventRecord{
		Timestamp:        now,
		Kind:             kind,
		From:             from,
		To:               to,
		FrameIndex:       index,
		TriggerPoint:     e.params.TriggerPoint,
		TriggerPointBase: e.params.TriggerPointBase,
		WindowMean:       d.Current,
		AgedMean:         d.Aged,
		PeakLevel:        max(e.peakLevel, 0),
		PeakFrame:        e.peakFrame.Index,
		ClipID:           e.clip.ID,
		Manual:           e.clip.Manual,
	}
	if cause != nil {
		rec.Err = cause.Error()
	}
	e.state = to
	e.since = now
	monitoring.Logf("[engine] %s -> %s (%s) frame=%d mean=%d aged=%d", from, to, kind, index, d.Current, d.Aged)
	if e.opts.Recorder != nil {
		e.opts.Recorder.Record(rec)
	}
}

// Close finalises any open clip. It is called once the frame loop has
// stopped, for example on SIGTERM.
func (e *Engine) Close() error {
	if e.sink == nil {
		return nil
	}
	monitoring.Logf("[engine] shutting down with clip %s open, closing it", e.clip.ID)
	e.trigger.Reset()
	e.window.FramesRemaining = 0
	err := e.closeClip(e.clock.Now(), e.lastFrame, e.last)
	e.publish()
	return err
}

// Diagnostics captures the engine internals. Like Tick it must only be
// called from the engine goroutine.
func (e *Engine) Diagnostics() Diagnostics {
	d := Diagnostics{
		Status:    *e.status.Load(),
		Params:    e.params,
		Levels:    e.buf.Levels(),
		PreFrames: e.ring.len(),
		PeakLevel: max(e.peakLevel, 0),
	}
	if e.window != nil {
		d.FramesRequired = e.window.FramesRemaining
	}
	readMemStats(&d)
	return d
}

func (e *Engine) dumpDiagnostics() {
	d := e.Diagnostics()
	if e.opts.OnDiagnostics != nil {
		e.opts.OnDiagnostics(d)
		return
	}
	b, err := json.Marshal(d)
	if err != nil {
		monitoring.Logf("[engine] diagnostics: %v", err)
		return
	}
	monitoring.Logf("[engine] diagnostics: %s", b)
}

func (e *Engine) publish() {
	s := &Status{
		State:       e.state,
		Since:       e.since,
		FrameIndex:  e.lastFrame,
		Warm:        e.last.Warm,
		Level:       e.last.Level,
		CurrentMean: e.last.Current,
		AgedMean:    e.last.Aged,
		ClipID:      e.clip.ID,
		ClipOpened:  e.clip.Opened,
		Clips:       e.clips,
	}
	e.status.Store(s)
}

// IsConfigError reports whether err came from parameter validation.
func IsConfigError(err error) bool { return errors.Is(err, ErrConfig) }
