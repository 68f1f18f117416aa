// Package eventlog records engine transitions and periodic heartbeats to a
// set of append-only sinks.
package eventlog

import (
	"math"
	"sync"
	"time"

	"github.com/banshee-data/motion.report/internal/monitoring"
	"github.com/banshee-data/motion.report/internal/motion"
)

// Sink persists or forwards event records.
type Sink interface {
	WriteEvent(motion.EventRecord) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(motion.EventRecord) error

// WriteEvent calls f.
func (f SinkFunc) WriteEvent(r motion.EventRecord) error { return f(r) }

// DefaultHistory is the number of ticks kept for the live level chart.
const DefaultHistory = 900

// Logger implements motion.Recorder. Records are fanned out to every sink;
// sink failures are logged and otherwise ignored so that logging can never
// feed back into triggering.
type Logger struct {
	params   motion.Params
	interval time.Duration
	sinks    []Sink

	periodStart time.Time
	total       int
	moving      int
	highest     int

	mu      sync.Mutex
	history []motion.TickStats
	maxHist int
}

// New creates a Logger. A zero interval disables heartbeats.
func New(params motion.Params, interval time.Duration, sinks ...Sink) *Logger {
	return &Logger{
		params:   params,
		interval: interval,
		sinks:    sinks,
		maxHist:  DefaultHistory,
	}
}

// AddSink attaches another sink. It must be called before the engine runs.
func (l *Logger) AddSink(s Sink) {
	l.sinks = append(l.sinks, s)
}

// Record implements motion.Recorder.
func (l *Logger) Record(rec motion.EventRecord) {
	for _, s := range l.sinks {
		if err := s.WriteEvent(rec); err != nil {
			monitoring.Logf("[eventlog] failed to write %s event: %v", rec.Kind, err)
		}
	}
}

// Observe implements motion.Recorder. It accumulates the heartbeat period
// and emits a heartbeat record once the interval has elapsed.
func (l *Logger) Observe(ts motion.TickStats) {
	l.mu.Lock()
	if len(l.history) == l.maxHist {
		copy(l.history, l.history[1:])
		l.history = l.history[:len(l.history)-1]
	}
	l.history = append(l.history, ts)
	l.mu.Unlock()

	if l.interval <= 0 {
		return
	}
	if l.periodStart.IsZero() {
		l.periodStart = ts.Timestamp
	}
	if ts.Level > 0 {
		l.total += ts.Level
		l.moving++
	}
	if ts.Level > l.highest {
		l.highest = ts.Level
	}
	if ts.Timestamp.Sub(l.periodStart) < l.interval {
		return
	}

	// The average only counts frames that saw movement so that a quiet
	// period does not drag it to zero.
	average := 0
	if l.moving > 0 {
		average = int(math.RoundToEven(float64(l.total) / float64(l.moving)))
	}
	l.Record(motion.EventRecord{
		Timestamp:        ts.Timestamp,
		Kind:             motion.EventHeartbeat,
		From:             ts.State,
		To:               ts.State,
		FrameIndex:       ts.FrameIndex,
		TriggerPoint:     l.params.TriggerPoint,
		TriggerPointBase: l.params.TriggerPointBase,
		WindowMean:       average,
		AgedMean:         ts.AgedMean,
		PeakLevel:        l.highest,
	})
	l.periodStart = ts.Timestamp
	l.total, l.moving, l.highest = 0, 0, 0
}

// History returns the most recent tick stats, oldest first. Safe for
// concurrent use.
func (l *Logger) History() []motion.TickStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]motion.TickStats, len(l.history))
	copy(out, l.history)
	return out
}
