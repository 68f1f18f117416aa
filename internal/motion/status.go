package motion

import (
	"runtime"
	"time"
)

// Status is the snapshot published at the end of every tick. Readers get an
// immutable value and never block the engine.
type Status struct {
	State       State     `json:"state"`
	Since       time.Time `json:"since"`
	FrameIndex  int64     `json:"frame_index"`
	Warm        bool      `json:"warm"`
	Level       int       `json:"level"`
	CurrentMean int       `json:"current_mean"`
	AgedMean    int       `json:"aged_mean"`
	ClipID      string    `json:"clip_id,omitempty"`
	ClipOpened  time.Time `json:"clip_opened,omitempty"`
	Clips       int       `json:"clips"`
}

// Recording reports whether a clip is being written.
func (s Status) Recording() bool {
	return s.State == StateRecording || s.State == StateDraining
}

// ModeSince is when the engine last moved between monitoring and
// recording.
func (s Status) ModeSince() time.Time {
	if s.Recording() && !s.ClipOpened.IsZero() {
		return s.ClipOpened
	}
	return s.Since
}

// Diagnostics is the payload of a diagnostics dump.
type Diagnostics struct {
	Status         Status `json:"status"`
	Params         Params `json:"params"`
	Levels         []int  `json:"levels"`
	PreFrames      int    `json:"pre_frames_buffered"`
	FramesRequired int    `json:"frames_required"`
	PeakLevel      int    `json:"peak_level"`
	HeapAlloc      uint64 `json:"heap_alloc"`
	NumGC          uint32 `json:"num_gc"`
	Goroutines     int    `json:"goroutines"`
}

func readMemStats(d *Diagnostics) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	d.HeapAlloc = m.HeapAlloc
	d.NumGC = m.NumGC
	d.Goroutines = runtime.NumGoroutine()
}
