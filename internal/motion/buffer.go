package motion

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat"
)

// ErrInsufficientData is returned by RollingBuffer.Mean until the buffer has
// collected enough history. It marks the warm-up period, not a failure.
var ErrInsufficientData = errors.New("insufficient movement history")

// RollingBuffer is a fixed-depth FIFO of movement levels. It holds
// window+age+1 samples and is warm once window+age have been pushed.
type RollingBuffer struct {
	window int
	age    int
	levels []float64
	// scratch avoids an allocation per Mean call.
	scratch []float64
}

// NewRollingBuffer creates a buffer for the given averaging window and age
// offset. The caller validates the parameters.
func NewRollingBuffer(window, age int) *RollingBuffer {
	capacity := window + age + 1
	return &RollingBuffer{
		window:  window,
		age:     age,
		levels:  make([]float64, 0, capacity),
		scratch: make([]float64, 0, window),
	}
}

// Cap is the maximum number of samples retained.
func (b *RollingBuffer) Cap() int { return b.window + b.age + 1 }

// Len is the number of samples currently held.
func (b *RollingBuffer) Len() int { return len(b.levels) }

// Warm reports whether trigger decisions may be made.
func (b *RollingBuffer) Warm() bool { return len(b.levels) >= b.window+b.age }

// Push appends a level, evicting the oldest sample on overflow.
func (b *RollingBuffer) Push(level int) {
	if len(b.levels) == b.Cap() {
		copy(b.levels, b.levels[1:])
		b.levels = b.levels[:len(b.levels)-1]
	}
	b.levels = append(b.levels, float64(level))
}

// Latest returns the newest level, or 0 for an empty buffer.
func (b *RollingBuffer) Latest() int {
	if len(b.levels) == 0 {
		return 0
	}
	return int(b.levels[len(b.levels)-1])
}

// Mean returns the mean of the window most recent samples ending offset
// samples back from the newest, rounded half to even.
func (b *RollingBuffer) Mean(offset, window int) (int, error) {
	if !b.Warm() || window <= 0 || offset < 0 {
		return 0, ErrInsufficientData
	}
	end := len(b.levels) - offset
	start := end - window
	if start < 0 {
		return 0, ErrInsufficientData
	}
	b.scratch = append(b.scratch[:0], b.levels[start:end]...)
	return int(math.RoundToEven(stat.Mean(b.scratch, nil))), nil
}

// Levels returns a copy of the buffer contents, oldest first.
func (b *RollingBuffer) Levels() []int {
	out := make([]int, len(b.levels))
	for i, v := range b.levels {
		out[i] = int(v)
	}
	return out
}
