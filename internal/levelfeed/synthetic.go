package levelfeed

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/banshee-data/motion.report/internal/motion"
	"github.com/banshee-data/motion.report/internal/timeutil"
)

// Synthetic generates a quiet noise floor with periodic bursts of movement.
// It exercises the full pipeline without a detector attached.
type Synthetic struct {
	Clock    timeutil.Clock
	Interval time.Duration
	Render   *Renderer
	Seed     uint64

	Noise       int // noise floor is drawn from [0, Noise)
	BurstLevel  int
	BurstEvery  int // ticks from the start of one burst to the next
	BurstLength int
	// Limit stops the feed after this many frames. Zero runs until cancelled.
	Limit int64
}

// NewSynthetic returns a generator with one three-second burst per minute at
// the given frame rate.
func NewSynthetic(fps int, render *Renderer) *Synthetic {
	if fps <= 0 {
		fps = 30
	}
	return &Synthetic{
		Clock:       timeutil.RealClock{},
		Interval:    time.Second / time.Duration(fps),
		Render:      render,
		Seed:        1,
		Noise:       20,
		BurstLevel:  400,
		BurstEvery:  60 * fps,
		BurstLength: 3 * fps,
	}
}

// Level returns the deterministic level for frame i, given a noise source.
func (s *Synthetic) Level(i int64, rng *rand.Rand) int {
	level := 0
	if s.Noise > 0 {
		level = rng.IntN(s.Noise)
	}
	if s.BurstEvery > 0 && s.BurstLength > 0 {
		phase := i % int64(s.BurstEvery)
		// Skip the first cycle so buffers warm up before the first burst.
		if i >= int64(s.BurstEvery) && phase < int64(s.BurstLength) {
			level += s.BurstLevel
		}
	}
	return level
}

func (s *Synthetic) Monitor(ctx context.Context, out chan<- Reading) error {
	clock := s.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	interval := s.Interval
	if interval <= 0 {
		interval = time.Second / 30
	}
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	rng := rand.New(rand.NewPCG(s.Seed, s.Seed^0x9e3779b97f4a7c15))
	for i := int64(0); s.Limit == 0 || i < s.Limit; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
		}
		level := s.Level(i, rng)
		frame := motion.Frame{Index: i, Timestamp: clock.Now()}
		frame.Data = s.Render.Render(frame, level)
		if err := send(ctx, out, Reading{Frame: frame, Level: level}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Synthetic) Close() error { return nil }
