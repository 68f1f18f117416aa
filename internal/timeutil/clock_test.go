package timeutil

import (
	"testing"
	"time"
)

func TestMockClockAdvance(t *testing.T) {
	start := time.Date(2024, 3, 26, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	c.Advance(90 * time.Second)
	if got := c.Since(start); got != 90*time.Second {
		t.Errorf("Since() = %v, want 90s", got)
	}
	if !c.Now().Equal(start.Add(90 * time.Second)) {
		t.Errorf("Now() = %v", c.Now())
	}
}

func TestMockTickerFiresOnAdvance(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	tk := c.NewTicker(time.Second)
	defer tk.Stop()

	c.Advance(500 * time.Millisecond)
	select {
	case <-tk.C():
		t.Fatal("ticker fired early")
	default:
	}

	c.Advance(500 * time.Millisecond)
	select {
	case <-tk.C():
	default:
		t.Fatal("ticker did not fire after one interval")
	}

	tk.Stop()
	c.Advance(5 * time.Second)
	select {
	case <-tk.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}
