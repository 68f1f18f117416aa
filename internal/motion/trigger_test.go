package motion

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParams() Params {
	return Params{TriggerPoint: 20, TriggerPointBase: 10, Window: 5, Age: 2, PreFrames: 3, PostFrames: 4}
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Params)
		wantErr bool
	}{
		{"valid", func(p *Params) {}, false},
		{"zero age", func(p *Params) { p.Age = 0 }, false},
		{"zero pre and post", func(p *Params) { p.PreFrames, p.PostFrames = 0, 0 }, false},
		{"base equals point", func(p *Params) { p.TriggerPointBase = p.TriggerPoint }, true},
		{"base above point", func(p *Params) { p.TriggerPointBase = 30 }, true},
		{"zero window", func(p *Params) { p.Window = 0 }, true},
		{"negative window", func(p *Params) { p.Window = -5 }, true},
		{"negative age", func(p *Params) { p.Age = -1 }, true},
		{"negative pre", func(p *Params) { p.PreFrames = -1 }, true},
		{"negative post", func(p *Params) { p.PostFrames = -1 }, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := testParams()
			tc.modify(&p)
			err := p.Validate()
			if tc.wantErr {
				if !errors.Is(err, ErrConfig) {
					t.Errorf("Validate() = %v, want ErrConfig", err)
				}
			} else if err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}

func warmBuffer(p Params, level int) *RollingBuffer {
	b := NewRollingBuffer(p.Window, p.Age)
	for i := 0; i < p.Window+p.Age; i++ {
		b.Push(level)
	}
	return b
}

func TestTriggerInertDuringWarmUp(t *testing.T) {
	p := testParams()
	tr, err := NewTrigger(p)
	require.NoError(t, err)

	b := NewRollingBuffer(p.Window, p.Age)
	for i := 0; i < p.Window+p.Age-1; i++ {
		b.Push(1000)
		d := tr.Evaluate(b)
		assert.Equal(t, Decision{}, d)
		assert.False(t, tr.Active())
	}
}

func TestTriggerBoundaryIsStrict(t *testing.T) {
	p := testParams()
	tr, err := NewTrigger(p)
	require.NoError(t, err)

	b := warmBuffer(p, 0)
	b.Push(20) // exactly aged(0) + TriggerPoint
	d := tr.Evaluate(b)
	assert.True(t, d.Warm)
	assert.False(t, d.Fired)
	assert.False(t, tr.Active())

	b.Push(21)
	d = tr.Evaluate(b)
	assert.True(t, d.Fired)
	assert.True(t, tr.Active())
}

func TestTriggerHeldAtBoundaryDoesNotOscillate(t *testing.T) {
	p := testParams()
	tr, err := NewTrigger(p)
	require.NoError(t, err)

	// Fire once, then hold the level flat. The aged mean catches up with the
	// current mean so the exit fires exactly once and entry never recurs.
	b := warmBuffer(p, 0)
	b.Push(40)
	require.True(t, tr.Evaluate(b).Fired)

	var fired, ended int
	for i := 0; i < 200; i++ {
		b.Push(40)
		d := tr.Evaluate(b)
		if d.Fired {
			fired++
		}
		if d.Ended {
			ended++
		}
	}
	assert.Equal(t, 0, fired)
	assert.Equal(t, 1, ended)
	assert.False(t, tr.Active())
}

func TestTriggerForce(t *testing.T) {
	p := testParams()
	tr, err := NewTrigger(p)
	require.NoError(t, err)

	b := NewRollingBuffer(p.Window, p.Age)
	b.Push(0)
	tr.Force()
	assert.False(t, tr.Evaluate(b).Fired, "force must wait for warm-up")

	for i := 1; i < p.Window+p.Age; i++ {
		b.Push(0)
	}
	d := tr.Evaluate(b)
	assert.True(t, d.Fired)
	assert.True(t, d.Manual)
	assert.True(t, tr.Active())

	// A flat signal ends the forced motion on the following tick.
	b.Push(0)
	d = tr.Evaluate(b)
	assert.True(t, d.Ended)
}

func TestTriggerReset(t *testing.T) {
	p := testParams()
	tr, err := NewTrigger(p)
	require.NoError(t, err)

	b := warmBuffer(p, 0)
	b.Push(100)
	require.True(t, tr.Evaluate(b).Fired)
	tr.Reset()
	assert.False(t, tr.Active())
}

func TestNewTriggerRejectsMisconfiguration(t *testing.T) {
	p := testParams()
	p.TriggerPointBase = p.TriggerPoint
	_, err := NewTrigger(p)
	assert.ErrorIs(t, err, ErrConfig)
}
