package levelfeed

import (
	"bytes"
	"context"
	"errors"
	"image/jpeg"
	"io"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/banshee-data/motion.report/internal/motion"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		line     string
		index    int64
		hasIndex bool
		level    int
		wantErr  bool
	}{
		{line: "42", level: 42},
		{line: "  7 ", level: 7},
		{line: "10,250", index: 10, hasIndex: true, level: 250},
		{line: "11 0", index: 11, hasIndex: true, level: 0},
		{line: "12\t-3", index: 12, hasIndex: true, level: -3},
		{line: "abc", wantErr: true},
		{line: "1,x", wantErr: true},
		{line: "x,1", wantErr: true},
		{line: "1,2,3", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			index, hasIndex, level, err := ParseLine(tt.line)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrMalformedLine)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.index, index)
			assert.Equal(t, tt.hasIndex, hasIndex)
			assert.Equal(t, tt.level, level)
		})
	}
}

func collect(t *testing.T, f Feed) ([]Reading, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out := make(chan Reading)
	var (
		readings []Reading
		wg       sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for r := range out {
			readings = append(readings, r)
		}
	}()
	err := f.Monitor(ctx, out)
	close(out)
	wg.Wait()
	return readings, err
}

func TestLineFeed(t *testing.T) {
	input := "5\n# comment\n\n9\n20,30\nbogus\n40\n"
	f := NewLineFeed("test", strings.NewReader(input), LineOptions{})

	readings, err := collect(t, f)
	require.NoError(t, err)
	require.Len(t, readings, 5)

	var indices []int64
	var levels []int
	for _, r := range readings {
		indices = append(indices, r.Frame.Index)
		levels = append(levels, r.Level)
		assert.Nil(t, r.Frame.Data)
	}
	assert.Equal(t, []int64{0, 1, 20, 21, 22}, indices)
	assert.Equal(t, []int{5, 9, 30, 0, 40}, levels)

	require.Error(t, readings[3].Err)
	assert.ErrorIs(t, readings[3].Err, ErrMalformedLine)
	assert.Contains(t, readings[3].Err.Error(), "line 6")
	assert.NoError(t, f.Close())
}

func TestLineFeedPaced(t *testing.T) {
	f := NewLineFeed("paced", strings.NewReader("1\n2\n3\n"), LineOptions{Interval: time.Millisecond})
	start := time.Now()
	readings, err := collect(t, f)
	require.NoError(t, err)
	assert.Len(t, readings, 3)
	assert.GreaterOrEqual(t, time.Since(start), 3*time.Millisecond)
}

func TestLineFeedCancel(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	f := NewLineFeed("pipe", r, LineOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Reading, 1)
	done := make(chan error, 1)
	go func() { done <- f.Monitor(ctx, out) }()

	_, err := w.Write([]byte("12\n"))
	require.NoError(t, err)
	got := <-out
	assert.Equal(t, 12, got.Level)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return after cancel")
	}
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

func TestLineFeedReadError(t *testing.T) {
	boom := errors.New("device unplugged")
	_, err := collect(t, NewLineFeed("broken", errReader{boom}, LineOptions{}))
	assert.ErrorIs(t, err, boom)
}

// mockPort is an in-memory serial port.
type mockPort struct {
	io.Reader
	written bytes.Buffer
	closed  bool
}

func (p *mockPort) Write(b []byte) (int, error) { return p.written.Write(b) }
func (p *mockPort) Close() error                { p.closed = true; return nil }

func TestOpenSerial(t *testing.T) {
	port := &mockPort{Reader: strings.NewReader("0,3\n1,300\n")}
	var gotPath string
	var gotMode *serial.Mode
	opener := func(path string, mode *serial.Mode) (SerialPorter, error) {
		gotPath, gotMode = path, mode
		return port, nil
	}

	f, err := OpenSerial("/dev/ttyUSB0", PortOptions{StopBits: 2, Parity: "even"}, opener, LineOptions{})
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", gotPath)
	assert.Equal(t, &serial.Mode{BaudRate: 115200, DataBits: 8, Parity: serial.EvenParity, StopBits: serial.TwoStopBits}, gotMode)

	readings, err := collect(t, f)
	require.NoError(t, err)
	require.Len(t, readings, 2)
	assert.Equal(t, 300, readings[1].Level)

	require.NoError(t, f.Close())
	assert.True(t, port.closed)
}

func TestOpenSerialErrors(t *testing.T) {
	_, err := OpenSerial("/dev/null", PortOptions{DataBits: 9}, nil, LineOptions{})
	assert.ErrorContains(t, err, "data bits")

	boom := errors.New("permission denied")
	_, err = OpenSerial("/dev/ttyS0", PortOptions{}, func(string, *serial.Mode) (SerialPorter, error) {
		return nil, boom
	}, LineOptions{})
	assert.ErrorIs(t, err, boom)
}

func TestPortOptionsNormalize(t *testing.T) {
	tests := []struct {
		name    string
		in      PortOptions
		want    PortOptions
		wantErr bool
	}{
		{name: "defaults", want: PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"}},
		{name: "odd", in: PortOptions{BaudRate: 9600, DataBits: 7, Parity: "odd"}, want: PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 1, Parity: "O"}},
		{name: "bad stop bits", in: PortOptions{StopBits: 3}, wantErr: true},
		{name: "bad parity", in: PortOptions{Parity: "mark"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Normalize()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	mode, err := PortOptions{}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, serial.OneStopBit, mode.StopBits)
	assert.Equal(t, serial.NoParity, mode.Parity)
}

func TestSyntheticLevels(t *testing.T) {
	s := &Synthetic{BurstLevel: 400, BurstEvery: 10, BurstLength: 3}
	rng := rand.New(rand.NewPCG(1, 2))
	var levels []int
	for i := int64(0); i < 25; i++ {
		levels = append(levels, s.Level(i, rng))
	}
	want := []int{
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		400, 400, 400, 0, 0, 0, 0, 0, 0, 0,
		400, 400, 400, 0, 0,
	}
	assert.Equal(t, want, levels)
}

func TestSyntheticMonitor(t *testing.T) {
	s := &Synthetic{
		Interval:    time.Millisecond,
		Seed:        7,
		Noise:       5,
		BurstLevel:  100,
		BurstEvery:  4,
		BurstLength: 1,
		Limit:       12,
		Render:      &Renderer{Width: 32, Height: 24},
	}
	readings, err := collect(t, s)
	require.NoError(t, err)
	require.Len(t, readings, 12)

	for i, r := range readings {
		assert.Equal(t, int64(i), r.Frame.Index)
		assert.NoError(t, r.Err)
		if i >= 4 && i%4 == 0 {
			assert.GreaterOrEqual(t, r.Level, 100, "frame %d", i)
		} else {
			assert.Less(t, r.Level, 5, "frame %d", i)
		}
	}

	// Same seed, same levels.
	again, err := collect(t, s)
	require.NoError(t, err)
	for i := range readings {
		assert.Equal(t, readings[i].Level, again[i].Level)
	}
}

func TestRenderer(t *testing.T) {
	var nilRenderer *Renderer
	assert.Nil(t, nilRenderer.Render(motion.Frame{}, 10))
	assert.Nil(t, (&Renderer{}).Render(motion.Frame{}, 10))

	r := &Renderer{Width: 64, Height: 48, FullScale: 100}
	data := r.Render(motion.Frame{Index: 3, Timestamp: time.Date(2026, 1, 1, 8, 30, 0, 0, time.UTC)}, 150)
	require.NotEmpty(t, data)
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 48, img.Bounds().Dy())
}
