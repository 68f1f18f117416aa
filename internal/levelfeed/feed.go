// Package levelfeed produces the per-frame movement levels consumed by the
// motion engine. Levels arrive as text lines from stdin, a serial-attached
// detector or a replay file, or are generated synthetically.
package levelfeed

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/motion.report/internal/motion"
	"github.com/banshee-data/motion.report/internal/timeutil"
)

// ErrMalformedLine is wrapped by every line parse failure.
var ErrMalformedLine = errors.New("malformed level line")

// Reading is one frame and its movement level. A non-nil Err marks a
// detector failure for that frame.
type Reading struct {
	Frame motion.Frame
	Level int
	Err   error
}

// Feed delivers readings until the context is cancelled or the input ends.
type Feed interface {
	// Monitor blocks, sending readings to out. It returns nil when the
	// input is exhausted and ctx.Err() on cancellation.
	Monitor(ctx context.Context, out chan<- Reading) error
	Close() error
}

// ParseLine parses "level", "frame,level" or "frame level". hasIndex
// reports whether the line carried its own frame index.
func ParseLine(line string) (index int64, hasIndex bool, level int, err error) {
	fields := strings.FieldsFunc(strings.TrimSpace(line), func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	switch len(fields) {
	case 1:
		level, err = strconv.Atoi(fields[0])
		if err != nil {
			return 0, false, 0, fmt.Errorf("%w: %q", ErrMalformedLine, line)
		}
		return 0, false, level, nil
	case 2:
		index, err = strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return 0, false, 0, fmt.Errorf("%w: bad frame index in %q", ErrMalformedLine, line)
		}
		level, err = strconv.Atoi(fields[1])
		if err != nil {
			return 0, false, 0, fmt.Errorf("%w: bad level in %q", ErrMalformedLine, line)
		}
		return index, true, level, nil
	default:
		return 0, false, 0, fmt.Errorf("%w: %q", ErrMalformedLine, line)
	}
}

// LineOptions configures a LineFeed.
type LineOptions struct {
	Clock timeutil.Clock
	// Render produces frame data. Nil leaves Frame.Data empty.
	Render *Renderer
	// Interval paces the readings. Zero emits lines as fast as they are read.
	Interval time.Duration
}

// LineFeed turns a stream of text lines into readings.
type LineFeed struct {
	name   string
	r      io.Reader
	closer io.Closer
	opts   LineOptions
	next   int64
}

// NewLineFeed reads lines from r. If r is also an io.Closer, Close closes it.
func NewLineFeed(name string, r io.Reader, opts LineOptions) *LineFeed {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	f := &LineFeed{name: name, r: r, opts: opts}
	if c, ok := r.(io.Closer); ok {
		f.closer = c
	}
	return f
}

func (f *LineFeed) String() string { return f.name }

// Monitor scans lines until EOF or cancellation. Blank lines and lines
// starting with '#' are skipped. Unparseable lines become readings with Err
// set so the engine still ticks for that frame.
func (f *LineFeed) Monitor(ctx context.Context, out chan<- Reading) error {
	scan := bufio.NewScanner(f.r)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// The blocking Scan runs in its own goroutine so cancellation is seen
	// even while the reader is idle.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	var tick <-chan time.Time
	if f.opts.Interval > 0 {
		ticker := f.opts.Clock.NewTicker(f.opts.Interval)
		defer ticker.Stop()
		tick = ticker.C()
	}

	lineNo := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return fmt.Errorf("%s: %w", f.name, err)

		case line, ok := <-lineChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					return fmt.Errorf("%s: %w", f.name, err)
				default:
				}
				return nil
			}
			lineNo++
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || strings.HasPrefix(trimmed, "#") {
				continue
			}
			if tick != nil {
				select {
				case <-tick:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if err := send(ctx, out, f.reading(lineNo, trimmed)); err != nil {
				return err
			}
		}
	}
}

func (f *LineFeed) reading(lineNo int, line string) Reading {
	index, hasIndex, level, err := ParseLine(line)
	if !hasIndex {
		index = f.next
	}
	f.next = index + 1

	r := Reading{
		Frame: motion.Frame{Index: index, Timestamp: f.opts.Clock.Now()},
		Level: level,
	}
	if err != nil {
		r.Err = fmt.Errorf("%s line %d: %w", f.name, lineNo, err)
		r.Level = 0
	}
	r.Frame.Data = f.opts.Render.Render(r.Frame, r.Level)
	return r
}

func (f *LineFeed) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer.Close()
}

func send(ctx context.Context, out chan<- Reading, r Reading) error {
	select {
	case out <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
