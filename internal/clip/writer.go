// Package clip writes motion clips and their side outputs: the peak still,
// the trigger trace CSV and chart, and the post-clip command.
package clip

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/banshee-data/motion.report/internal/fsutil"
	"github.com/banshee-data/motion.report/internal/monitoring"
	"github.com/banshee-data/motion.report/internal/motion"
)

const (
	// Extension of clip files. Frames are JPEG images written back to back,
	// which players read as an MJPEG stream.
	Extension = ".mjpeg"

	partialSuffix = ".partial"
	sequenceFile  = "version.txt"
)

// Writer opens clip sinks in an output directory. Clips are named
// NNN-YYYYmmddHHMMSS where NNN is a sequence number persisted in the
// directory across restarts.
type Writer struct {
	fs  fsutil.FileSystem
	dir string

	mu   sync.Mutex
	next int
}

// NewWriter prepares dir for clip output.
func NewWriter(fs fsutil.FileSystem, dir string) (*Writer, error) {
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	w := &Writer{fs: fs, dir: dir, next: 1}

	data, err := fs.ReadFile(filepath.Join(dir, sequenceFile))
	if err == nil {
		n, perr := strconv.Atoi(strings.TrimSpace(string(data)))
		if perr != nil || n < 1 {
			monitoring.Logf("[clip] ignoring corrupt %s: %q", sequenceFile, data)
		} else {
			w.next = n
		}
	}
	return w, nil
}

// Dir is the output directory.
func (w *Writer) Dir() string { return w.dir }

// Open starts a new clip. The file is written under a partial name and only
// appears under its final name once the sink is closed.
func (w *Writer) Open(info motion.ClipInfo) (motion.ClipSink, error) {
	w.mu.Lock()
	seq := w.next
	w.mu.Unlock()

	name := fmt.Sprintf("%03d-%s", seq, info.Opened.Format("20060102150405"))
	final := filepath.Join(w.dir, name+Extension)
	tmp := final + partialSuffix

	f, err := w.fs.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("open clip %s: %w", name, err)
	}
	monitoring.Logf("[clip] opening %s", final)
	return &Sink{
		writer: w,
		seq:    seq,
		name:   name,
		tmp:    tmp,
		final:  final,
		file:   f,
		buf:    bufio.NewWriter(f),
	}, nil
}

// commit advances the sequence past seq and persists it.
func (w *Writer) commit(seq int) {
	w.mu.Lock()
	if seq >= w.next {
		w.next = seq + 1
	}
	next := w.next
	w.mu.Unlock()

	if err := w.fs.WriteFile(filepath.Join(w.dir, sequenceFile), []byte(strconv.Itoa(next)+"\n"), 0644); err != nil {
		monitoring.Logf("[clip] failed to persist sequence: %v", err)
	}
}

// Sink writes the frames of one clip.
type Sink struct {
	writer *Writer
	seq    int
	name   string
	tmp    string
	final  string
	file   io.WriteCloser
	buf    *bufio.Writer
	frames int
	bytes  int64
}

// Name is the clip base name without directory or extension.
func (s *Sink) Name() string { return s.name }

// Path is the final clip path.
func (s *Sink) Path() string { return s.final }

// Frames is the number of frames written.
func (s *Sink) Frames() int { return s.frames }

// Size is the number of bytes written.
func (s *Sink) Size() int64 { return s.bytes }

// WriteFrame appends the frame payload to the clip.
func (s *Sink) WriteFrame(f motion.Frame) error {
	n, err := s.buf.Write(f.Data)
	s.bytes += int64(n)
	if err != nil {
		return err
	}
	s.frames++
	return nil
}

// Close flushes the clip and moves it to its final name.
func (s *Sink) Close() error {
	if err := s.buf.Flush(); err != nil {
		s.file.Close()
		return fmt.Errorf("flush %s: %w", s.tmp, err)
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close %s: %w", s.tmp, err)
	}
	if err := s.writer.fs.Rename(s.tmp, s.final); err != nil {
		return fmt.Errorf("rename %s: %w", s.tmp, err)
	}
	s.writer.commit(s.seq)
	monitoring.Logf("[clip] closed %s (%d frames, %d bytes)", s.final, s.frames, s.bytes)
	return nil
}

// Abort discards the partial clip.
func (s *Sink) Abort() error {
	s.file.Close()
	if err := s.writer.fs.Remove(s.tmp); err != nil {
		return fmt.Errorf("remove %s: %w", s.tmp, err)
	}
	return nil
}

// SinkOf returns the file sink behind a clip summary.
func SinkOf(s motion.ClipSummary) (*Sink, bool) {
	sink, ok := s.Sink.(*Sink)
	return sink, ok
}

// SidePath is the path of a file written next to the clip, e.g. the still.
func SidePath(s *Sink, ext string) string {
	return filepath.Join(s.writer.dir, s.name+ext)
}
