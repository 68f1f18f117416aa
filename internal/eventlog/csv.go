package eventlog

import (
	"encoding/csv"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/motion.report/internal/fsutil"
	"github.com/banshee-data/motion.report/internal/motion"
)

// CSVHeader is the column layout of the events file.
var CSVHeader = []string{
	"Timestamp", "Kind", "From", "To", "Frame",
	"Trigger Point", "Trigger Point Base", "Window Mean", "Aged Mean",
	"Peak Level", "Peak Frame", "Clip", "Manual", "Error",
}

// CSVWriter appends one row per event to a CSV file. The file is opened per
// row so that it can be rotated or inspected while the daemon runs.
type CSVWriter struct {
	fs   fsutil.FileSystem
	path string
	mu   sync.Mutex
}

// NewCSVWriter returns a writer appending to path, creating it with a header
// row when it does not exist.
func NewCSVWriter(fs fsutil.FileSystem, path string) *CSVWriter {
	return &CSVWriter{fs: fs, path: path}
}

// WriteEvent implements Sink.
func (w *CSVWriter) WriteEvent(r motion.EventRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	fresh := !w.fs.Exists(w.path)
	f, err := w.fs.Append(w.path)
	if err != nil {
		return fmt.Errorf("open %s: %w", w.path, err)
	}
	cw := csv.NewWriter(f)
	if fresh {
		cw.Write(CSVHeader)
	}
	cw.Write(Row(r))
	cw.Flush()
	if err := cw.Error(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", w.path, err)
	}
	return f.Close()
}

// Row formats a record in CSVHeader order.
func Row(r motion.EventRecord) []string {
	return []string{
		r.Timestamp.Format(time.RFC3339Nano),
		string(r.Kind),
		r.From.String(),
		r.To.String(),
		strconv.FormatInt(r.FrameIndex, 10),
		strconv.Itoa(r.TriggerPoint),
		strconv.Itoa(r.TriggerPointBase),
		strconv.Itoa(r.WindowMean),
		strconv.Itoa(r.AgedMean),
		strconv.Itoa(r.PeakLevel),
		strconv.FormatInt(r.PeakFrame, 10),
		r.ClipID,
		strconv.FormatBool(r.Manual),
		r.Err,
	}
}
