package clip

import (
	"encoding/csv"
	"fmt"
	"image/color"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/motion.report/internal/fsutil"
	"github.com/banshee-data/motion.report/internal/monitoring"
	"github.com/banshee-data/motion.report/internal/motion"
)

// StillWriter saves the peak frame of each clip as NAME.jpg.
type StillWriter struct {
	FS fsutil.FileSystem
}

// ClipClosed implements motion.ClipObserver.
func (w StillWriter) ClipClosed(s motion.ClipSummary) {
	sink, ok := SinkOf(s)
	if !ok || len(s.PeakFrame.Data) == 0 {
		return
	}
	path := SidePath(sink, ".jpg")
	if err := w.FS.WriteFile(path, s.PeakFrame.Data, 0644); err != nil {
		monitoring.Logf("[clip] still %s: %v", path, err)
		return
	}
	monitoring.Debugf("[clip] still %s from frame %d (level %d)", path, s.PeakFrame.Index, s.PeakLevel)
}

var traceHeader = []string{"Frame", "Level", "Current Mean", "Aged Mean", "Trigger Point", "Trigger Point Base"}

// TraceWriter saves the trigger trace of each clip as NAME.csv and, when
// Chart is set, a NAME.png line chart of it.
type TraceWriter struct {
	FS    fsutil.FileSystem
	Chart bool
}

// ClipClosed implements motion.ClipObserver.
func (w TraceWriter) ClipClosed(s motion.ClipSummary) {
	sink, ok := SinkOf(s)
	if !ok || len(s.Trace) == 0 {
		return
	}
	if err := w.writeCSV(SidePath(sink, ".csv"), s.Trace); err != nil {
		monitoring.Logf("[clip] trace csv for %s: %v", sink.Name(), err)
	}
	if w.Chart {
		if err := w.writeChart(SidePath(sink, ".png"), sink.Name(), s.Trace); err != nil {
			monitoring.Logf("[clip] trace chart for %s: %v", sink.Name(), err)
		}
	}
}

func (w TraceWriter) writeCSV(path string, rows []motion.TraceRow) error {
	f, err := w.FS.Create(path)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(f)
	cw.Write(traceHeader)
	for _, r := range rows {
		cw.Write([]string{
			strconv.FormatInt(r.FrameIndex, 10),
			strconv.Itoa(r.Level),
			strconv.Itoa(r.CurrentMean),
			strconv.Itoa(r.AgedMean),
			strconv.Itoa(r.TriggerPoint),
			strconv.Itoa(r.TriggerPointBase),
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (w TraceWriter) writeChart(path, name string, rows []motion.TraceRow) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Trigger trace %s", name)
	p.X.Label.Text = "Frame"
	p.Y.Label.Text = "Movement level"

	series := []struct {
		label string
		color color.Color
		value func(motion.TraceRow) int
	}{
		{"Level", color.RGBA{R: 30, G: 90, B: 200, A: 255}, func(r motion.TraceRow) int { return r.Level }},
		{"Current mean", color.RGBA{R: 20, G: 160, B: 60, A: 255}, func(r motion.TraceRow) int { return r.CurrentMean }},
		{"Trigger point", color.RGBA{R: 220, G: 40, B: 40, A: 255}, func(r motion.TraceRow) int { return r.TriggerPoint }},
		{"Trigger point base", color.RGBA{R: 240, G: 160, B: 20, A: 255}, func(r motion.TraceRow) int { return r.TriggerPointBase }},
	}
	for _, s := range series {
		pts := make(plotter.XYs, len(rows))
		for i, r := range rows {
			pts[i] = plotter.XY{X: float64(r.FrameIndex), Y: float64(s.value(r))}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Color = s.color
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(s.label, line)
	}
	p.Legend.Top = true
	p.Legend.Left = true

	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	f, err := w.FS.Create(path)
	if err != nil {
		return err
	}
	if _, err := wt.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("save chart: %w", err)
	}
	return f.Close()
}
