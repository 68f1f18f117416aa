package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"
)

// AttachAdminRoutes mounts the live level chart on the /debug/ index.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("levels", "Recent movement levels and trigger thresholds", s.levelsChart)
	debug.HandleFunc("status", "Engine status snapshot (JSON)", s.showStatus)
}

// levelsChart plots the ticks held in the heartbeat history: the raw level,
// both window means and the moving entry and exit thresholds.
func (s *Server) levelsChart(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "level history not configured")
		return
	}
	history := s.opts.History.History()
	p := s.opts.Params

	x := make([]string, 0, len(history))
	level := make([]opts.LineData, 0, len(history))
	current := make([]opts.LineData, 0, len(history))
	aged := make([]opts.LineData, 0, len(history))
	entry := make([]opts.LineData, 0, len(history))
	exit := make([]opts.LineData, 0, len(history))
	for _, t := range history {
		x = append(x, strconv.FormatInt(t.FrameIndex, 10))
		level = append(level, opts.LineData{Value: t.Level})
		if !t.Warm {
			current = append(current, opts.LineData{Value: "-"})
			aged = append(aged, opts.LineData{Value: "-"})
			entry = append(entry, opts.LineData{Value: "-"})
			exit = append(exit, opts.LineData{Value: "-"})
			continue
		}
		current = append(current, opts.LineData{Value: t.CurrentMean})
		aged = append(aged, opts.LineData{Value: t.AgedMean})
		entry = append(entry, opts.LineData{Value: t.AgedMean + p.TriggerPoint})
		exit = append(exit, opts.LineData{Value: t.AgedMean + p.TriggerPointBase})
	}

	subtitle := "no ticks yet"
	if n := len(history); n > 0 {
		subtitle = fmt.Sprintf("frames %d-%d  tp=%d tpb=%d window=%d age=%d",
			history[0].FrameIndex, history[n-1].FrameIndex,
			p.TriggerPoint, p.TriggerPointBase, p.Window, p.Age)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Motion Levels", Theme: "dark", Width: "100%", Height: "720px"}),
		charts.WithTitleOpts(opts.Title{Title: "Movement Levels", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Frame", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Level"}),
	)
	noSymbol := charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)})
	line.SetXAxis(x).
		AddSeries("Level", level, noSymbol).
		AddSeries("Current Mean", current, noSymbol).
		AddSeries("Aged Mean", aged, noSymbol).
		AddSeries("Trigger Point", entry, noSymbol).
		AddSeries("Trigger Point Base", exit, noSymbol)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
