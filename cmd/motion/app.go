package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/banshee-data/motion.report/internal/api"
	"github.com/banshee-data/motion.report/internal/clip"
	"github.com/banshee-data/motion.report/internal/config"
	"github.com/banshee-data/motion.report/internal/db"
	"github.com/banshee-data/motion.report/internal/eventlog"
	"github.com/banshee-data/motion.report/internal/fsutil"
	"github.com/banshee-data/motion.report/internal/levelfeed"
	"github.com/banshee-data/motion.report/internal/monitoring"
	"github.com/banshee-data/motion.report/internal/motion"
	"github.com/banshee-data/motion.report/internal/timeutil"
)

// app holds the wired daemon: engine, clip outputs, event sinks and the
// HTTP surface.
type app struct {
	cfg    *config.Config
	fs     fsutil.FileSystem
	clock  timeutil.Clock
	outDir string

	engine *motion.Engine
	events *eventlog.Logger
	store  *db.DB
	hub    *api.Hub
	frames *api.FrameMux
	hook   *clip.CommandHook
}

// newApp builds the engine and everything hanging off it. store may be nil,
// in which case events and clips are only written to files.
func newApp(cfg *config.Config, fs fsutil.FileSystem, clock timeutil.Clock, store *db.DB) (*app, error) {
	a := &app{
		cfg:    cfg,
		fs:     fs,
		clock:  clock,
		outDir: cfg.GetOutputDir(),
		store:  store,
		hub:    api.NewHub(),
		frames: api.NewFrameMux(),
	}

	writer, err := clip.NewWriter(fs, a.outDir)
	if err != nil {
		return nil, fmt.Errorf("clip output: %w", err)
	}

	sinks := []eventlog.Sink{
		eventlog.NewCSVWriter(fs, a.sidePath(cfg.GetEventsCSV())),
		a.hub,
	}
	if store != nil {
		sinks = append(sinks, store)
	}
	a.events = eventlog.New(cfg.Params(), cfg.GetHeartbeatInterval(), sinks...)

	observers := []motion.ClipObserver{
		clip.TraceWriter{FS: fs, Chart: cfg.GetTriggerChart()},
	}
	if cfg.GetStill() {
		observers = append(observers, clip.StillWriter{FS: fs})
	}
	if store != nil {
		observers = append(observers, store)
	}
	if cmd := cfg.GetCommand(); cmd != "" {
		a.hook = clip.NewCommandHook(cmd)
		observers = append(observers, a.hook)
	}

	a.engine, err = motion.NewEngine(cfg.Params(), motion.Options{
		Sinks:         writer,
		Recorder:      a.events,
		Observers:     observers,
		Clock:         clock,
		TraceWindow:   cfg.GetTriggerTraceWindow(),
		OnDiagnostics: a.writeDiagnostics,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// sidePath resolves name against the output directory unless it is absolute.
func (a *app) sidePath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(a.outDir, name)
}

// writeDiagnostics logs a dump and appends a one-line summary to memory.txt.
func (a *app) writeDiagnostics(d motion.Diagnostics) {
	b, err := json.Marshal(d)
	if err != nil {
		monitoring.Logf("[motion] diagnostics: %v", err)
		return
	}
	monitoring.Logf("[motion] diagnostics: %s", b)

	line := fmt.Sprintf("%s state=%s frame=%d heap_alloc=%d num_gc=%d goroutines=%d frames_required=%d\n",
		a.clock.Now().Format(time.RFC3339), d.Status.State, d.Status.FrameIndex,
		d.HeapAlloc, d.NumGC, d.Goroutines, d.FramesRequired)
	path := a.sidePath("memory.txt")
	w, err := a.fs.Append(path)
	if err != nil {
		monitoring.Logf("[motion] %s: %v", path, err)
		return
	}
	if _, err := io.WriteString(w, line); err != nil {
		monitoring.Logf("[motion] %s: %v", path, err)
	}
	if err := w.Close(); err != nil {
		monitoring.Logf("[motion] %s: %v", path, err)
	}
}

// runEngine feeds readings into the engine until ctx is cancelled or the
// feed ends, then closes any open clip. It returns the feed's error.
func (a *app) runEngine(ctx context.Context, feed levelfeed.Feed) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	readings := make(chan levelfeed.Reading, 1)
	feedErr := make(chan error, 1)
	go func() {
		defer close(readings)
		feedErr <- feed.Monitor(ctx, readings)
	}()

	for r := range readings {
		if r.Err != nil {
			monitoring.Debugf("[motion] %v", r.Err)
		}
		a.engine.Tick(r.Frame, r.Level, r.Err)
		a.frames.Publish(r.Frame)
	}

	if err := a.engine.Close(); err != nil {
		monitoring.Logf("[motion] closing open clip: %v", err)
	}
	if a.hook != nil {
		a.hook.Wait()
	}
	err := <-feedErr
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// handler mounts the API, the live views and the /debug/ pages.
func (a *app) handler() http.Handler {
	srv := api.NewServer(api.Options{
		Status:   a.engine,
		Commands: a.engine.Commands(),
		Params:   a.engine.Params(),
		History:  a.events,
		Hub:      a.hub,
		Frames:   a.frames,
		Clock:    a.clock,
		Store:    a.storeOrNil(),
	})
	mux := srv.ServeMux()
	srv.AttachAdminRoutes(mux)
	if a.store != nil {
		a.store.AttachAdminRoutes(mux)
	}
	return api.LoggingMiddleware(mux)
}

// storeOrNil keeps a nil *db.DB from becoming a non-nil api.Store.
func (a *app) storeOrNil() api.Store {
	if a.store == nil {
		return nil
	}
	return a.store
}

// shutdown disconnects live clients.
func (a *app) shutdown() {
	a.hub.Close()
	a.frames.Close()
}
