package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/motion.report/internal/config"
	"github.com/banshee-data/motion.report/internal/db"
	"github.com/banshee-data/motion.report/internal/fsutil"
	"github.com/banshee-data/motion.report/internal/levelfeed"
	"github.com/banshee-data/motion.report/internal/monitoring"
	"github.com/banshee-data/motion.report/internal/motion"
	"github.com/banshee-data/motion.report/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

const testConfig = `
[motion]
trigger_point = 20
trigger_point_base = 10
movement_window = 5
movement_window_age = 2
trigger_trace_window = 10

[output]
dir = "out"
pre_frames = 3
post_frames = 4
still = true
trigger_chart = false

[log]
heartbeat_interval = "0s"
`

func testApp(t *testing.T) (*app, *fsutil.MemoryFileSystem, *db.DB) {
	t.Helper()
	cfg, err := config.Parse([]byte(testConfig), ".toml")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	store, err := db.NewDB(filepath.Join(t.TempDir(), "motion.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	fs := fsutil.NewMemoryFileSystem()
	clock := timeutil.NewMockClock(time.Date(2024, 3, 26, 6, 30, 0, 0, time.UTC))
	a, err := newApp(cfg, fs, clock, store)
	require.NoError(t, err)
	return a, fs, store
}

// levels renders n zero readings with 100 at each index in at.
func levels(n int, at ...int) string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = "0"
	}
	for _, i := range at {
		lines[i] = "100"
	}
	return strings.Join(lines, "\n") + "\n"
}

func TestRunEngineWritesClip(t *testing.T) {
	a, fs, store := testApp(t)
	feed := levelfeed.NewLineFeed("test", strings.NewReader(levels(70, 50)), levelfeed.LineOptions{
		Clock:  a.clock,
		Render: &levelfeed.Renderer{Width: 32, Height: 24, FullScale: 40},
	})

	require.NoError(t, a.runEngine(context.Background(), feed))

	st := a.engine.Status()
	assert.Equal(t, motion.StateIdle, st.State)
	assert.Equal(t, 1, st.Clips)
	assert.Equal(t, int64(69), st.FrameIndex)

	clips, err := store.RecentClips(10)
	require.NoError(t, err)
	require.Len(t, clips, 1)
	c := clips[0]
	assert.Equal(t, 9, c.Frames)
	assert.Equal(t, 100, c.PeakLevel)
	assert.Equal(t, int64(50), c.PeakFrame)
	assert.Equal(t, int64(50), c.TriggerFrame)
	assert.False(t, c.Manual)

	files := fs.Files("out")
	assert.Contains(t, files, c.Path)
	base := strings.TrimSuffix(c.Path, filepath.Ext(c.Path))
	assert.Contains(t, files, base+".jpg")
	assert.Contains(t, files, base+".csv")
	assert.Contains(t, files, filepath.Join("out", "events.csv"))

	events, err := store.RecentEvents(10)
	require.NoError(t, err)
	var kinds []motion.EventKind
	for i := len(events) - 1; i >= 0; i-- {
		kinds = append(kinds, events[i].Kind)
	}
	assert.Equal(t, []motion.EventKind{
		motion.EventTriggered,
		motion.EventClipOpened,
		motion.EventMotionEnded,
		motion.EventClipClosed,
	}, kinds)

	csv, err := fs.ReadFile(filepath.Join("out", "events.csv"))
	require.NoError(t, err)
	assert.Equal(t, 5, strings.Count(string(csv), "\n"), "header plus four events")
}

func TestRunEngineClosesOpenClipAtEndOfFeed(t *testing.T) {
	a, _, store := testApp(t)
	feed := levelfeed.NewLineFeed("test", strings.NewReader(levels(52, 50, 51)), levelfeed.LineOptions{Clock: a.clock})

	require.NoError(t, a.runEngine(context.Background(), feed))

	clips, err := store.RecentClips(10)
	require.NoError(t, err)
	require.Len(t, clips, 1)
	assert.Equal(t, int64(50), clips[0].TriggerFrame)
}

func TestDumpWritesMemoryFile(t *testing.T) {
	a, fs, _ := testApp(t)
	a.engine.Commands().Request(motion.CommandDumpDiagnostics)
	feed := levelfeed.NewLineFeed("test", strings.NewReader(levels(3)), levelfeed.LineOptions{Clock: a.clock})

	require.NoError(t, a.runEngine(context.Background(), feed))

	data, err := fs.ReadFile(filepath.Join("out", "memory.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "state=IDLE")
	assert.Equal(t, 1, strings.Count(string(data), "\n"))
}

func TestHandlerServesStatus(t *testing.T) {
	a, _, _ := testApp(t)
	h := a.handler()

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "MONITORING", got["status"])

	req = httptest.NewRequest(http.MethodGet, "/api/clips", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSidePath(t *testing.T) {
	a, _, _ := testApp(t)
	assert.Equal(t, filepath.Join("out", "events.csv"), a.sidePath("events.csv"))
	assert.Equal(t, "/var/log/events.csv", a.sidePath("/var/log/events.csv"))
}

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	cfg, err := loadConfig(config.DefaultConfigPath)
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.GetTriggerPoint())

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestRunMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "motion.db")
	require.NoError(t, runMigrate(path, []string{"up"}))
	require.NoError(t, runMigrate(path, []string{"version"}))
	require.NoError(t, runMigrate(path, []string{"down"}))

	assert.Error(t, runMigrate(path, []string{"sideways"}))
	assert.Error(t, runMigrate(path, nil))
}
