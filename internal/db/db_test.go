package db

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/motion.report/internal/motion"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "motion.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPragmasApplied(t *testing.T) {
	db := newTestDB(t)

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)

	var tempStore int
	require.NoError(t, db.QueryRow("PRAGMA temp_store").Scan(&tempStore))
	assert.Equal(t, 2, tempStore) // MEMORY
}

func TestMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "motion.db")
	raw, err := OpenDB(path)
	require.NoError(t, err)
	defer raw.Close()

	version, dirty, err := raw.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
	assert.False(t, dirty)

	require.NoError(t, raw.MigrateUp())
	version, dirty, err = raw.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	// Already current.
	require.NoError(t, raw.MigrateUp())

	for _, table := range []string{"events", "clips"} {
		var n int
		require.NoError(t, raw.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n))
		assert.Equal(t, 1, n, table)
	}

	require.NoError(t, raw.MigrateDown())
	var n int
	require.NoError(t, raw.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='events'`).Scan(&n))
	assert.Zero(t, n)
}

func TestEventsRoundTrip(t *testing.T) {
	db := newTestDB(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	want := []motion.EventRecord{
		{
			Timestamp: base, Kind: motion.EventTriggered, From: motion.StateIdle, To: motion.StateArmed,
			FrameIndex: 50, TriggerPoint: 20, TriggerPointBase: 10, WindowMean: 20, AgedMean: 0,
			PeakLevel: 100, PeakFrame: 50,
		},
		{
			Timestamp: base.Add(time.Second), Kind: motion.EventClipOpened, From: motion.StateArmed, To: motion.StateRecording,
			FrameIndex: 50, TriggerPoint: 20, TriggerPointBase: 10, PeakLevel: 100, PeakFrame: 50, ClipID: "clip-1", Manual: true,
		},
		{
			Timestamp: base.Add(2 * time.Second), Kind: motion.EventClipAborted, From: motion.StateRecording, To: motion.StateIdle,
			FrameIndex: 52, ClipID: "clip-1", Err: "no space left on device",
		},
	}
	for _, r := range want {
		require.NoError(t, db.WriteEvent(r))
	}

	got, err := db.RecentEvents(10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	// Newest first.
	for i, j := 0, len(got)-1; i < j; i, j = i+1, j-1 {
		got[i], got[j] = got[j], got[i]
	}
	if diff := cmp.Diff(want, got, cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}

	limited, err := db.RecentEvents(1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, motion.EventClipAborted, limited[0].Kind)
}

func TestClipLog(t *testing.T) {
	db := newTestDB(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	summary := func(id string, opened time.Time, d time.Duration, peak int, manual bool) motion.ClipSummary {
		return motion.ClipSummary{
			ClipInfo:  motion.ClipInfo{ID: id, Opened: opened, Trigger: 50, Manual: manual},
			Closed:    opened.Add(d),
			Frames:    9,
			PeakLevel: peak,
			PeakFrame: motion.Frame{Index: 50},
		}
	}

	db.ClipClosed(summary("a", base, 3*time.Second, 100, false))
	db.ClipClosed(summary("b", base.Add(time.Hour), 5*time.Second, 250, true))
	db.ClipClosed(summary("c", base.Add(2*time.Hour), 2*time.Second, 80, false))

	clips, err := db.RecentClips(2)
	require.NoError(t, err)
	require.Len(t, clips, 2)
	assert.Equal(t, "c", clips[0].ID)
	assert.Equal(t, "b", clips[1].ID)
	assert.True(t, clips[1].Manual)
	assert.InDelta(t, 5.0, clips[1].DurationS, 1e-9)
	assert.Equal(t, int64(50), clips[1].PeakFrame)
	assert.True(t, clips[1].Opened.Equal(base.Add(time.Hour)))

	stats, err := db.ClipStats(base.Add(30 * time.Minute))
	require.NoError(t, err)
	assert.Equal(t, ClipStats{
		Count:          2,
		Manual:         1,
		TotalSeconds:   7,
		TotalFrames:    18,
		HighestPeak:    250,
		LongestSeconds: 5,
	}, stats)

	empty, err := db.ClipStats(base.Add(24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, ClipStats{}, empty)
}

func TestAdminRoutes(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.RecordEvent(motion.EventRecord{Timestamp: time.Now(), Kind: motion.EventHeartbeat}))

	mux := http.NewServeMux()
	db.AttachAdminRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	gz, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.True(t, len(body) > 16 && string(body[:15]) == "SQLite format 3")
}
