package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/banshee-data/motion.report/internal/clip"
	"github.com/banshee-data/motion.report/internal/monitoring"
	"github.com/banshee-data/motion.report/internal/motion"
)

// WriteEvent stores one event record. It satisfies eventlog.Sink.
func (db *DB) WriteEvent(r motion.EventRecord) error {
	return db.RecordEvent(r)
}

func (db *DB) RecordEvent(r motion.EventRecord) error {
	_, err := db.Exec(`
		INSERT INTO events (
			timestamp_ns, kind, from_state, to_state, frame_index,
			trigger_point, trigger_point_base, window_mean, aged_mean,
			peak_level, peak_frame, clip_id, manual, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Timestamp.UnixNano(), string(r.Kind), r.From.String(), r.To.String(), r.FrameIndex,
		r.TriggerPoint, r.TriggerPointBase, r.WindowMean, r.AgedMean,
		r.PeakLevel, r.PeakFrame, nullString(r.ClipID), r.Manual, nullString(r.Err),
	)
	if err != nil {
		return fmt.Errorf("failed to record %s event: %w", r.Kind, err)
	}
	return nil
}

// RecentEvents returns up to limit events, newest first.
func (db *DB) RecentEvents(limit int) ([]motion.EventRecord, error) {
	rows, err := db.Query(`
		SELECT timestamp_ns, kind, from_state, to_state, frame_index,
			trigger_point, trigger_point_base, window_mean, aged_mean,
			peak_level, peak_frame, clip_id, manual, error
		FROM events
		ORDER BY event_id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []motion.EventRecord
	for rows.Next() {
		var (
			r           motion.EventRecord
			ts          int64
			kind        string
			from, to    string
			clipID, msg sql.NullString
		)
		if err := rows.Scan(&ts, &kind, &from, &to, &r.FrameIndex,
			&r.TriggerPoint, &r.TriggerPointBase, &r.WindowMean, &r.AgedMean,
			&r.PeakLevel, &r.PeakFrame, &clipID, &r.Manual, &msg); err != nil {
			return nil, err
		}
		r.Timestamp = time.Unix(0, ts)
		r.Kind = motion.EventKind(kind)
		if r.From, err = motion.ParseState(from); err != nil {
			return nil, err
		}
		if r.To, err = motion.ParseState(to); err != nil {
			return nil, err
		}
		r.ClipID = clipID.String
		r.Err = msg.String
		events = append(events, r)
	}
	return events, rows.Err()
}

// ClipRecord is one row of the recording log.
type ClipRecord struct {
	ID           string    `json:"clip_id"`
	Name         string    `json:"name,omitempty"`
	Path         string    `json:"path,omitempty"`
	Opened       time.Time `json:"opened"`
	Closed       time.Time `json:"closed"`
	DurationS    float64   `json:"duration_s"`
	TriggerFrame int64     `json:"trigger_frame"`
	Frames       int       `json:"frames"`
	PeakLevel    int       `json:"peak_level"`
	PeakFrame    int64     `json:"peak_frame"`
	Manual       bool      `json:"manual"`
}

// ClipRecordOf flattens a closed clip summary into a table row.
func ClipRecordOf(s motion.ClipSummary) ClipRecord {
	rec := ClipRecord{
		ID:           s.ID,
		Opened:       s.Opened,
		Closed:       s.Closed,
		DurationS:    s.Duration().Seconds(),
		TriggerFrame: s.Trigger,
		Frames:       s.Frames,
		PeakLevel:    s.PeakLevel,
		PeakFrame:    s.PeakFrame.Index,
		Manual:       s.Manual,
	}
	if sink, ok := clip.SinkOf(s); ok {
		rec.Name = sink.Name()
		rec.Path = sink.Path()
	}
	return rec
}

func (db *DB) RecordClip(c ClipRecord) error {
	_, err := db.Exec(`
		INSERT OR REPLACE INTO clips (
			clip_id, name, path, opened_ns, closed_ns, duration_s,
			trigger_frame, frames, peak_level, peak_frame, manual
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, nullString(c.Name), nullString(c.Path), c.Opened.UnixNano(), c.Closed.UnixNano(), c.DurationS,
		c.TriggerFrame, c.Frames, c.PeakLevel, c.PeakFrame, c.Manual,
	)
	if err != nil {
		return fmt.Errorf("failed to record clip %s: %w", c.ID, err)
	}
	return nil
}

// ClipClosed records every closed clip. It satisfies motion.ClipObserver.
func (db *DB) ClipClosed(s motion.ClipSummary) {
	if err := db.RecordClip(ClipRecordOf(s)); err != nil {
		monitoring.Logf("[db] %v", err)
	}
}

// RecentClips returns up to limit clips, most recently opened first.
func (db *DB) RecentClips(limit int) ([]ClipRecord, error) {
	rows, err := db.Query(`
		SELECT clip_id, name, path, opened_ns, closed_ns, duration_s,
			trigger_frame, frames, peak_level, peak_frame, manual
		FROM clips
		ORDER BY opened_ns DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clips []ClipRecord
	for rows.Next() {
		var (
			c              ClipRecord
			name, path     sql.NullString
			opened, closed int64
		)
		if err := rows.Scan(&c.ID, &name, &path, &opened, &closed, &c.DurationS,
			&c.TriggerFrame, &c.Frames, &c.PeakLevel, &c.PeakFrame, &c.Manual); err != nil {
			return nil, err
		}
		c.Name = name.String
		c.Path = path.String
		c.Opened = time.Unix(0, opened)
		c.Closed = time.Unix(0, closed)
		clips = append(clips, c)
	}
	return clips, rows.Err()
}

// ClipStats summarises the clips opened at or after a point in time.
type ClipStats struct {
	Count          int     `json:"count"`
	Manual         int     `json:"manual"`
	TotalSeconds   float64 `json:"total_seconds"`
	TotalFrames    int     `json:"total_frames"`
	HighestPeak    int     `json:"highest_peak"`
	LongestSeconds float64 `json:"longest_seconds"`
}

func (db *DB) ClipStats(since time.Time) (ClipStats, error) {
	var s ClipStats
	err := db.QueryRow(`
		SELECT COUNT(*),
			COALESCE(SUM(manual), 0),
			COALESCE(SUM(duration_s), 0),
			COALESCE(SUM(frames), 0),
			COALESCE(MAX(peak_level), 0),
			COALESCE(MAX(duration_s), 0)
		FROM clips
		WHERE opened_ns >= ?`, since.UnixNano(),
	).Scan(&s.Count, &s.Manual, &s.TotalSeconds, &s.TotalFrames, &s.HighestPeak, &s.LongestSeconds)
	if err != nil {
		return ClipStats{}, fmt.Errorf("failed to query clip stats: %w", err)
	}
	return s, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
