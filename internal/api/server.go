// Package api serves the engine status, the event and clip logs, manual
// commands and live views over HTTP.
package api

import (
	"bufio"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/motion.report/internal/db"
	"github.com/banshee-data/motion.report/internal/monitoring"
	"github.com/banshee-data/motion.report/internal/motion"
	"github.com/banshee-data/motion.report/internal/timeutil"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// StatusSource is satisfied by *motion.Engine.
type StatusSource interface {
	Status() motion.Status
}

// Store is the part of *db.DB the API reads.
type Store interface {
	RecentEvents(limit int) ([]motion.EventRecord, error)
	RecentClips(limit int) ([]db.ClipRecord, error)
	ClipStats(since time.Time) (db.ClipStats, error)
}

// HistorySource is satisfied by *eventlog.Logger.
type HistorySource interface {
	History() []motion.TickStats
}

type Options struct {
	Status   StatusSource
	Commands *motion.Commands
	Params   motion.Params
	// Store, History, Hub and Frames are optional; their routes answer 503
	// when unset.
	Store   Store
	History HistorySource
	Hub     *Hub
	Frames  *FrameMux
	Clock   timeutil.Clock
}

type Server struct {
	opts Options
}

func NewServer(opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	return &Server{opts: opts}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack lets the websocket upgrade through the middleware.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	lrw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter { return lrw.ResponseWriter }

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/events", s.listEvents)
	mux.HandleFunc("/api/clips", s.listClips)
	mux.HandleFunc("/api/clips/stats", s.showClipStats)
	mux.HandleFunc("/api/trigger", s.commandHandler(motion.CommandForceClip))
	mux.HandleFunc("/api/dump", s.commandHandler(motion.CommandDumpDiagnostics))
	mux.HandleFunc("/api/command", s.sendCommand)
	mux.HandleFunc("/api/stream", s.stream)
	mux.HandleFunc("/api/live.mjpeg", s.liveMJPEG)
	return mux
}

// StatusResponse answers "is it recording, and for how long".
type StatusResponse struct {
	// Status is MONITORING or RECORDING.
	Status          string        `json:"status"`
	State           motion.State  `json:"state"`
	Since           time.Time     `json:"since"`
	DurationMinutes float64       `json:"duration_minutes"`
	Detail          motion.Status `json:"detail"`
}

const (
	statusMonitoring = "MONITORING"
	statusRecording  = "RECORDING"
)

func (s *Server) statusResponse() StatusResponse {
	st := s.opts.Status.Status()
	resp := StatusResponse{
		Status: statusMonitoring,
		State:  st.State,
		Since:  st.ModeSince(),
		Detail: st,
	}
	if st.Recording() {
		resp.Status = statusRecording
	}
	minutes := s.opts.Clock.Since(resp.Since).Minutes()
	resp.DurationMinutes = math.Round(minutes*10) / 10
	return resp
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, s.statusResponse())
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.opts.Store == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "event store not configured")
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid 'limit' parameter")
		return
	}
	events, err := s.opts.Store.RecentEvents(limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to retrieve events: "+err.Error())
		return
	}
	if events == nil {
		events = []motion.EventRecord{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) listClips(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.opts.Store == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "clip store not configured")
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid 'limit' parameter")
		return
	}
	clips, err := s.opts.Store.RecentClips(limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to retrieve clips: "+err.Error())
		return
	}
	if clips == nil {
		clips = []db.ClipRecord{}
	}
	writeJSON(w, http.StatusOK, clips)
}

// showClipStats summarises clips since ?since=<RFC3339> or the last
// ?hours=<n> (default 24).
func (s *Server) showClipStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.opts.Store == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "clip store not configured")
		return
	}
	since := s.opts.Clock.Now().Add(-24 * time.Hour)
	q := r.URL.Query()
	if raw := q.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid 'since' parameter, expected RFC3339")
			return
		}
		since = t
	} else if raw := q.Get("hours"); raw != "" {
		h, err := strconv.ParseFloat(raw, 64)
		if err != nil || h <= 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid 'hours' parameter")
			return
		}
		since = s.opts.Clock.Now().Add(-time.Duration(h * float64(time.Hour)))
	}
	stats, err := s.opts.Store.ClipStats(since)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"since": since,
		"stats": stats,
	})
}

func (s *Server) request(w http.ResponseWriter, cmd motion.Command) {
	s.opts.Commands.Request(cmd)
	monitoring.Logf("[api] requested %v", cmd)
	writeJSON(w, http.StatusAccepted, map[string]string{"requested": cmd.String()})
}

func (s *Server) commandHandler(cmd motion.Command) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.request(w, cmd)
	}
}

// sendCommand accepts the command name as the "command" form value.
func (s *Server) sendCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	cmd, err := motion.ParseCommand(r.FormValue("command"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.request(w, cmd)
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	if s.opts.Hub == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "event stream not configured")
		return
	}
	s.opts.Hub.ServeWS(w, r, s.statusResponse())
}
