package api

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/banshee-data/motion.report/internal/monitoring"
	"github.com/banshee-data/motion.report/internal/motion"
)

// FrameMux hands the most recent frames to live viewers. The engine loop
// publishes every frame; viewers that fall behind skip frames.
type FrameMux struct {
	mu          sync.Mutex
	subscribers map[chan []byte]struct{}
	closed      bool
}

func NewFrameMux() *FrameMux {
	return &FrameMux{subscribers: make(map[chan []byte]struct{})}
}

// Subscribe returns a channel of JPEG payloads. It is closed by Unsubscribe
// or Close.
func (m *FrameMux) Subscribe() chan []byte {
	ch := make(chan []byte, 2)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		close(ch)
		return ch
	}
	m.subscribers[ch] = struct{}{}
	return ch
}

func (m *FrameMux) Unsubscribe(ch chan []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscribers[ch]; ok {
		delete(m.subscribers, ch)
		close(ch)
	}
}

// Publish offers f to every viewer without blocking.
func (m *FrameMux) Publish(f motion.Frame) {
	if len(f.Data) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subscribers {
		select {
		case ch <- f.Data:
		default:
		}
	}
}

// Close ends every live view.
func (m *FrameMux) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for ch := range m.subscribers {
		delete(m.subscribers, ch)
		close(ch)
	}
}

func (s *Server) liveMJPEG(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.opts.Frames == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "live view not configured")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	ch := s.opts.Frames.Subscribe()
	defer s.opts.Frames.Unsubscribe(ch)

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	monitoring.Debugf("[api] live view opened by %s", r.RemoteAddr)

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame))
			if _, err := w.Write(frame); err != nil {
				return
			}
			fmt.Fprintf(w, "\r\n")
			flusher.Flush()
		}
	}
}
