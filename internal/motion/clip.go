package motion

// ClipWindow counts the frames still owed to the open clip.
type ClipWindow struct {
	PreFrames       int
	PostFrames      int
	FramesRemaining int
}

func newClipWindow(pre, post int) *ClipWindow {
	return &ClipWindow{
		PreFrames:       pre,
		PostFrames:      post,
		FramesRemaining: pre + post + 1,
	}
}

// Extend keeps the clip open for PostFrames more frames after this one.
func (w *ClipWindow) Extend() { w.FramesRemaining = w.PostFrames + 1 }

func (w *ClipWindow) consume() {
	if w.FramesRemaining > 0 {
		w.FramesRemaining--
	}
}

// frameRing holds the most recent frames seen while no clip is open.
type frameRing struct {
	size   int
	frames []Frame
}

func newFrameRing(size int) frameRing {
	return frameRing{size: size, frames: make([]Frame, 0, size)}
}

func (r *frameRing) push(f Frame) {
	if r.size == 0 {
		return
	}
	if len(r.frames) == r.size {
		copy(r.frames, r.frames[1:])
		r.frames = r.frames[:len(r.frames)-1]
	}
	r.frames = append(r.frames, f)
}

func (r *frameRing) len() int { return len(r.frames) }

// drain returns the buffered frames oldest first and empties the ring.
func (r *frameRing) drain() []Frame {
	out := make([]Frame, len(r.frames))
	copy(out, r.frames)
	for i := range r.frames {
		r.frames[i] = Frame{}
	}
	r.frames = r.frames[:0]
	return out
}

// traceLog keeps the last size trace rows and, once a clip starts, captures
// them plus size/2 rows following the trigger.
type traceLog struct {
	size     int
	rows     []TraceRow
	captured []TraceRow
	after    int
}

func (t *traceLog) add(row TraceRow) {
	if t.size <= 0 {
		return
	}
	if t.captured != nil && t.after > 0 {
		t.captured = append(t.captured, row)
		t.after--
	}
	if len(t.rows) == t.size {
		copy(t.rows, t.rows[1:])
		t.rows = t.rows[:len(t.rows)-1]
	}
	t.rows = append(t.rows, row)
}

func (t *traceLog) start() {
	if t.size <= 0 {
		return
	}
	t.captured = append(make([]TraceRow, 0, len(t.rows)+t.size/2), t.rows...)
	t.after = t.size / 2
}

func (t *traceLog) finish() []TraceRow {
	out := t.captured
	t.captured = nil
	t.after = 0
	return out
}
