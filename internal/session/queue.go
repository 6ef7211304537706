package session

import "sync"

// Frame is one WebSocket message as received, message type included.
type Frame struct {
	Type int
	Data []byte
}

// Queue holds browser frames that arrive before the upstream handshake has
// finished. Once sealed it refuses further frames.
type Queue struct {
	mu     sync.Mutex
	frames []Frame
	sealed bool
}

func NewQueue() *Queue {
	return &Queue{}
}

// Push appends f and reports whether it was accepted.
func (q *Queue) Push(f Frame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sealed {
		return false
	}
	q.frames = append(q.frames, f)
	return true
}

// Pop removes and returns the oldest frame.
func (q *Queue) Pop() (Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		return Frame{}, false
	}
	f := q.frames[0]
	q.frames[0] = Frame{}
	q.frames = q.frames[1:]
	return f, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Seal drops anything still queued and rejects later pushes.
func (q *Queue) Seal() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sealed = true
	q.frames = nil
}

func (q *Queue) Sealed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sealed
}
