// Package monitor tracks the health of the upstream realtime endpoint as seen
// through relay sessions.
package monitor

import (
	"sync"
	"time"
)

type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusFailed   Status = "failed"
)

// Health counts consecutive upstream connect failures and per-session
// malformed frames. Sessions record into it from their own goroutines while
// the admin endpoint reads snapshots, so every field is guarded by mu.
type Health struct {
	mu              sync.Mutex
	threshold       int
	connectFailures int
	lastConnectErr  string
	lastConnectFail time.Time
	lastConnectOK   time.Time
	parseFailures   map[string]int // keyed by session id
	lastParseErr    string
	lastParseFail   time.Time
}

// NewHealth returns a tracker that reports failed after threshold consecutive
// connect failures, and degraded while any session has threshold malformed
// frames.
func NewHealth(threshold int) *Health {
	if threshold <= 0 {
		threshold = 1
	}
	return &Health{
		threshold:     threshold,
		parseFailures: make(map[string]int),
	}
}

func (h *Health) RecordConnectSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connectFailures = 0
	h.lastConnectErr = ""
	h.lastConnectOK = time.Now()
}

func (h *Health) RecordConnectFailure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connectFailures++
	h.lastConnectErr = err.Error()
	h.lastConnectFail = time.Now()
}

func (h *Health) RecordParseFailure(sessionID string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.parseFailures[sessionID]++
	h.lastParseErr = err.Error()
	h.lastParseFail = time.Now()
}

// RemoveSession forgets parse failures of a finished session.
func (h *Health) RemoveSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.parseFailures, sessionID)
}

// Snapshot is a consistent copy of the tracker state.
type Snapshot struct {
	Status           Status    `json:"status"`
	ConnectFailures  int       `json:"connectFailures"`
	DegradedSessions int       `json:"degradedSessions"`
	LastError        string    `json:"lastError,omitempty"`
	LastConnectOK    time.Time `json:"lastConnectOk,omitzero"`
}

func (h *Health) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Snapshot{
		Status:           h.statusLocked(),
		ConnectFailures:  h.connectFailures,
		DegradedSessions: h.degradedSessionCountLocked(),
		LastError:        h.lastErrorLocked(),
		LastConnectOK:    h.lastConnectOK,
	}
}

func (h *Health) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.statusLocked()
}

// statusLocked computes health status. Caller must hold h.mu.
func (h *Health) statusLocked() Status {
	if h.connectFailures >= h.threshold {
		return StatusFailed
	}
	if h.degradedSessionCountLocked() > 0 {
		return StatusDegraded
	}
	return StatusHealthy
}

// degradedSessionCountLocked returns the number of sessions at the parse
// failure threshold. Caller must hold h.mu.
func (h *Health) degradedSessionCountLocked() int {
	count := 0
	for _, failures := range h.parseFailures {
		if failures >= h.threshold {
			count++
		}
	}
	return count
}

// lastErrorLocked returns the most recent error, preferring whichever
// (connect or parse) occurred more recently. Caller must hold h.mu.
func (h *Health) lastErrorLocked() string {
	if h.lastConnectErr != "" && (h.lastParseErr == "" || h.lastConnectFail.After(h.lastParseFail)) {
		return h.lastConnectErr
	}
	return h.lastParseErr
}
