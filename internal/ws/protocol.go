package ws

import (
	"time"
	"unicode/utf8"
)

const (
	closeReasonNormal      = "Normal closure"
	closeReasonInvalidPath = "Invalid path"
	closeReasonShutdown    = "Server shutting down"

	// Control frame payloads are capped at 125 bytes, two of which carry
	// the close code.
	maxCloseReason = 123

	writeWait = 10 * time.Second
)

// Directions label relayed and dropped frames.
const (
	DirectionUpstream = "upstream"
	DirectionBrowser  = "browser"
)

// Session outcomes reported to the Recorder.
const (
	OutcomeNormal        = "normal"
	OutcomeAbnormal      = "abnormal"
	OutcomeUpstreamError = "upstream_error"
	OutcomeError         = "error"
)

// Recorder receives relay activity for metrics collection.
type Recorder interface {
	SessionOpened()
	SessionRejected()
	SessionClosed(outcome string)
	FrameRelayed(direction string, size int)
	FrameDropped(direction string)
	FrameBuffered()
	HandshakeCompleted(d time.Duration)
}

// NoopRecorder discards everything.
type NoopRecorder struct{}

func (NoopRecorder) SessionOpened() {}
func (NoopRecorder) SessionRejected() {}
func (NoopRecorder) SessionClosed(string) {}
func (NoopRecorder) FrameRelayed(string, int) {}
func (NoopRecorder) FrameDropped(string) {}
func (NoopRecorder) FrameBuffered() {}
func (NoopRecorder) HandshakeCompleted(time.Duration) {}

// truncateReason cuts reason to fit a close frame without splitting a rune.
func truncateReason(reason string) string {
	if len(reason) <= maxCloseReason {
		return reason
	}
	cut := maxCloseReason
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}
