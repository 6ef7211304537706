package ws

import (
	"errors"
	"fmt"
	"net"

	"github.com/gorilla/websocket"
)

// Side names one end of a relay session.
type Side string

const (
	SideBrowser  Side = "browser"
	SideUpstream Side = "upstream"
)

// PathError rejects a browser connection made on anything but the relay path.
type PathError struct {
	Path string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("invalid path %q", e.Path)
}

// ClosedError ends a forwarding loop: the connection on Side is gone.
type ClosedError struct {
	Side Side
	Code int
	Err  error

	// Local is set when the relay had already closed the connection itself.
	Local bool
}

func (e *ClosedError) Error() string {
	return fmt.Sprintf("%s connection closed (%d): %v", e.Side, e.Code, e.Err)
}

func (e *ClosedError) Unwrap() error {
	return e.Err
}

// Normal reports a clean closure, as opposed to a lost connection.
func (e *ClosedError) Normal() bool {
	if e.Local {
		return true
	}
	switch e.Code {
	case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
		return true
	}
	return false
}

// closedError classifies a read or write failure on side.
func closedError(side Side, err error, local bool) *ClosedError {
	ce := &ClosedError{Side: side, Code: websocket.CloseAbnormalClosure, Err: err, Local: local}
	var wsErr *websocket.CloseError
	if errors.As(err, &wsErr) {
		ce.Code = wsErr.Code
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent) {
		ce.Local = true
	}
	return ce
}
