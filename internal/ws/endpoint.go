package ws

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/realtime-relay/relay/internal/session"
)

// endpoint wraps one side of a relay session. Data writes are serialised;
// pings and the close frame go through WriteControl.
type endpoint struct {
	conn *websocket.Conn
	side Side

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

func newEndpoint(conn *websocket.Conn, side Side) *endpoint {
	return &endpoint{conn: conn, side: side}
}

func (e *endpoint) read() (session.Frame, error) {
	mt, data, err := e.conn.ReadMessage()
	if err != nil {
		return session.Frame{}, closedError(e.side, err, e.closed.Load())
	}
	return session.Frame{Type: mt, Data: data}, nil
}

func (e *endpoint) write(f session.Frame) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	e.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := e.conn.WriteMessage(f.Type, f.Data); err != nil {
		return closedError(e.side, err, e.closed.Load())
	}
	return nil
}

// close sends a close frame with code and reason and drops the connection.
// Only the first call has any effect.
func (e *endpoint) close(code int, reason string) {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		e.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, truncateReason(reason)),
			time.Now().Add(writeWait))
		e.conn.Close()
	})
}

// Close closes with a normal-closure code.
func (e *endpoint) Close() error {
	e.close(websocket.CloseNormalClosure, closeReasonNormal)
	return nil
}

// keepalive pings the peer every interval until ctx is done. A peer that has
// not answered within interval+timeout fails the next read. It must be called
// before the connection's reader starts.
func (e *endpoint) keepalive(ctx context.Context, interval, timeout time.Duration) {
	if interval <= 0 {
		return
	}
	wait := interval + timeout
	e.conn.SetReadDeadline(time.Now().Add(wait))
	e.conn.SetPongHandler(func(string) error {
		return e.conn.SetReadDeadline(time.Now().Add(wait))
	})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := e.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()
}
