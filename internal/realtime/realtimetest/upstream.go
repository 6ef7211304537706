// Package realtimetest provides an in-process stand-in for the realtime
// endpoint, for use in tests.
package realtimetest

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const SessionCreated = `{"type":"session.created","session":{"id":"sess_test"}}`

// Upstream is a fake realtime server. Every accepted connection gets the
// configured first frame and is then recorded for inspection.
type Upstream struct {
	server *httptest.Server
	first  []byte
	gate   chan struct{}
	status int

	mu       sync.Mutex
	attempts int
	conns    chan *Conn
}

type Option func(*Upstream)

// WithFirstFrame replaces the session.created frame sent on connect.
func WithFirstFrame(data string) Option {
	return func(u *Upstream) { u.first = []byte(data) }
}

// WithGate delays the first frame until gate is closed.
func WithGate(gate chan struct{}) Option {
	return func(u *Upstream) { u.gate = gate }
}

// WithStatus rejects every upgrade with the given HTTP status.
func WithStatus(status int) Option {
	return func(u *Upstream) { u.status = status }
}

func NewUpstream(t testing.TB, opts ...Option) *Upstream {
	u := &Upstream{
		first: []byte(SessionCreated),
		conns: make(chan *Conn, 16),
	}
	for _, opt := range opts {
		opt(u)
	}
	u.server = httptest.NewServer(http.HandlerFunc(u.handle))
	t.Cleanup(u.server.Close)
	return u
}

// URL returns the ws:// address of the fake endpoint.
func (u *Upstream) URL() string {
	return "ws" + strings.TrimPrefix(u.server.URL, "http") + "/v1/realtime?model=test"
}

// Attempts returns how many connection attempts reached the server.
func (u *Upstream) Attempts() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.attempts
}

// NextConn waits for the next accepted connection.
func (u *Upstream) NextConn(t testing.TB) *Conn {
	t.Helper()
	select {
	case c := <-u.conns:
		return c
	case <-time.After(5 * time.Second):
		require.FailNow(t, "no upstream connection accepted")
		return nil
	}
}

func (u *Upstream) handle(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	u.attempts++
	u.mu.Unlock()

	if u.status != 0 {
		http.Error(w, http.StatusText(u.status), u.status)
		return
	}

	upgrader := websocket.Upgrader{Subprotocols: []string{"realtime"}}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &Conn{
		ws:       ws,
		header:   r.Header.Clone(),
		received: make(chan Message, 64),
		done:     make(chan struct{}),
	}

	if u.gate != nil {
		<-u.gate
	}
	if err := c.Send(string(u.first)); err != nil {
		ws.Close()
		return
	}
	u.conns <- c
	c.readLoop()
}

// Message is one frame received by the fake upstream.
type Message struct {
	Type int
	Data []byte
}

// Conn is the server side of one upstream connection.
type Conn struct {
	ws     *websocket.Conn
	header http.Header

	writeMu  sync.Mutex
	received chan Message
	done     chan struct{}
	code     int
}

func (c *Conn) readLoop() {
	defer close(c.done)
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				c.code = ce.Code
			} else {
				c.code = -1
			}
			c.ws.Close()
			return
		}
		c.received <- Message{Type: mt, Data: data}
	}
}

// Header returns the request headers of the upgrade request.
func (c *Conn) Header() http.Header {
	return c.header
}

// Subprotocol returns the negotiated subprotocol.
func (c *Conn) Subprotocol() string {
	return c.ws.Subprotocol()
}

func (c *Conn) Send(data string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, []byte(data))
}

// Next waits for the next frame received from the relay.
func (c *Conn) Next(t testing.TB) Message {
	t.Helper()
	select {
	case m := <-c.received:
		return m
	case <-time.After(5 * time.Second):
		require.FailNow(t, "no frame received upstream")
		return Message{}
	}
}

// Quiet asserts that no frame arrives within d.
func (c *Conn) Quiet(t testing.TB, d time.Duration) {
	t.Helper()
	select {
	case m := <-c.received:
		require.FailNowf(t, "unexpected upstream frame", "%s", m.Data)
	case <-time.After(d):
	}
}

// Close sends a close frame and drops the connection.
func (c *Conn) Close(code int, reason string) {
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	c.ws.Close()
}

// CloseCode waits for the relay to close the connection and returns the close
// code it sent, or -1 when the connection dropped without a close frame.
func (c *Conn) CloseCode(t testing.TB) int {
	t.Helper()
	select {
	case <-c.done:
		return c.code
	case <-time.After(5 * time.Second):
		require.FailNow(t, "upstream connection was not closed")
		return 0
	}
}
