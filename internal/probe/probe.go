// Package probe is a smoke-test client for a running relay: it connects as a
// browser would, checks the handshake event and reports what comes back.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/realtime-relay/relay/internal/config"
	"github.com/realtime-relay/relay/internal/realtime"
)

const (
	retryBaseDelay = 1 * time.Second
	retryMaxDelay  = 30 * time.Second
	writeTimeout   = 10 * time.Second
	pingInterval   = 20 * time.Second
)

// Result summarises one probe run.
type Result struct {
	Subprotocol string
	Handshake   realtime.Event
	// Latency is the time from dial to the handshake event.
	Latency time.Duration
	Events  []string
	Dropped int
}

type Client struct {
	url      string
	attempts int
	dialer   *websocket.Dialer
	log      log.FieldLogger

	writeMu sync.Mutex
}

// New returns a client for the relay at url that dials at most attempts
// times.
func New(url string, attempts int, logger log.FieldLogger) *Client {
	if attempts < 1 {
		attempts = 1
	}
	return &Client{
		url:      url,
		attempts: attempts,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 45 * time.Second,
			Subprotocols:     []string{config.DefaultSubprotocol},
		},
		log: logger,
	}
}

// Run connects, waits for session.created, sends each of events and collects
// event types until listen has elapsed or the relay closes the connection.
func (c *Client) Run(ctx context.Context, events []string, listen time.Duration) (Result, error) {
	start := time.Now()
	conn, err := c.dial(ctx)
	if err != nil {
		return Result{}, err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	res := Result{Subprotocol: conn.Subprotocol()}
	_, data, err := conn.ReadMessage()
	if err != nil {
		return res, fmt.Errorf("awaiting handshake: %w", err)
	}
	ev, err := realtime.ParseEvent(data)
	if err != nil {
		return res, fmt.Errorf("handshake: %w", err)
	}
	if ev.Type != realtime.EventSessionCreated {
		return res, fmt.Errorf("handshake: expected %s, got %q", realtime.EventSessionCreated, ev.Type)
	}
	res.Handshake = ev
	res.Latency = time.Since(start)
	c.log.WithField("latency", res.Latency).Info("Relay handshake complete")

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go c.pingLoop(pingCtx, conn)

	for _, raw := range events {
		if _, err := realtime.ParseEvent([]byte(raw)); err != nil {
			return res, fmt.Errorf("event %q: %w", raw, err)
		}
		if err := c.write(conn, websocket.TextMessage, []byte(raw)); err != nil {
			return res, fmt.Errorf("sending event: %w", err)
		}
	}

	deadline := time.Now().Add(listen)
	conn.SetReadDeadline(deadline)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				break
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				break
			}
			return res, fmt.Errorf("reading events: %w", err)
		}
		ev, err := realtime.ParseEvent(data)
		if err != nil {
			res.Dropped++
			continue
		}
		res.Events = append(res.Events, ev.Type)
		c.log.WithField("type", ev.Type).Debug("Received event")
	}

	c.writeMu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
	c.writeMu.Unlock()
	return res, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	delay := retryBaseDelay
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if attempt == c.attempts {
			break
		}
		c.log.WithError(err).Warnf("Dial failed (retry in %v)", delay)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, retryMaxDelay)
	}
	return nil, fmt.Errorf("dial %s: %w", c.url, lastErr)
}

func (c *Client) write(conn *websocket.Conn, mt int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(mt, data)
}

// pingLoop keeps the connection alive while the probe listens.
func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.write(conn, websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
