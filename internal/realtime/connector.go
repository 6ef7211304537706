package realtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/realtime-relay/relay/internal/config"
)

const (
	BetaHeader = "realtime=v1"

	writeWait = 10 * time.Second
)

// ErrorKind classifies a failed upstream connection attempt.
type ErrorKind int

const (
	KindNetwork ErrorKind = iota
	KindAuth
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	default:
		return "network"
	}
}

// ConnectError reports that the upstream endpoint could not be reached or
// refused the credentials.
type ConnectError struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *ConnectError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream %s error (HTTP %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream %s error: %v", e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// ProtocolError reports a handshake that did not start with session.created.
type ProtocolError struct {
	Got string
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid handshake payload from upstream: %v", e.Err)
	}
	return fmt.Sprintf("expected %s, got %q", EventSessionCreated, e.Got)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Dialer opens handshaken connections to the realtime endpoint.
type Dialer struct {
	url    string
	apiKey string
	update SessionUpdate
	dialer *websocket.Dialer
	log    log.FieldLogger
}

func NewDialer(cfg config.UpstreamConfig, logger log.FieldLogger) *Dialer {
	return &Dialer{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		update: DefaultSessionUpdate(),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
			Subprotocols:     []string{cfg.Subprotocol},
		},
		log: logger.WithField("upstream", cfg.URL),
	}
}

func (d *Dialer) header() http.Header {
	h := make(http.Header)
	h.Set("Authorization", "Bearer "+d.apiKey)
	h.Set("Content-Type", "application/json")
	h.Set("OpenAI-Beta", BetaHeader)
	return h
}

// Connect dials the upstream, waits for session.created and sends the
// session.update configuration. The returned connection has completed the
// handshake; the returned Event is the session.created event as received.
func (d *Dialer) Connect(ctx context.Context) (*websocket.Conn, Event, error) {
	conn, resp, err := d.dialer.DialContext(ctx, d.url, d.header())
	if err != nil {
		cerr := &ConnectError{Kind: KindNetwork, Err: err}
		if resp != nil {
			cerr.StatusCode = resp.StatusCode
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				cerr.Kind = KindAuth
			}
		}
		d.log.WithError(cerr).Error("Failed to connect to upstream")
		return nil, Event{}, cerr
	}
	d.log.WithField("subprotocol", conn.Subprotocol()).Info("Connected to upstream")

	// The read below has no deadline; closing the socket is what unblocks it
	// when the browser goes away first.
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	ev, err := d.handshake(conn)
	if !stop() {
		conn.Close()
		return nil, Event{}, &ConnectError{Kind: KindNetwork, Err: ctx.Err()}
	}
	if err != nil {
		d.log.WithError(err).Error("Upstream handshake failed")
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		conn.Close()
		return nil, Event{}, err
	}

	return conn, ev, nil
}

func (d *Dialer) handshake(conn *websocket.Conn) (Event, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return Event{}, &ConnectError{Kind: KindNetwork, Err: fmt.Errorf("awaiting %s: %w", EventSessionCreated, err)}
	}

	ev, err := ParseEvent(data)
	if err != nil {
		return Event{}, &ProtocolError{Err: err}
	}
	if ev.Type != EventSessionCreated {
		return Event{}, &ProtocolError{Got: ev.Type}
	}
	d.log.Debugf("Received %s", EventSessionCreated)

	payload, err := d.update.encode()
	if err != nil {
		return Event{}, fmt.Errorf("encoding %s: %w", EventSessionUpdate, err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = conn.WriteMessage(websocket.TextMessage, payload)
	conn.SetWriteDeadline(time.Time{})
	if err != nil {
		return Event{}, &ConnectError{Kind: KindNetwork, Err: fmt.Errorf("sending %s: %w", EventSessionUpdate, err)}
	}
	d.log.Debugf("Sent %s", EventSessionUpdate)

	return ev, nil
}
