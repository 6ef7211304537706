package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/realtime-relay/relay/internal/realtime"
	"github.com/realtime-relay/relay/internal/session"
)

// relaySession pairs one browser connection with one upstream connection.
type relaySession struct {
	id      string
	srv     *Server
	browser *endpoint
	queue   *session.Queue
	log     *log.Entry

	// mu guards state and upstream, and orders queue pushes against the
	// switch to Active.
	mu       sync.Mutex
	state    session.State
	upstream *endpoint

	// failure is the upstream error that ended the session before it
	// became active, if any.
	failure error
}

func newRelaySession(srv *Server, id string, conn *websocket.Conn, remoteAddr string) *relaySession {
	return &relaySession{
		id:      id,
		srv:     srv,
		browser: newEndpoint(conn, SideBrowser),
		queue:   srv.registry.Open(id, remoteAddr),
		log:     srv.log.WithFields(log.Fields{"session": id, "remote": remoteAddr}),
		state:   session.Connecting,
	}
}

// run relays until either side goes away, then tears the session down.
func (s *relaySession) run(ctx context.Context) {
	s.srv.recorder.SessionOpened()
	s.log.Info("Browser connected")

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, s.closeAll)

	s.browser.keepalive(gctx, s.srv.cfg.PingInterval, s.srv.cfg.PingTimeout)
	g.Go(s.readBrowser)
	g.Go(func() error {
		up, err := s.establish(gctx)
		if err != nil || up == nil {
			return err
		}
		up.keepalive(gctx, s.srv.cfg.PingInterval, s.srv.cfg.PingTimeout)
		return s.readUpstream(up)
	})

	err := g.Wait()
	stop()
	s.mu.Lock()
	if s.failure != nil {
		err = s.failure
	}
	s.mu.Unlock()
	s.teardown(err)
}

// establish connects upstream, flushes queued browser frames and forwards the
// handshake event. It returns a nil endpoint if the session began closing in
// the meantime.
func (s *relaySession) establish(ctx context.Context) (*endpoint, error) {
	start := time.Now()
	conn, ev, err := s.srv.connector.Connect(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		s.srv.health.RecordConnectFailure(err)
		s.mu.Lock()
		s.failure = err
		s.setStateLocked(session.Closing)
		s.mu.Unlock()
		s.log.WithError(err).Error("Upstream connection failed")
		s.browser.close(websocket.CloseInternalServerErr, err.Error())
		return nil, err
	}
	s.srv.health.RecordConnectSuccess()
	s.srv.recorder.HandshakeCompleted(time.Since(start))

	up := newEndpoint(conn, SideUpstream)
	s.mu.Lock()
	if s.state.IsTerminal() {
		s.mu.Unlock()
		up.Close()
		return nil, nil
	}
	s.upstream = up
	s.mu.Unlock()
	s.srv.registry.AttachUpstream(s.id, up)

	if err := s.flush(up, false); err != nil {
		return nil, err
	}
	if err := s.browser.write(session.Frame{Type: websocket.TextMessage, Data: ev.Raw}); err != nil {
		return nil, err
	}
	s.srv.recorder.FrameRelayed(DirectionBrowser, len(ev.Raw))
	if err := s.flush(up, true); err != nil {
		return nil, err
	}

	s.mu.Lock()
	active := s.state == session.Active
	s.mu.Unlock()
	if !active {
		return nil, nil
	}
	s.log.Info("Session active")
	return up, nil
}

// flush forwards queued frames upstream in arrival order. With activate set,
// finding the queue empty switches the session to Active and seals the queue
// in one step, so no frame can slip in behind the switch.
func (s *relaySession) flush(up *endpoint, activate bool) error {
	for {
		s.mu.Lock()
		if s.state.IsTerminal() {
			s.mu.Unlock()
			return nil
		}
		f, ok := s.queue.Pop()
		if !ok {
			if activate {
				s.queue.Seal()
				s.setStateLocked(session.Active)
			}
			s.mu.Unlock()
			return nil
		}
		if s.state == session.Connecting {
			s.setStateLocked(session.Buffering)
		}
		s.mu.Unlock()

		if err := up.write(f); err != nil {
			return err
		}
		s.srv.recorder.FrameRelayed(DirectionUpstream, len(f.Data))
	}
}

func (s *relaySession) readBrowser() error {
	for {
		f, err := s.browser.read()
		if err != nil {
			return err
		}
		ev, err := realtime.ParseEvent(f.Data)
		if err != nil {
			s.drop(DirectionUpstream, err)
			continue
		}

		s.mu.Lock()
		state, up := s.state, s.upstream
		if state.Queueing() && s.queue.Push(f) {
			s.mu.Unlock()
			s.srv.recorder.FrameBuffered()
			s.log.WithField("type", ev.Type).Debug("Queued browser event")
			continue
		}
		s.mu.Unlock()

		if state != session.Active {
			continue
		}
		if err := up.write(f); err != nil {
			return err
		}
		s.srv.recorder.FrameRelayed(DirectionUpstream, len(f.Data))
		s.log.WithField("type", ev.Type).Debug("Relayed browser event")
	}
}

func (s *relaySession) readUpstream(up *endpoint) error {
	for {
		f, err := up.read()
		if err != nil {
			return err
		}
		ev, err := realtime.ParseEvent(f.Data)
		if err != nil {
			s.drop(DirectionBrowser, err)
			continue
		}
		if err := s.browser.write(f); err != nil {
			return err
		}
		s.srv.recorder.FrameRelayed(DirectionBrowser, len(f.Data))
		s.log.WithField("type", ev.Type).Debug("Relayed upstream event")
	}
}

func (s *relaySession) drop(direction string, err error) {
	s.srv.recorder.FrameDropped(direction)
	s.srv.health.RecordParseFailure(s.id, err)
	s.log.WithError(err).WithField("direction", direction).Warn("Dropped malformed frame")
}

// closeAll moves the session to Closing and closes both connections. Any
// loop blocked in a read returns once its connection is gone.
func (s *relaySession) closeAll() {
	s.mu.Lock()
	s.setStateLocked(session.Closing)
	up := s.upstream
	s.mu.Unlock()

	if up != nil {
		up.Close()
	}
	s.browser.Close()
}

func (s *relaySession) teardown(err error) {
	s.closeAll()
	s.mu.Lock()
	s.state = session.Closed
	s.mu.Unlock()

	s.srv.registry.Remove(s.id)
	s.srv.health.RemoveSession(s.id)

	outcome := sessionOutcome(err)
	s.srv.recorder.SessionClosed(outcome)

	entry := s.log.WithField("outcome", outcome)
	if err != nil {
		entry = entry.WithError(err)
	}
	if outcome == OutcomeNormal {
		entry.Info("Session closed")
	} else {
		entry.Warn("Session closed")
	}
}

// setStateLocked never moves a session back out of Closing or Closed.
func (s *relaySession) setStateLocked(st session.State) {
	if s.state.IsTerminal() && !st.IsTerminal() {
		return
	}
	if s.state == st {
		return
	}
	s.state = st
	s.srv.registry.SetState(s.id, st)
}

func sessionOutcome(err error) string {
	var (
		closed   *ClosedError
		connErr  *realtime.ConnectError
		protoErr *realtime.ProtocolError
	)
	switch {
	case err == nil:
		return OutcomeNormal
	case errors.As(err, &closed):
		if closed.Normal() {
			return OutcomeNormal
		}
		return OutcomeAbnormal
	case errors.As(err, &connErr), errors.As(err, &protoErr):
		return OutcomeUpstreamError
	default:
		return OutcomeError
	}
}
