package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/realtime-relay/relay/internal/config"
	"github.com/realtime-relay/relay/internal/monitor"
	"github.com/realtime-relay/relay/internal/realtime"
	"github.com/realtime-relay/relay/internal/session"
)

const shutdownTimeout = 5 * time.Second

// Connector opens a handshaken upstream connection.
type Connector interface {
	Connect(ctx context.Context) (*websocket.Conn, realtime.Event, error)
}

// Server accepts browser connections and runs one relay session for each.
type Server struct {
	cfg            config.ServerConfig
	registry       *session.Registry
	connector      Connector
	recorder       Recorder
	health         *monitor.Health
	log            log.FieldLogger
	upgrader       websocket.Upgrader
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool

	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	closed   bool
	sessions sync.WaitGroup
}

type Option func(*Server)

func WithRecorder(r Recorder) Option {
	return func(s *Server) { s.recorder = r }
}

func WithHealth(h *monitor.Health) Option {
	return func(s *Server) { s.health = h }
}

func WithLogger(l log.FieldLogger) Option {
	return func(s *Server) { s.log = l }
}

func NewServer(cfg config.ServerConfig, registry *session.Registry, connector Connector, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:            cfg,
		registry:       registry,
		connector:      connector,
		recorder:       NoopRecorder{},
		health:         monitor.NewHealth(3),
		log:            log.StandardLogger(),
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		ctx:            ctx,
		cancel:         cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, origin := range cfg.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	s.upgrader = websocket.Upgrader{
		Subprotocols: []string{cfg.Subprotocol},
		CheckOrigin:  s.checkOrigin,
	}
	return s
}

// ServeHTTP upgrades the request and relays on it until either side closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).WithField("remote", r.RemoteAddr).Warn("WebSocket upgrade failed")
		return
	}

	if r.URL.Path != s.cfg.Path {
		perr := &PathError{Path: r.URL.Path}
		s.log.WithError(perr).WithField("remote", r.RemoteAddr).Warn("Rejected browser connection")
		s.recorder.SessionRejected()
		newEndpoint(conn, SideBrowser).close(websocket.ClosePolicyViolation, closeReasonInvalidPath)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.recorder.SessionRejected()
		newEndpoint(conn, SideBrowser).close(websocket.CloseGoingAway, closeReasonShutdown)
		return
	}
	s.sessions.Add(1)
	s.mu.Unlock()
	defer s.sessions.Done()

	newRelaySession(s, uuid.NewString(), conn, r.RemoteAddr).run(s.ctx)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.allowedOrigins) == 0 {
		return true
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if s.allowedOrigins[origin] {
		return true
	}
	if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
		return s.allowedHosts[parsed.Host]
	}
	return false
}

// Serve accepts browser connections on ln until ctx is cancelled, then closes
// every live session and waits for them to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.Close()
		return err
	case <-ctx.Done():
	}

	s.log.Info("Shutting down relay")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	if serveErr := <-errCh; !errors.Is(serveErr, http.ErrServerClosed) && err == nil {
		err = serveErr
	}
	return err
}

// ListenAndServe listens on the configured host and port and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := s.cfg.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.log.WithField("addr", ln.Addr().String()).Info("Relay listening")
	return s.Serve(ctx, ln)
}

// Close ends every live session through its normal teardown and waits for
// them. Connections arriving afterwards are refused.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.sessions.Wait()
}
