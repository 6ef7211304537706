// Package admin serves the relay's operational endpoints on a listener
// separate from browser traffic.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	log "github.com/sirupsen/logrus"

	"github.com/realtime-relay/relay/internal/monitor"
	"github.com/realtime-relay/relay/internal/session"
)

type Server struct {
	registry *session.Registry
	health   *monitor.Health
	metrics  http.Handler
	proc     *process.Process
	log      log.FieldLogger
}

// NewServer builds the admin endpoints. metrics may be nil, in which case
// /metrics is not served.
func NewServer(registry *session.Registry, health *monitor.Health, metrics http.Handler, logger log.FieldLogger) *Server {
	s := &Server{
		registry: registry,
		health:   health,
		metrics:  metrics,
		log:      logger,
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.WithError(err).Warn("Process stats unavailable")
	} else {
		s.proc = proc
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sessions", s.handleSessions)
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	return mux
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.registry.GetAll())
}

type processStats struct {
	RSS     uint64 `json:"rssBytes"`
	Threads int32  `json:"threads"`
	FDs     int32  `json:"openFds,omitempty"`
}

type healthResponse struct {
	Status   monitor.Status   `json:"status"`
	Sessions int              `json:"sessions"`
	Active   int              `json:"active"`
	Upstream monitor.Snapshot `json:"upstream"`
	Process  *processStats    `json:"process,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := s.health.Snapshot()
	resp := healthResponse{
		Status:   snap.Status,
		Sessions: s.registry.Len(),
		Active:   s.registry.ActiveCount(),
		Upstream: snap,
		Process:  s.processStats(r.Context()),
	}

	w.Header().Set("Content-Type", "application/json")
	if snap.Status == monitor.StatusFailed {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) processStats(ctx context.Context) *processStats {
	if s.proc == nil {
		return nil
	}
	mem, err := s.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		s.log.WithError(err).Debug("Reading process memory failed")
		return nil
	}
	stats := &processStats{RSS: mem.RSS}
	if n, err := s.proc.NumThreadsWithContext(ctx); err == nil {
		stats.Threads = n
	}
	// Not supported on every platform.
	if n, err := s.proc.NumFDsWithContext(ctx); err == nil {
		stats.FDs = n
	}
	return stats
}

// ListenAndServe serves the admin endpoints on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("admin listen on %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.WithField("addr", ln.Addr().String()).Info("Admin endpoint listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	if serveErr := <-errCh; !errors.Is(serveErr, http.ErrServerClosed) && err == nil {
		err = serveErr
	}
	return err
}
