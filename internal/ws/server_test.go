package ws

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realtime-relay/relay/internal/config"
	"github.com/realtime-relay/relay/internal/session"
)

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"any origin by default", nil, "https://example.com", true},
		{"no origin header", []string{"https://app.example.com"}, "", true},
		{"listed origin", []string{"https://app.example.com"}, "https://app.example.com", true},
		{"listed host other scheme", []string{"https://app.example.com"}, "http://app.example.com", true},
		{"unlisted origin", []string{"https://app.example.com"}, "https://evil.example.com", false},
		{"blank entries ignored", []string{" ", "https://app.example.com "}, "https://app.example.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default().Server
			cfg.AllowedOrigins = tt.allowed
			s := NewServer(cfg, session.NewRegistry(), nil)
			defer s.Close()

			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := s.checkOrigin(r); got != tt.want {
				t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestTruncateReason(t *testing.T) {
	short := "upstream auth error"
	if got := truncateReason(short); got != short {
		t.Errorf("truncateReason(%q) = %q", short, got)
	}

	long := ""
	for len(long) < 200 {
		long += "é"
	}
	got := truncateReason(long)
	if len(got) > maxCloseReason {
		t.Errorf("len = %d, want <= %d", len(got), maxCloseReason)
	}
	if len(got) != 122 {
		t.Errorf("len = %d, want 122 (no split rune)", len(got))
	}
}

func TestClosedErrorNormal(t *testing.T) {
	tests := []struct {
		name string
		err  *ClosedError
		want bool
	}{
		{"normal closure", &ClosedError{Code: websocket.CloseNormalClosure}, true},
		{"going away", &ClosedError{Code: websocket.CloseGoingAway}, true},
		{"no status", &ClosedError{Code: websocket.CloseNoStatusReceived}, true},
		{"abnormal", &ClosedError{Code: websocket.CloseAbnormalClosure}, false},
		{"internal error", &ClosedError{Code: websocket.CloseInternalServerErr}, false},
		{"closed locally", &ClosedError{Code: websocket.CloseAbnormalClosure, Local: true}, true},
	}
	for _, tt := range tests {
		if got := tt.err.Normal(); got != tt.want {
			t.Errorf("%s: Normal() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestClosedErrorClassification(t *testing.T) {
	ce := closedError(SideUpstream, &websocket.CloseError{Code: websocket.CloseGoingAway}, false)
	assert.Equal(t, websocket.CloseGoingAway, ce.Code)
	assert.Equal(t, SideUpstream, ce.Side)
	assert.False(t, ce.Local)

	ce = closedError(SideBrowser, net.ErrClosed, false)
	assert.Equal(t, websocket.CloseAbnormalClosure, ce.Code)
	assert.True(t, ce.Local)
	assert.True(t, errors.Is(ce, net.ErrClosed))
}

func TestSessionOutcome(t *testing.T) {
	assert.Equal(t, OutcomeNormal, sessionOutcome(nil))
	assert.Equal(t, OutcomeNormal, sessionOutcome(&ClosedError{Code: websocket.CloseNormalClosure}))
	assert.Equal(t, OutcomeAbnormal, sessionOutcome(&ClosedError{Code: websocket.CloseAbnormalClosure}))
	assert.Equal(t, OutcomeError, sessionOutcome(errors.New("boom")))
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := NewServer(config.Default().Server, session.NewRegistry(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
