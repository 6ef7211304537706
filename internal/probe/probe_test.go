package probe

import (
	"context"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realtime-relay/relay/internal/realtime"
	"github.com/realtime-relay/relay/internal/realtime/realtimetest"
)

func TestProbeRun(t *testing.T) {
	up := realtimetest.NewUpstream(t)
	logger, _ := logtest.NewNullLogger()

	done := make(chan struct{})
	go func() {
		defer close(done)
		uc := up.NextConn(t)
		msg := uc.Next(t)
		assert.Equal(t, `{"type":"response.create"}`, string(msg.Data))
		uc.Send(`{"type":"response.created"}`)
		uc.Send(`garbage`)
		uc.Send(`{"type":"response.done"}`)
	}()

	res, err := New(up.URL(), 1, logger).Run(context.Background(), []string{`{"type":"response.create"}`}, 300*time.Millisecond)
	require.NoError(t, err)
	<-done

	assert.Equal(t, "realtime", res.Subprotocol)
	assert.Equal(t, realtime.EventSessionCreated, res.Handshake.Type)
	assert.Equal(t, []string{"response.created", "response.done"}, res.Events)
	assert.Equal(t, 1, res.Dropped)
	assert.Positive(t, res.Latency)
}

func TestProbeWrongHandshake(t *testing.T) {
	up := realtimetest.NewUpstream(t, realtimetest.WithFirstFrame(`{"type":"error"}`))
	logger, _ := logtest.NewNullLogger()

	_, err := New(up.URL(), 1, logger).Run(context.Background(), nil, 100*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `got "error"`)
}

func TestProbeRejectsInvalidEvent(t *testing.T) {
	up := realtimetest.NewUpstream(t)
	logger, _ := logtest.NewNullLogger()

	_, err := New(up.URL(), 1, logger).Run(context.Background(), []string{`not json`}, 100*time.Millisecond)
	require.Error(t, err)
}

func TestProbeDialFailure(t *testing.T) {
	logger, _ := logtest.NewNullLogger()

	_, err := New("ws://127.0.0.1:1/", 1, logger).Run(context.Background(), nil, 100*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial ws://127.0.0.1:1/")
}
