package monitor

import (
	"fmt"
	"testing"
)

func TestHealthConnectFailureTracking(t *testing.T) {
	h := NewHealth(3)

	if h.Status() != StatusHealthy {
		t.Fatal("new health should be healthy")
	}

	// Accumulate failures below threshold
	h.RecordConnectFailure(fmt.Errorf("connection refused"))
	h.RecordConnectFailure(fmt.Errorf("timeout"))
	if h.Status() != StatusHealthy {
		t.Error("should still be healthy below threshold")
	}

	// Hit threshold
	h.RecordConnectFailure(fmt.Errorf("still broken"))
	if h.Status() != StatusFailed {
		t.Error("should be failed at threshold")
	}
	if got := h.Snapshot().LastError; got != "still broken" {
		t.Errorf("LastError = %q, want %q", got, "still broken")
	}
}

func TestHealthConnectRecovery(t *testing.T) {
	h := NewHealth(3)

	for i := 0; i < 5; i++ {
		h.RecordConnectFailure(fmt.Errorf("fail %d", i))
	}
	if h.Status() != StatusFailed {
		t.Fatal("should be failed")
	}

	h.RecordConnectSuccess()
	snap := h.Snapshot()
	if snap.Status != StatusHealthy {
		t.Error("should recover to healthy after success")
	}
	if snap.ConnectFailures != 0 {
		t.Errorf("ConnectFailures = %d, want 0", snap.ConnectFailures)
	}
	if snap.LastConnectOK.IsZero() {
		t.Error("LastConnectOK not set")
	}
}

func TestHealthParseFailureTracking(t *testing.T) {
	h := NewHealth(3)

	h.RecordParseFailure("sess1", fmt.Errorf("bad json"))
	h.RecordParseFailure("sess1", fmt.Errorf("bad json"))
	if h.Status() != StatusHealthy {
		t.Error("should be healthy below threshold")
	}

	h.RecordParseFailure("sess1", fmt.Errorf("bad json"))
	if h.Status() != StatusDegraded {
		t.Error("should be degraded at threshold")
	}
	if got := h.Snapshot().DegradedSessions; got != 1 {
		t.Errorf("DegradedSessions = %d, want 1", got)
	}
}

func TestHealthConnectOverridesParse(t *testing.T) {
	h := NewHealth(3)

	for i := 0; i < 5; i++ {
		h.RecordParseFailure("sess1", fmt.Errorf("fail"))
	}
	if h.Status() != StatusDegraded {
		t.Fatal("should be degraded")
	}

	for i := 0; i < 3; i++ {
		h.RecordConnectFailure(fmt.Errorf("fail"))
	}
	if h.Status() != StatusFailed {
		t.Error("connect failure should override to failed status")
	}
}

func TestHealthRemoveSession(t *testing.T) {
	h := NewHealth(3)

	for i := 0; i < 5; i++ {
		h.RecordParseFailure("sess1", fmt.Errorf("fail"))
	}
	if h.Status() != StatusDegraded {
		t.Fatal("should be degraded")
	}

	h.RemoveSession("sess1")
	if h.Status() != StatusHealthy {
		t.Error("should be healthy after removing the failing session")
	}
}

func TestHealthLastError(t *testing.T) {
	h := NewHealth(3)

	if h.Snapshot().LastError != "" {
		t.Error("should have no error initially")
	}

	h.RecordConnectFailure(fmt.Errorf("connect fail"))
	if got := h.Snapshot().LastError; got != "connect fail" {
		t.Errorf("LastError = %q, want %q", got, "connect fail")
	}

	// Parse error after connect error (parse is more recent)
	h.RecordParseFailure("sess1", fmt.Errorf("parse fail"))
	if got := h.Snapshot().LastError; got != "parse fail" {
		t.Errorf("LastError = %q, want %q", got, "parse fail")
	}
}

func TestNewHealthClampsThreshold(t *testing.T) {
	h := NewHealth(0)
	h.RecordConnectFailure(fmt.Errorf("fail"))
	if h.Status() != StatusFailed {
		t.Error("threshold <= 0 should behave as 1")
	}
}
