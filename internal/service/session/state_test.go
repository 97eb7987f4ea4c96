package session

import (
	"errors"
	"testing"
)

const testPath = "projects/p/agent/sessions/s"

func TestLifecycle_InitialState(t *testing.T) {
	lc := NewLifecycle(testPath)

	if lc.State() != StateOpen {
		t.Errorf("expected StateOpen, got %v", lc.State())
	}
	if lc.SessionPath() != testPath {
		t.Errorf("expected %s, got %s", testPath, lc.SessionPath())
	}
	if lc.AudioChunks() != 0 || lc.AudioBytes() != 0 {
		t.Error("expected zero counters")
	}
}

func TestLifecycle_AudioBeforeConfig(t *testing.T) {
	lc := NewLifecycle(testPath)

	if err := lc.SendAudio(10); err != ErrConfigNotSent {
		t.Errorf("expected ErrConfigNotSent, got %v", err)
	}
	if err := lc.CloseSend(); err != ErrConfigNotSent {
		t.Errorf("expected ErrConfigNotSent on CloseSend, got %v", err)
	}
}

func TestLifecycle_ConfigOnlyOnce(t *testing.T) {
	lc := NewLifecycle(testPath)

	if err := lc.SendConfig(); err != nil {
		t.Fatalf("first config: unexpected error: %v", err)
	}
	if err := lc.SendConfig(); err != ErrConfigAlreadySent {
		t.Errorf("second config: expected ErrConfigAlreadySent, got %v", err)
	}

	_ = lc.SendAudio(1)
	if err := lc.SendConfig(); err != ErrConfigAlreadySent {
		t.Errorf("config after audio: expected ErrConfigAlreadySent, got %v", err)
	}
}

func TestLifecycle_AudioCounters(t *testing.T) {
	lc := NewLifecycle(testPath)
	_ = lc.SendConfig()

	for _, n := range []int{4096, 4096, 100} {
		if err := lc.SendAudio(n); err != nil {
			t.Fatalf("SendAudio(%d): %v", n, err)
		}
	}

	if lc.State() != StateStreaming {
		t.Errorf("expected StateStreaming, got %v", lc.State())
	}
	if lc.AudioChunks() != 3 {
		t.Errorf("expected 3 chunks, got %d", lc.AudioChunks())
	}
	if lc.AudioBytes() != 8292 {
		t.Errorf("expected 8292 bytes, got %d", lc.AudioBytes())
	}
}

func TestLifecycle_NoSendAfterHalfClose(t *testing.T) {
	lc := NewLifecycle(testPath)
	_ = lc.SendConfig()
	_ = lc.SendAudio(1)

	if err := lc.CloseSend(); err != nil {
		t.Fatalf("CloseSend: %v", err)
	}
	if err := lc.CloseSend(); err != nil {
		t.Errorf("CloseSend should be idempotent, got %v", err)
	}
	if err := lc.SendAudio(1); err != ErrHalfClosed {
		t.Errorf("expected ErrHalfClosed, got %v", err)
	}
	if err := lc.SendConfig(); err != ErrHalfClosed {
		t.Errorf("expected ErrHalfClosed for config, got %v", err)
	}
}

func TestLifecycle_ConfigOnlyStream(t *testing.T) {
	lc := NewLifecycle(testPath)
	_ = lc.SendConfig()

	if err := lc.CloseSend(); err != nil {
		t.Fatalf("CloseSend without audio should succeed: %v", err)
	}
	if !lc.Complete() {
		t.Error("expected Complete to succeed")
	}
	if lc.State() != StateCompleted {
		t.Errorf("expected StateCompleted, got %v", lc.State())
	}
}

func TestLifecycle_Fail(t *testing.T) {
	lc := NewLifecycle(testPath)
	_ = lc.SendConfig()

	cause := errors.New("unavailable")
	if !lc.Fail(cause) {
		t.Fatal("expected Fail to succeed from CONFIGURED")
	}
	if lc.State() != StateFailed {
		t.Errorf("expected StateFailed, got %v", lc.State())
	}
	if lc.Err() != cause {
		t.Errorf("expected recorded error, got %v", lc.Err())
	}
	if lc.Fail(errors.New("again")) {
		t.Error("expected second Fail to return false")
	}
	if lc.Complete() {
		t.Error("expected Complete to return false after Fail")
	}
	if err := lc.SendAudio(1); err != ErrStreamClosed {
		t.Errorf("expected ErrStreamClosed, got %v", err)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateOpen, "OPEN"},
		{StateConfigured, "CONFIGURED"},
		{StateStreaming, "STREAMING"},
		{StateHalfClosed, "HALF_CLOSED"},
		{StateCompleted, "COMPLETED"},
		{StateFailed, "FAILED"},
		{State(99), "UNKNOWN(99)"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("State(%d).String() = %v, want %v", tt.state, got, tt.expected)
		}
	}
}

func TestState_IsTerminal(t *testing.T) {
	for _, s := range []State{StateOpen, StateConfigured, StateStreaming, StateHalfClosed} {
		if s.IsTerminal() {
			t.Errorf("%v should not be terminal", s)
		}
	}
	for _, s := range []State{StateCompleted, StateFailed} {
		if !s.IsTerminal() {
			t.Errorf("%v should be terminal", s)
		}
	}
}
