package session

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of a streaming detect-intent request.
type State int

const (
	// StateOpen - stream opened, nothing sent yet.
	StateOpen State = iota
	// StateConfigured - the config request was sent.
	StateConfigured
	// StateStreaming - at least one audio request was sent.
	StateStreaming
	// StateHalfClosed - the client finished sending; responses may still arrive.
	StateHalfClosed
	// StateCompleted - the server ended the stream cleanly.
	StateCompleted
	// StateFailed - the stream ended with an error.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateConfigured:
		return "CONFIGURED"
	case StateStreaming:
		return "STREAMING"
	case StateHalfClosed:
		return "HALF_CLOSED"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is terminal (COMPLETED or FAILED).
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Errors for invalid state transitions.
var (
	ErrStreamClosed      = errors.New("stream is closed")
	ErrConfigNotSent     = errors.New("config request must be sent first")
	ErrConfigAlreadySent = errors.New("config request already sent")
	ErrHalfClosed        = errors.New("cannot send after half-close")
)

// Lifecycle guards the request order of one streaming call. Thread-safe.
//
// State transitions:
//
//	OPEN → CONFIGURED → STREAMING → HALF_CLOSED → COMPLETED
//	           │            ↺ audio        │
//	           └───────── CloseSend ───────┘
//
// Any non-terminal state may move to FAILED.
//
// Rules:
//   - The first request carries the config and nothing else.
//   - Every later request carries audio only.
//   - Nothing is sent after half-close.
type Lifecycle struct {
	mu          sync.RWMutex
	sessionPath string
	state       State
	chunks      int
	bytes       int64
	err         error
}

// NewLifecycle creates a lifecycle in OPEN state.
func NewLifecycle(sessionPath string) *Lifecycle {
	return &Lifecycle{
		sessionPath: sessionPath,
		state:       StateOpen,
	}
}

// SessionPath returns the session resource name.
func (l *Lifecycle) SessionPath() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sessionPath
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// AudioChunks returns the number of audio requests recorded.
func (l *Lifecycle) AudioChunks() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chunks
}

// AudioBytes returns the number of audio bytes recorded.
func (l *Lifecycle) AudioBytes() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.bytes
}

// Err returns the error recorded by Fail, if any.
func (l *Lifecycle) Err() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.err
}

// SendConfig validates and records the config request.
func (l *Lifecycle) SendConfig() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateOpen:
		l.state = StateConfigured
		return nil
	case StateConfigured, StateStreaming:
		return ErrConfigAlreadySent
	case StateHalfClosed:
		return ErrHalfClosed
	case StateCompleted, StateFailed:
		return ErrStreamClosed
	default:
		return fmt.Errorf("unexpected state: %v", l.state)
	}
}

// SendAudio validates and records an audio request of n bytes.
func (l *Lifecycle) SendAudio(n int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateConfigured, StateStreaming:
		l.state = StateStreaming
		l.chunks++
		l.bytes += int64(n)
		return nil
	case StateOpen:
		return ErrConfigNotSent
	case StateHalfClosed:
		return ErrHalfClosed
	case StateCompleted, StateFailed:
		return ErrStreamClosed
	default:
		return fmt.Errorf("unexpected state: %v", l.state)
	}
}

// CloseSend validates and records the client half-close.
func (l *Lifecycle) CloseSend() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateConfigured, StateStreaming:
		l.state = StateHalfClosed
		return nil
	case StateOpen:
		return ErrConfigNotSent
	case StateHalfClosed:
		return nil
	case StateCompleted, StateFailed:
		return ErrStreamClosed
	default:
		return fmt.Errorf("unexpected state: %v", l.state)
	}
}

// Complete records a clean end of stream. Returns false if already terminal.
func (l *Lifecycle) Complete() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = StateCompleted
	return true
}

// Fail records err and moves to FAILED. Returns false if already terminal.
func (l *Lifecycle) Fail(err error) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = StateFailed
	l.err = err
	return true
}
