// Package session owns the trading-session and venue-connection state
// machines. All transitions go through explicit tables; callers never mutate
// state directly.
package session

import (
	"sync"
	"time"

	"nautgate/internal/fault"
)

type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateShuttingDown
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateInitializing:
		return "INITIALIZING"
	case StateReady:
		return "READY"
	case StateShuttingDown:
		return "SHUTTING_DOWN"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// sessionTransitions is the legal transition table. Transitions are monotonic
// except FAILED -> UNINITIALIZED via explicit Reset.
var sessionTransitions = map[State][]State{
	StateUninitialized: {StateInitializing},
	StateInitializing:  {StateReady, StateFailed},
	StateReady:         {StateShuttingDown, StateFailed},
	StateShuttingDown:  {},
	StateFailed:        {StateUninitialized},
}

// Session is the process-wide lifecycle handle for the embedded engine
// instance. Exactly one exists per process.
type Session struct {
	mu        sync.RWMutex
	state     State
	createdAt time.Time
	lastError error
}

func NewSession() *Session {
	return &Session{state: StateUninitialized, createdAt: time.Now()}
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

func (s *Session) CreatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.createdAt
}

func (s *Session) transition(to State) error {
	for _, allowed := range sessionTransitions[s.state] {
		if allowed == to {
			s.state = to
			return nil
		}
	}
	return fault.Newf(fault.Session, "illegal session transition %s -> %s", s.state, to)
}

// BeginInitialize moves UNINITIALIZED -> INITIALIZING. A session already
// INITIALIZING or READY rejects the attempt.
func (s *Session) BeginInitialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateInitializing {
		return fault.New(fault.Session, "InitializeInFlight: session initialization already in progress")
	}
	if s.state == StateReady {
		return fault.New(fault.Session, "AlreadyInitialized: session is already READY")
	}
	return s.transition(StateInitializing)
}

// MarkReady commits a successful initialize.
func (s *Session) MarkReady() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(StateReady)
}

// Fail records the error and moves the session to FAILED.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = err
	// FAILED is reachable from every non-terminal state; bypassing the table
	// here would hide genuine bugs, so only legal sources transition.
	_ = s.transition(StateFailed)
}

// BeginShutdown moves READY -> SHUTTING_DOWN.
func (s *Session) BeginShutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(StateShuttingDown)
}

// Reset is the only path out of FAILED, back to UNINITIALIZED.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transition(StateUninitialized); err != nil {
		return err
	}
	s.lastError = nil
	return nil
}

// Require gates every operation except initialize: it fails fast unless the
// session is READY.
func (s *Session) Require() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateReady {
		return fault.Newf(fault.Session, "SessionNotReady: session state is %s", s.state)
	}
	return nil
}
