package queue

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/ava-labs/alert-republisher/pkg/metrics"
)

// State is the lifecycle state of a publish session.
type State int

const (
	StateOpening State = iota
	StatePublishing
	StateDraining
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StatePublishing:
		return "publishing"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var transitions = map[State][]State{
	StateOpening:    {StatePublishing, StateClosed},
	StatePublishing: {StateDraining, StateError, StateClosed},
	StateDraining:   {StateError, StateClosed},
	StateError:      {StateClosed},
}

// Stats summarises a session.
type Stats struct {
	State       State
	TotalQueued int
	Skipped     int
	InFlight    int
	Failed      bool
}

// Session is the scoped lifetime of one publish run. It owns its producer
// exclusively and closes it exactly once.
//
// The counters are only touched by the goroutine driving FlowPublisher.Publish;
// Stats is meant to be read once Publish has returned. State is safe for
// concurrent use.
type Session struct {
	producer Producer
	log      *zap.SugaredLogger
	metrics  *metrics.Metrics

	mu     sync.Mutex
	state  State
	failed bool

	inFlight    int
	totalQueued int
	skipped     int

	closeOnce sync.Once
}

// NewSession wraps an open producer in a session in the opening state.
func NewSession(producer Producer, log *zap.SugaredLogger, m *metrics.Metrics) *Session {
	m.SetSessionState(int(StateOpening))
	return &Session{
		producer: producer,
		log:      log,
		metrics:  m,
		state:    StateOpening,
	}
}

// OpenSession opens a producer with open and wraps it in a session.
// Nothing needs closing when an error is returned.
func OpenSession(ctx context.Context, open OpenFunc, log *zap.SugaredLogger, m *metrics.Metrics) (*Session, error) {
	m.SetSessionState(int(StateOpening))
	producer, err := open(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open producer: %w", err)
	}
	return NewSession(producer, log, m), nil
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		State:       s.state,
		TotalQueued: s.totalQueued,
		Skipped:     s.skipped,
		InFlight:    s.inFlight,
		Failed:      s.failed,
	}
}

// Close closes the producer once and moves the session to StateClosed.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.producer.Close()

		s.mu.Lock()
		s.state = StateClosed
		failed := s.failed
		s.mu.Unlock()

		s.metrics.SetSessionState(int(StateClosed))
		s.log.Infow("publish session closed",
			"queued", s.totalQueued,
			"skipped", s.skipped,
			"inFlight", s.inFlight,
			"failed", failed,
		)
	})
}

func (s *Session) transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == to {
		return nil
	}
	if s.state == StateClosed {
		return ErrSessionClosed
	}
	if !slices.Contains(transitions[s.state], to) {
		return fmt.Errorf("invalid session transition %s -> %s", s.state, to)
	}
	s.state = to
	if to == StateError {
		s.failed = true
	}
	s.metrics.SetSessionState(int(to))
	return nil
}

// fail moves the session to StateError. It is a no-op once closed.
func (s *Session) fail() {
	if err := s.transition(StateError); err != nil {
		s.log.Debugw("session not moved to error state", "error", err)
	}
}
