package generation

import (
	"sync"
	"time"
)

// State is the reply lifecycle position for one call.
type State int

const (
	// StateIdle means no reply is in flight.
	StateIdle State = iota
	// StateAwaitingReply means the backend was invoked and no delta has
	// arrived yet.
	StateAwaitingReply
	// StateStreamingReply means deltas are flowing.
	StateStreamingReply
	// StateAwaitingFunctionResult means generation is suspended until a
	// function result re-enters the history.
	StateAwaitingFunctionResult
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingReply:
		return "awaiting_reply"
	case StateStreamingReply:
		return "streaming_reply"
	case StateAwaitingFunctionResult:
		return "awaiting_function_result"
	default:
		return "unknown"
	}
}

// StateChange represents a state transition event.
type StateChange struct {
	FromState State
	ToState   State
	Timestamp time.Time
	Reason    string
}

// StateListener observes reply state changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

type stateMachine struct {
	mu           sync.RWMutex
	currentState State
	listeners    []StateListener
}

func newStateMachine() *stateMachine {
	return &stateMachine{currentState: StateIdle}
}

func (m *stateMachine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentState
}

// transitionValid checks if a state transition is valid (must be called with lock held).
func (m *stateMachine) transitionValid(from, to State) bool {
	validTransitions := map[State][]State{
		StateIdle:                   {StateAwaitingReply},
		StateAwaitingReply:          {StateStreamingReply, StateIdle},
		StateStreamingReply:         {StateIdle, StateAwaitingFunctionResult},
		StateAwaitingFunctionResult: {StateAwaitingReply, StateIdle},
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves to a new state with validation.
func (m *stateMachine) Transition(state State, reason string) error {
	m.mu.Lock()
	if !m.transitionValid(m.currentState, state) {
		from := m.currentState
		m.mu.Unlock()
		return &InvalidTransitionError{From: from, To: state}
	}
	event := StateChange{
		FromState: m.currentState,
		ToState:   state,
		Timestamp: time.Now(),
		Reason:    reason,
	}
	m.currentState = state
	listeners := make([]StateListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, l := range listeners {
		l.OnStateChange(event)
	}
	return nil
}

// AddListener registers a listener for state change events.
func (m *stateMachine) AddListener(l StateListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// InvalidTransitionError represents an invalid state transition attempt.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}
