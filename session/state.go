package session

import (
	"errors"
	"sync"
)

// Connection lifecycle states.
const (
	StateUnauth = "unauth"
	StateAuth   = "auth"
	StateClosed = "closed"
)

// ErrTransitionNotAllowed is returned for a state change outside the
// configured transition table.
var ErrTransitionNotAllowed = errors.New("state transition not allowed")

// StateMachine guards the per-client lifecycle: unauth -> auth -> closed,
// with closed reachable from anywhere and no way back out of it.
type StateMachine struct {
	mu          sync.RWMutex
	current     string
	transitions map[string]map[string]bool
}

// NewStateMachine starts a machine in the unauth state with the standard
// transition table.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		current: StateUnauth,
		transitions: map[string]map[string]bool{
			StateUnauth: {StateAuth: true, StateClosed: true},
			StateAuth:   {StateClosed: true},
			StateClosed: {},
		},
	}
}

// ChangeState moves to newState if the transition table allows it.
func (m *StateMachine) ChangeState(newState string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if allowed, ok := m.transitions[m.current]; !ok || !allowed[newState] {
		return ErrTransitionNotAllowed
	}
	m.current = newState
	return nil
}

// Current returns the current state.
func (m *StateMachine) Current() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// IsAuth reports whether the client has completed authentication.
func (m *StateMachine) IsAuth() bool {
	return m.Current() == StateAuth
}
