package agent

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/solbasis/basisbot/internal/domain"
)

// maxTransitionHistory bounds the transition log.
const maxTransitionHistory = 100

// Machine is the agent lifecycle state machine. Transitions outside the
// permitted set are rejected with a warning and leave the state unchanged.
type Machine struct {
	mu        sync.RWMutex
	current   domain.AgentState
	previous  *domain.AgentState
	enteredAt time.Time
	history   []domain.StateTransition
}

// NewMachine starts in Idle.
func NewMachine() *Machine {
	return &Machine{
		current:   domain.StateIdle,
		enteredAt: time.Now(),
	}
}

// Current returns the current state.
func (m *Machine) Current() domain.AgentState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Previous returns the state before the last transition, if any.
func (m *Machine) Previous() (domain.AgentState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.previous == nil {
		return 0, false
	}
	return *m.previous, true
}

// TimeInState returns how long the machine has been in the current state.
func (m *Machine) TimeInState() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Since(m.enteredAt)
}

// CanTransitionTo reports whether current -> target is permitted.
func (m *Machine) CanTransitionTo(target domain.AgentState) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return validTransition(m.current, target)
}

func validTransition(from, to domain.AgentState) bool {
	if from == to {
		return false
	}
	switch from {
	case domain.StateIdle:
		return to == domain.StateOpening || to == domain.StatePaused || to == domain.StateError
	case domain.StateOpening:
		return to == domain.StateMonitoring || to == domain.StateIdle ||
			to == domain.StatePaused || to == domain.StateError
	case domain.StateMonitoring:
		return to == domain.StateClosing || to == domain.StateRebalancing ||
			to == domain.StatePaused || to == domain.StateError
	case domain.StateClosing:
		return to == domain.StateIdle || to == domain.StatePaused || to == domain.StateError
	case domain.StateRebalancing:
		return to == domain.StateMonitoring || to == domain.StatePaused || to == domain.StateError
	case domain.StatePaused:
		return to == domain.StateIdle || to == domain.StateMonitoring ||
			to == domain.StateClosing || to == domain.StateError
	case domain.StateError:
		return to == domain.StateIdle || to == domain.StatePaused
	default:
		return false
	}
}

// TransitionTo attempts a transition without a reason.
func (m *Machine) TransitionTo(target domain.AgentState) bool {
	return m.TransitionWithReason(target, "")
}

// TransitionWithReason attempts a transition, logging and recording it.
func (m *Machine) TransitionWithReason(target domain.AgentState, reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !validTransition(m.current, target) {
		slog.Warn("invalid state transition",
			"from", m.current.String(), "to", target.String())
		return false
	}

	transition := domain.StateTransition{
		From:      m.current,
		To:        target,
		Timestamp: time.Now().UnixMilli(),
		Reason:    reason,
	}

	suffix := ""
	if reason != "" {
		suffix = fmt.Sprintf(" (%s)", reason)
	}
	slog.Info("state transition",
		"from", m.current.String(), "to", target.String()+suffix)

	prev := m.current
	m.previous = &prev
	m.current = target
	m.enteredAt = time.Now()

	m.history = append(m.history, transition)
	if len(m.history) > maxTransitionHistory {
		m.history = m.history[len(m.history)-maxTransitionHistory:]
	}
	return true
}

// History returns a copy of the bounded transition log.
func (m *Machine) History() []domain.StateTransition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.StateTransition, len(m.history))
	copy(out, m.history)
	return out
}

// IsActive reports whether the machine is in a trading state.
func (m *Machine) IsActive() bool {
	switch m.Current() {
	case domain.StateOpening, domain.StateMonitoring, domain.StateClosing, domain.StateRebalancing:
		return true
	default:
		return false
	}
}

// IsHalted reports whether the machine is paused or errored.
func (m *Machine) IsHalted() bool {
	s := m.Current()
	return s == domain.StatePaused || s == domain.StateError
}

// Reset transitions back to Idle.
func (m *Machine) Reset() bool {
	return m.TransitionWithReason(domain.StateIdle, "reset")
}
