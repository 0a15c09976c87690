package domain

// AgentState is one of the trading lifecycle states.
type AgentState int

const (
	// StateIdle - waiting for trade opportunities.
	StateIdle AgentState = iota
	// StateOpening - executing the entry trade.
	StateOpening
	// StateMonitoring - watching an open position.
	StateMonitoring
	// StateClosing - executing the exit trade.
	StateClosing
	// StateRebalancing - adjusting the hedge.
	StateRebalancing
	// StatePaused - halted by a risk condition.
	StatePaused
	// StateError - recovery state.
	StateError
)

func (s AgentState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateOpening:
		return "Opening"
	case StateMonitoring:
		return "Monitoring"
	case StateClosing:
		return "Closing"
	case StateRebalancing:
		return "Rebalancing"
	case StatePaused:
		return "Paused"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Code returns a stable numeric code for metrics export.
func (s AgentState) Code() int {
	return int(s)
}

// StateTransition records one state machine transition.
type StateTransition struct {
	From      AgentState
	To        AgentState
	Timestamp int64
	Reason    string
}
