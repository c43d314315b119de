package session

// State is the orchestrator's lifecycle state for one call session.
type State string

const (
	// StateCreated is the state before the first greeting plays.
	StateCreated             State = "created"
	StateListening           State = "listening"
	StateResolving           State = "resolving"
	StateAwaitingTransaction State = "awaiting_transaction"
	StateResponding          State = "responding"
	StateFallback            State = "fallback"
	StateTerminated          State = "terminated"
)

var validTransitions = map[State][]State{
	StateCreated:             {StateResponding, StateTerminated},
	StateListening:           {StateResolving, StateFallback, StateTerminated},
	StateResolving:           {StateAwaitingTransaction, StateResponding, StateFallback, StateTerminated},
	StateAwaitingTransaction: {StateResponding, StateFallback, StateTerminated},
	StateResponding:          {StateListening, StateFallback, StateTerminated},
	StateFallback:            {StateListening, StateResponding, StateTerminated},
	StateTerminated:          {},
}

// CanTransition reports whether moving from one state to another is
// legal. Terminated is a sink.
func CanTransition(from, to State) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
