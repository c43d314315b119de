package session

// Event is the interface for all session events.
type Event interface {
	// EventType returns the event type string for serialization.
	EventType() string
}

// Handler receives session events. Handlers must not block; slow
// consumers should buffer on their side.
type Handler func(Event)

// CreatedEvent is emitted once the session task is running.
type CreatedEvent struct {
	SessionID  string `json:"session_id"`
	CallerID   string `json:"caller_id,omitempty"`
	NodeID     string `json:"node_id"`
	SampleRate int    `json:"sample_rate"`
}

func (e *CreatedEvent) EventType() string { return "session.created" }

// StateChangedEvent is emitted on every orchestrator state change.
type StateChangedEvent struct {
	From State `json:"from"`
	To   State `json:"to"`
}

func (e *StateChangedEvent) EventType() string { return "state.changed" }

// TurnRecordedEvent is emitted when a turn lands in the transcript.
type TurnRecordedEvent struct {
	Turn Turn `json:"turn"`
}

func (e *TurnRecordedEvent) EventType() string { return "turn.recorded" }

// PromptStartedEvent is emitted when prompt playback begins.
type PromptStartedEvent struct {
	PromptID      string `json:"prompt_id"`
	NodeID        string `json:"node_id"`
	Text          string `json:"text"`
	Interruptible bool   `json:"interruptible"`
}

func (e *PromptStartedEvent) EventType() string { return "prompt.started" }

// PromptInterruptedEvent is emitted when barge-in halts playback.
type PromptInterruptedEvent struct {
	PromptID   string  `json:"prompt_id"`
	PositionMs int     `json:"position_ms"`
	Energy     float64 `json:"energy"`
}

func (e *PromptInterruptedEvent) EventType() string { return "prompt.interrupted" }

// TransactionStartedEvent is emitted when a backend transaction begins.
type TransactionStartedEvent struct {
	Operation      string `json:"operation"`
	IdempotencyKey string `json:"idempotency_key"`
	StepIndex      int    `json:"step_index"`
}

func (e *TransactionStartedEvent) EventType() string { return "transaction.started" }

// TransactionSettledEvent is emitted once a transaction has a final
// status.
type TransactionSettledEvent struct {
	Operation      string `json:"operation"`
	IdempotencyKey string `json:"idempotency_key"`
	Status         string `json:"status"`
	Reason         string `json:"reason,omitempty"`
}

func (e *TransactionSettledEvent) EventType() string { return "transaction.settled" }

// FallbackEvent is emitted when the fallback controller takes over.
type FallbackEvent struct {
	Reason string `json:"reason"`
	Action string `json:"action"`
	Retry  int    `json:"retry"`
}

func (e *FallbackEvent) EventType() string { return "fallback.engaged" }

// ClosedEvent is emitted exactly once when the session terminates.
type ClosedEvent struct {
	Reason  string  `json:"reason"`
	Summary Summary `json:"summary"`
}

func (e *ClosedEvent) EventType() string { return "session.closed" }

// ErrorEvent is emitted for errors surfaced to the caller side.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorEvent) EventType() string { return "error" }
