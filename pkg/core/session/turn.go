package session

import (
	"sync"
	"time"
)

// TurnKind distinguishes what a transcript entry records.
type TurnKind string

const (
	TurnSpeech TurnKind = "speech" // caller utterance resolved to an intent
	TurnDTMF   TurnKind = "dtmf"   // caller keypad entry
	TurnPrompt TurnKind = "prompt" // system prompt played to the caller
)

// Turn is one entry of a session transcript.
type Turn struct {
	Index      int               `json:"index"`
	Kind       TurnKind          `json:"kind"`
	NodeID     string            `json:"node_id"`
	Text       string            `json:"text,omitempty"`
	Intent     string            `json:"intent,omitempty"`
	Confidence float64           `json:"confidence,omitempty"`
	Slots      map[string]string `json:"slots,omitempty"`
	At         time.Time         `json:"at"`
}

// Transcript is the append-only per-session record. Entries are never
// mutated or removed after Append.
type Transcript struct {
	mu    sync.Mutex
	turns []Turn
}

// Append adds a turn, assigning the next index, and returns the stored
// entry.
func (t *Transcript) Append(turn Turn) Turn {
	t.mu.Lock()
	defer t.mu.Unlock()
	turn.Index = len(t.turns)
	if turn.At.IsZero() {
		turn.At = time.Now()
	}
	t.turns = append(t.turns, turn)
	return turn
}

// Turns returns a copy of all entries in order.
func (t *Transcript) Turns() []Turn {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

// Len reports the number of entries.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.turns)
}
