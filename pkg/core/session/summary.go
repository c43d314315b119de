package session

import "time"

// Summary is the immutable record of a terminated session, handed to the
// audit sink and carried on the session.closed event.
type Summary struct {
	SessionID string    `json:"session_id"`
	CallerID  string    `json:"caller_id,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Reason    string    `json:"reason"`
	FinalNode string    `json:"final_node,omitempty"`
	Turns     []Turn    `json:"turns"`
}
