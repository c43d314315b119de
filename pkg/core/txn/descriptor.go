// Package txn implements the transaction bridge: idempotent execution of
// backend operations on behalf of a call session, with bounded retry and
// client-side outcome deduplication.
package txn

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Status is the lifecycle of a transaction descriptor. Transitions are
// monotonic: pending -> committed or pending -> failed, never reversed.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCommitted Status = "committed"
	StatusFailed    Status = "failed"
)

// Descriptor identifies one backend operation for one logical step of a
// call session. The idempotency key is derived before the first attempt
// and reused on every retry so the backend can deduplicate.
type Descriptor struct {
	SessionID      string            `json:"session_id"`
	StepIndex      int               `json:"step_index"`
	IdempotencyKey string            `json:"idempotency_key"`
	Operation      string            `json:"operation"`
	Params         map[string]string `json:"params,omitempty"`
	Status         Status            `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
}

// NewDescriptor creates a pending descriptor for the given logical step.
func NewDescriptor(sessionID string, stepIndex int, operation string, params map[string]string) *Descriptor {
	return &Descriptor{
		SessionID:      sessionID,
		StepIndex:      stepIndex,
		IdempotencyKey: IdempotencyKey(sessionID, stepIndex),
		Operation:      operation,
		Params:         params,
		Status:         StatusPending,
		CreatedAt:      time.Now().UTC(),
	}
}

// IdempotencyKey derives the deterministic key for a session's logical
// step. The same (session, step) pair always yields the same key.
func IdempotencyKey(sessionID string, stepIndex int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", sessionID, stepIndex)))
	return hex.EncodeToString(sum[:16])
}

// MarkCommitted moves the descriptor to committed. Returns false if the
// descriptor already reached a final status.
func (d *Descriptor) MarkCommitted() bool {
	if d.Status != StatusPending {
		return false
	}
	d.Status = StatusCommitted
	return true
}

// MarkFailed moves the descriptor to failed. Returns false if the
// descriptor already reached a final status.
func (d *Descriptor) MarkFailed() bool {
	if d.Status != StatusPending {
		return false
	}
	d.Status = StatusFailed
	return true
}

// Final reports whether the descriptor reached a terminal status.
func (d *Descriptor) Final() bool {
	return d.Status == StatusCommitted || d.Status == StatusFailed
}
