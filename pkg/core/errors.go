package core

import (
	"errors"
	"fmt"
)

// Error is the session-facing error for every failure the orchestrator has
// to route: recognition problems, flow desync, transaction outcomes, and
// call teardown. The Type determines which state the session moves to.
type Error struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	// Reason is a machine-readable detail, e.g. the backend failure code
	// that feeds the caller-facing apology prompt.
	Reason     string `json:"reason,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s (reason: %s)", e.Type, e.Message, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error { return e.underlying }

// ErrorType categorizes errors by how the orchestrator must react.
type ErrorType string

const (
	// ErrRecognitionTimeout: no final recognition result arrived within the
	// bounded window. Non-fatal; routes the session to Fallback.
	ErrRecognitionTimeout ErrorType = "recognition_timeout"
	// ErrRecognitionUnavailable: the STT/NLU service is unreachable.
	// Non-fatal; routes the session to Fallback.
	ErrRecognitionUnavailable ErrorType = "recognition_unavailable"
	// ErrInvalidTransition: an input was submitted that the legacy flow
	// cursor does not permit. Adapter desync, fatal to the session.
	ErrInvalidTransition ErrorType = "invalid_transition"
	// ErrTransactionFailed: the backend reported a business failure or
	// retries were exhausted. Non-fatal; feeds the Fallback Controller.
	ErrTransactionFailed ErrorType = "transaction_failed"
	// ErrSessionTimeout: caller silence exceeded the configured window.
	// Non-fatal; feeds Fallback.
	ErrSessionTimeout ErrorType = "session_timeout"
	// ErrCallTerminated: the call ended externally (hangup, transfer,
	// operator override). Supersedes all in-flight operations.
	ErrCallTerminated ErrorType = "call_terminated"
)

// NewRecognitionTimeout creates a recognition timeout error.
func NewRecognitionTimeout(message string) *Error {
	return &Error{Type: ErrRecognitionTimeout, Message: message}
}

// NewRecognitionUnavailable creates a recognition unavailable error.
func NewRecognitionUnavailable(message string, underlying error) *Error {
	return &Error{Type: ErrRecognitionUnavailable, Message: message, underlying: underlying}
}

// NewInvalidTransition creates an invalid transition error for the given
// node and rejected input.
func NewInvalidTransition(nodeID, input string) *Error {
	return &Error{
		Type:    ErrInvalidTransition,
		Message: fmt.Sprintf("input %q is not permissible at node %q", input, nodeID),
		Reason:  nodeID,
	}
}

// NewTransactionFailed creates a transaction failure with a machine-readable
// reason code.
func NewTransactionFailed(reason, message string) *Error {
	return &Error{Type: ErrTransactionFailed, Message: message, Reason: reason}
}

// NewSessionTimeout creates a caller-silence timeout error.
func NewSessionTimeout(message string) *Error {
	return &Error{Type: ErrSessionTimeout, Message: message}
}

// NewCallTerminated creates a forced-teardown error.
func NewCallTerminated(reason string) *Error {
	return &Error{Type: ErrCallTerminated, Message: "call terminated externally", Reason: reason}
}

// IsRecoverable reports whether the Fallback Controller can absorb the
// error. InvalidTransition and external termination are not recoverable.
func (e *Error) IsRecoverable() bool {
	switch e.Type {
	case ErrRecognitionTimeout, ErrRecognitionUnavailable, ErrTransactionFailed, ErrSessionTimeout:
		return true
	default:
		return false
	}
}

// TypeOf extracts the ErrorType from err, or "" if err is not a *Error.
func TypeOf(err error) ErrorType {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Type
	}
	return ""
}

// IsType reports whether err carries the given ErrorType.
func IsType(err error, t ErrorType) bool {
	return TypeOf(err) == t
}
