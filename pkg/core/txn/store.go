package txn

import (
	"context"
	"sync"
)

// Outcome is the final result of one backend operation.
type Outcome struct {
	Status Status            `json:"status"` // committed or failed
	Result map[string]string `json:"result,omitempty"`
	// Reason is a machine-readable failure code that feeds the
	// caller-facing apology prompt. Empty on commit.
	Reason string `json:"reason,omitempty"`
}

// Committed reports whether the operation's side effects took place.
func (o Outcome) Committed() bool { return o.Status == StatusCommitted }

// Store records final outcomes by idempotency key so a logical step's
// side effects execute at most once even across retries and re-entry.
type Store interface {
	// Get returns the recorded outcome for key, if any.
	Get(ctx context.Context, key string) (Outcome, bool, error)
	// Put records the final outcome for key. Earlier records win; a
	// second Put for the same key is a no-op.
	Put(ctx context.Context, key string, out Outcome) error
}

// MemoryStore is the in-process Store used by tests and single-node
// deployments.
type MemoryStore struct {
	mu       sync.Mutex
	outcomes map[string]Outcome
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{outcomes: make(map[string]Outcome)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) (Outcome, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, ok := s.outcomes[key]
	return out, ok, nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, key string, out Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.outcomes[key]; exists {
		return nil
	}
	s.outcomes[key] = out
	return nil
}

// Len returns the number of recorded outcomes.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outcomes)
}
