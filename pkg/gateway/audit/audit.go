// Package audit persists terminated session records and serves call
// history.
package audit

import (
	"context"
	"sync"

	"github.com/voxbridge/voxbridge/pkg/core/session"
)

// Sink stores terminated-session records.
type Sink interface {
	// Record persists one summary. Called once per session, after
	// termination.
	Record(ctx context.Context, s session.Summary) error
	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]session.Summary, error)
	Close() error
}

// MemorySink keeps the most recent records in memory.
type MemorySink struct {
	mu      sync.Mutex
	records []session.Summary
	limit   int
}

// NewMemorySink creates a sink retaining up to limit records.
func NewMemorySink(limit int) *MemorySink {
	if limit <= 0 {
		limit = 100
	}
	return &MemorySink{limit: limit}
}

func (m *MemorySink) Record(_ context.Context, s session.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, s)
	if len(m.records) > m.limit {
		m.records = m.records[len(m.records)-m.limit:]
	}
	return nil
}

func (m *MemorySink) Recent(_ context.Context, limit int) ([]session.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	out := make([]session.Summary, 0, limit)
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.records[i])
	}
	return out, nil
}

func (m *MemorySink) Close() error { return nil }
