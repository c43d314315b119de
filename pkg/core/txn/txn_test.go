package txn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voxbridge/voxbridge/pkg/core"
)

func TestIdempotencyKeyDeterministic(t *testing.T) {
	a := IdempotencyKey("sess-1", 3)
	b := IdempotencyKey("sess-1", 3)
	if a != b {
		t.Fatalf("same session and step produced different keys: %s vs %s", a, b)
	}
	if a == IdempotencyKey("sess-1", 4) {
		t.Fatalf("different steps must produce different keys")
	}
	if a == IdempotencyKey("sess-2", 3) {
		t.Fatalf("different sessions must produce different keys")
	}
}

func TestDescriptorStatusMonotonic(t *testing.T) {
	d := NewDescriptor("sess-1", 0, "create_booking", nil)
	if d.Status != StatusPending {
		t.Fatalf("new descriptor status = %s, want pending", d.Status)
	}
	if !d.MarkCommitted() {
		t.Fatalf("pending -> committed should succeed")
	}
	if d.MarkFailed() {
		t.Fatalf("committed descriptor must not move to failed")
	}
	if d.Status != StatusCommitted {
		t.Fatalf("status changed after final, got %s", d.Status)
	}
}

func TestMemoryStoreFirstPutWins(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	first := Outcome{Status: StatusCommitted, Result: map[string]string{"reference": "VB000001"}}
	if err := s.Put(ctx, "k1", first); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(ctx, "k1", Outcome{Status: StatusFailed, Reason: "late"}); err != nil {
		t.Fatalf("second put: %v", err)
	}

	got, ok, err := s.Get(ctx, "k1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if !got.Committed() || got.Result["reference"] != "VB000001" {
		t.Fatalf("first recorded outcome was overwritten: %+v", got)
	}
}

// flakyExecutor fails at the transport level a fixed number of times
// before delegating to the real backend.
type flakyExecutor struct {
	failures int
	inner    Executor
	calls    int
}

func (f *flakyExecutor) Execute(ctx context.Context, d *Descriptor) (Outcome, error) {
	f.calls++
	if f.calls <= f.failures {
		return Outcome{}, errors.New("connection reset")
	}
	return f.inner.Execute(ctx, d)
}

func newBridgeForTest(exec Executor) (*Bridge, *MemoryStore) {
	store := NewMemoryStore()
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2}
	return NewBridge(exec, store, policy, time.Second, nil), store
}

func TestBridgeCommitsOnce(t *testing.T) {
	backend := NewDemoBackend()
	bridge, _ := newBridgeForTest(backend)
	ctx := context.Background()

	d := NewDescriptor("sess-1", 2, "create_booking", map[string]string{"class": "domestic"})
	out, err := bridge.Execute(ctx, d)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !out.Committed() {
		t.Fatalf("outcome = %+v, want committed", out)
	}
	if d.Status != StatusCommitted {
		t.Fatalf("descriptor status = %s, want committed", d.Status)
	}

	// Re-entry with the same session and step replays the outcome.
	replay := NewDescriptor("sess-1", 2, "create_booking", map[string]string{"class": "domestic"})
	out2, err := bridge.Execute(ctx, replay)
	if err != nil {
		t.Fatalf("replay execute: %v", err)
	}
	if out2.Result["reference"] != out.Result["reference"] {
		t.Fatalf("replay returned a different booking: %s vs %s",
			out2.Result["reference"], out.Result["reference"])
	}
	if backend.Bookings() != 1 {
		t.Fatalf("bookings created = %d, want exactly 1", backend.Bookings())
	}
}

func TestBridgeRetriesTransientThenCommits(t *testing.T) {
	backend := NewDemoBackend()
	flaky := &flakyExecutor{failures: 2, inner: backend}
	bridge, _ := newBridgeForTest(flaky)

	d := NewDescriptor("sess-1", 0, "pnr_lookup", map[string]string{"pnr": "314159"})
	out, err := bridge.Execute(context.Background(), d)
	if err != nil {
		t.Fatalf("execute after transient failures: %v", err)
	}
	if !out.Committed() {
		t.Fatalf("outcome = %+v, want committed", out)
	}
	if flaky.calls != 3 {
		t.Fatalf("executor calls = %d, want 3", flaky.calls)
	}
	if backend.Executions("pnr_lookup") != 1 {
		t.Fatalf("backend executed %d times, want 1", backend.Executions("pnr_lookup"))
	}
}

func TestBridgeExhaustionFails(t *testing.T) {
	flaky := &flakyExecutor{failures: 10, inner: NewDemoBackend()}
	bridge, store := newBridgeForTest(flaky)

	d := NewDescriptor("sess-1", 1, "create_booking", nil)
	out, err := bridge.Execute(context.Background(), d)
	if !core.IsType(err, core.ErrTransactionFailed) {
		t.Fatalf("error = %v, want transaction_failed", err)
	}
	if out.Reason != "backend_unreachable" {
		t.Fatalf("reason = %q, want backend_unreachable", out.Reason)
	}
	if d.Status != StatusFailed {
		t.Fatalf("descriptor status = %s, want failed", d.Status)
	}
	if flaky.calls != 3 {
		t.Fatalf("executor calls = %d, want bounded at 3", flaky.calls)
	}

	// The failure is recorded so re-entry does not retry forever.
	if _, ok, _ := store.Get(context.Background(), d.IdempotencyKey); !ok {
		t.Fatalf("exhausted outcome was not recorded")
	}
}

func TestBridgeBusinessFailureNoRetry(t *testing.T) {
	backend := NewDemoBackend()
	bridge, _ := newBridgeForTest(backend)

	d := NewDescriptor("sess-1", 0, "pnr_lookup", map[string]string{"pnr": "000000"})
	out, err := bridge.Execute(context.Background(), d)
	if !core.IsType(err, core.ErrTransactionFailed) {
		t.Fatalf("error = %v, want transaction_failed", err)
	}
	if out.Reason != "pnr_not_found" {
		t.Fatalf("reason = %q, want pnr_not_found", out.Reason)
	}
	if backend.Executions("pnr_lookup") != 1 {
		t.Fatalf("business failure was retried: %d executions", backend.Executions("pnr_lookup"))
	}
}

func TestBridgeConfirmAfterExecute(t *testing.T) {
	backend := NewDemoBackend()
	bridge, _ := newBridgeForTest(backend)
	ctx := context.Background()

	d := NewDescriptor("sess-1", 5, "create_booking", nil)
	if _, err := bridge.Execute(ctx, d); err != nil {
		t.Fatalf("execute: %v", err)
	}

	fresh := NewDescriptor("sess-1", 5, "create_booking", nil)
	out, ok, err := bridge.Confirm(ctx, fresh)
	if err != nil || !ok {
		t.Fatalf("confirm: ok=%v err=%v", ok, err)
	}
	if !out.Committed() || fresh.Status != StatusCommitted {
		t.Fatalf("confirm did not surface final status: out=%+v status=%s", out, fresh.Status)
	}
}
