package txn

import (
	"context"
	"log/slog"
	"time"

	"github.com/voxbridge/voxbridge/pkg/core"
)

// Executor performs one backend operation attempt. A returned error means
// the attempt failed at the transport level and may be retried with the
// same idempotency key; a returned Outcome is the backend's final word
// for that key (committed, or a business failure that retrying will not
// change).
type Executor interface {
	Execute(ctx context.Context, d *Descriptor) (Outcome, error)
}

// RetryPolicy bounds transport-level retries.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// DefaultRetryPolicy returns the standard bounded backoff: 3 attempts,
// 250ms base, doubling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 250 * time.Millisecond, Multiplier: 2}
}

// Bridge executes transactions idempotently. Outcomes are recorded in the
// Store by idempotency key, so re-entry for the same logical step returns
// the original outcome without re-executing side effects; the key also
// rides every attempt so the backend can deduplicate a retry after an
// ambiguous timeout.
type Bridge struct {
	executor Executor
	store    Store
	policy   RetryPolicy
	deadline time.Duration
	logger   *slog.Logger
}

// NewBridge creates a transaction bridge. deadline bounds one Execute
// call end to end; zero means the caller's context governs.
func NewBridge(executor Executor, store Store, policy RetryPolicy, deadline time.Duration, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}
	return &Bridge{
		executor: executor,
		store:    store,
		policy:   policy,
		deadline: deadline,
		logger:   logger,
	}
}

// Execute runs the descriptor's operation at most once. The returned
// Outcome is always final (committed or failed); the error is non-nil for
// failures and carries the transaction_failed type with a
// machine-readable reason.
//
// Callers must pass a context that survives session teardown: a hangup
// must not abandon a pending transaction before its final status is
// known.
func (b *Bridge) Execute(ctx context.Context, d *Descriptor) (Outcome, error) {
	if prior, ok, err := b.store.Get(ctx, d.IdempotencyKey); err == nil && ok {
		b.applyOutcome(d, prior)
		b.logger.Debug("transaction outcome replayed from store",
			"session_id", d.SessionID, "key", d.IdempotencyKey, "status", prior.Status)
		return b.finish(d, prior)
	} else if err != nil {
		b.logger.Warn("idempotency store lookup failed", "key", d.IdempotencyKey, "error", err)
	}

	if b.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.deadline)
		defer cancel()
	}

	delay := b.policy.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= b.policy.MaxAttempts; attempt++ {
		out, err := b.executor.Execute(ctx, d)
		if err == nil {
			if putErr := b.store.Put(ctx, d.IdempotencyKey, out); putErr != nil {
				b.logger.Warn("recording transaction outcome failed", "key", d.IdempotencyKey, "error", putErr)
			}
			b.applyOutcome(d, out)
			return b.finish(d, out)
		}

		lastErr = err
		b.logger.Warn("transaction attempt failed",
			"session_id", d.SessionID, "operation", d.Operation,
			"attempt", attempt, "error", err)

		if attempt == b.policy.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			// deadline beats remaining retries
		case <-time.After(delay):
			delay = time.Duration(float64(delay) * b.policy.Multiplier)
			continue
		}
		break
	}

	out := Outcome{Status: StatusFailed, Reason: "backend_unreachable"}
	if ctx.Err() != nil {
		out.Reason = "transaction_deadline"
	}
	if putErr := b.store.Put(context.WithoutCancel(ctx), d.IdempotencyKey, out); putErr != nil {
		b.logger.Warn("recording transaction outcome failed", "key", d.IdempotencyKey, "error", putErr)
	}
	b.applyOutcome(d, out)
	return out, core.NewTransactionFailed(out.Reason, "transaction retries exhausted: "+lastErr.Error())
}

// Confirm returns the final recorded status for a descriptor, if one
// exists. Used during teardown to make sure a pending transaction's
// result is not orphaned.
func (b *Bridge) Confirm(ctx context.Context, d *Descriptor) (Outcome, bool, error) {
	out, ok, err := b.store.Get(ctx, d.IdempotencyKey)
	if err != nil || !ok {
		return Outcome{}, ok, err
	}
	b.applyOutcome(d, out)
	return out, true, nil
}

func (b *Bridge) applyOutcome(d *Descriptor, out Outcome) {
	if out.Committed() {
		d.MarkCommitted()
	} else {
		d.MarkFailed()
	}
}

func (b *Bridge) finish(d *Descriptor, out Outcome) (Outcome, error) {
	if out.Committed() {
		return out, nil
	}
	return out, core.NewTransactionFailed(out.Reason, "backend reported failure for "+d.Operation)
}
