// Package lifecycle tracks process drain state during graceful shutdown.
package lifecycle

import "sync/atomic"

// Lifecycle is a tiny process lifecycle state holder shared across
// handlers. While draining, readiness fails so the load balancer stops
// routing new calls here; established calls run to completion.
type Lifecycle struct {
	draining atomic.Bool
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}
