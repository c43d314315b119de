package txn

import (
	"context"
	"fmt"
	"sync"
)

// DemoBackend is an in-process executor for the bundled airline flow. It
// fulfils pnr_lookup against a small fixture table and create_booking
// with generated references, counting every side effect so exactly-once
// behavior is observable.
type DemoBackend struct {
	mu       sync.Mutex
	statuses map[string]string
	bookings int
	executed map[string]int
}

// NewDemoBackend seeds a handful of itineraries.
func NewDemoBackend() *DemoBackend {
	return &DemoBackend{
		statuses: map[string]string{
			"314159": "on time, departs 14:05 from gate B12",
			"271828": "delayed 40 minutes, new departure 16:10",
			"999999": "cancelled",
		},
		executed: make(map[string]int),
	}
}

func (b *DemoBackend) Execute(ctx context.Context, d *Descriptor) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.executed[d.Operation]++

	switch d.Operation {
	case "pnr_lookup":
		pnr := d.Params["pnr"]
		status, ok := b.statuses[pnr]
		if !ok {
			return Outcome{Status: StatusFailed, Reason: "pnr_not_found"}, nil
		}
		return Outcome{
			Status: StatusCommitted,
			Result: map[string]string{"pnr": pnr, "status": status},
		}, nil

	case "create_booking":
		b.bookings++
		ref := fmt.Sprintf("VB%06d", b.bookings)
		class := d.Params["class"]
		if class == "" {
			class = "domestic"
		}
		return Outcome{
			Status: StatusCommitted,
			Result: map[string]string{"reference": ref, "class": class},
		}, nil

	case "transfer_agent":
		return Outcome{
			Status: StatusCommitted,
			Result: map[string]string{"queue": "general"},
		}, nil

	default:
		return Outcome{Status: StatusFailed, Reason: "unknown_operation"}, nil
	}
}

// Executions reports how many times an operation ran. Side effects, not
// bridge calls: a replayed outcome does not increment this.
func (b *DemoBackend) Executions(operation string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.executed[operation]
}

// Bookings reports how many bookings were actually created.
func (b *DemoBackend) Bookings() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bookings
}
