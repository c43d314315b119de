package flow

import (
	"testing"

	"github.com/voxbridge/voxbridge/pkg/core"
)

func startSession(t *testing.T, a *GraphAdapter, sessionID string) Cursor {
	t.Helper()
	c, err := a.Start(sessionID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return c
}

func TestGraphAdapterStartAndCursor(t *testing.T) {
	a := NewGraphAdapter(DemoGraph())
	c := startSession(t, a, "s1")

	if c.NodeID != "main" {
		t.Fatalf("start node = %q, want main", c.NodeID)
	}
	if c.DeterministicOnly {
		t.Fatalf("main should not be deterministic-only")
	}
	if len(c.PermissibleDigits) != 3 {
		t.Fatalf("main digits = %v, want 3 entries", c.PermissibleDigits)
	}

	again, err := a.Cursor("s1")
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	if again.NodeID != "main" {
		t.Fatalf("Cursor node = %q, want main", again.NodeID)
	}
}

func TestGraphAdapterAdvanceByDigit(t *testing.T) {
	a := NewGraphAdapter(DemoGraph())
	startSession(t, a, "s1")

	c, err := a.Advance("s1", Input{Kind: KindDTMF, Value: "1"})
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if c.NodeID != "booking" {
		t.Fatalf("node = %q, want booking", c.NodeID)
	}
}

func TestGraphAdapterAdvanceByIntent(t *testing.T) {
	a := NewGraphAdapter(DemoGraph())
	startSession(t, a, "s1")

	c, err := a.Advance("s1", Input{Kind: KindIntent, Value: "flight_status"})
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if c.NodeID != "flight_status" {
		t.Fatalf("node = %q, want flight_status", c.NodeID)
	}
	if !c.DeterministicOnly {
		t.Fatalf("flight_status should be deterministic-only")
	}
	if c.DigitLength != 6 {
		t.Fatalf("DigitLength = %d, want 6", c.DigitLength)
	}
}

func TestGraphAdapterRejectsImpermissibleInput(t *testing.T) {
	a := NewGraphAdapter(DemoGraph())
	startSession(t, a, "s1")

	_, err := a.Advance("s1", Input{Kind: KindDTMF, Value: "9"})
	if !core.IsType(err, core.ErrInvalidTransition) {
		t.Fatalf("Advance(9) err = %v, want invalid_transition", err)
	}

	// Cursor must not have moved.
	c, _ := a.Cursor("s1")
	if c.NodeID != "main" {
		t.Fatalf("cursor moved to %q after rejected input", c.NodeID)
	}
}

func TestDeterministicOnlyNodeRejectsIntent(t *testing.T) {
	a := NewGraphAdapter(DemoGraph())
	startSession(t, a, "s1")
	if _, err := a.Advance("s1", Input{Kind: KindDTMF, Value: "2"}); err != nil {
		t.Fatalf("Advance(2): %v", err)
	}

	_, err := a.Resolve("s1", Input{Kind: KindIntent, Value: "flight_status"})
	if !core.IsType(err, core.ErrInvalidTransition) {
		t.Fatalf("intent at deterministic-only node: err = %v, want invalid_transition", err)
	}
}

func TestCaptureResolvesToTransaction(t *testing.T) {
	a := NewGraphAdapter(DemoGraph())
	startSession(t, a, "s1")
	if _, err := a.Advance("s1", Input{Kind: KindDTMF, Value: "2"}); err != nil {
		t.Fatalf("Advance(2): %v", err)
	}

	res, err := a.Resolve("s1", Input{Kind: KindDTMF, Value: "314159"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !res.RequiresTransaction() {
		t.Fatalf("six digit entry should require a transaction")
	}
	if res.Operation != "pnr_lookup" {
		t.Fatalf("operation = %q, want pnr_lookup", res.Operation)
	}
	if res.Params["pnr"] != "314159" {
		t.Fatalf("params = %v, want pnr=314159", res.Params)
	}
	if res.Next != "status_result" {
		t.Fatalf("next = %q, want status_result", res.Next)
	}

	// Wrong length is not permissible.
	if _, err := a.Resolve("s1", Input{Kind: KindDTMF, Value: "31415"}); !core.IsType(err, core.ErrInvalidTransition) {
		t.Fatalf("5-digit entry err = %v, want invalid_transition", err)
	}
}

func TestStaticTransitionParams(t *testing.T) {
	a := NewGraphAdapter(DemoGraph())
	startSession(t, a, "s1")
	if _, err := a.Advance("s1", Input{Kind: KindDTMF, Value: "1"}); err != nil {
		t.Fatalf("Advance(1): %v", err)
	}

	res, err := a.Resolve("s1", Input{Kind: KindDTMF, Value: "2"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Operation != "create_booking" || res.Params["class"] != "international" {
		t.Fatalf("resolution = %+v, want create_booking/international", res)
	}
}

func TestMenuLoopIsCyclic(t *testing.T) {
	a := NewGraphAdapter(DemoGraph())
	startSession(t, a, "s1")

	// main -> booking -> main -> booking, a menu loop.
	for i := 0; i < 2; i++ {
		c, err := a.Advance("s1", Input{Kind: KindDTMF, Value: "1"})
		if err != nil || c.NodeID != "booking" {
			t.Fatalf("iteration %d: node = %q err = %v", i, c.NodeID, err)
		}
		c, err = a.Advance("s1", Input{Kind: KindDTMF, Value: "0"})
		if err != nil || c.NodeID != "main" {
			t.Fatalf("iteration %d: node = %q err = %v", i, c.NodeID, err)
		}
	}
}

func TestEndReleasesCursor(t *testing.T) {
	a := NewGraphAdapter(DemoGraph())
	startSession(t, a, "s1")
	a.End("s1")

	if _, err := a.Cursor("s1"); !core.IsType(err, core.ErrInvalidTransition) {
		t.Fatalf("Cursor after End err = %v, want invalid_transition", err)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	a := NewGraphAdapter(DemoGraph())
	startSession(t, a, "s1")
	startSession(t, a, "s2")

	if _, err := a.Advance("s1", Input{Kind: KindDTMF, Value: "1"}); err != nil {
		t.Fatalf("Advance s1: %v", err)
	}
	c2, _ := a.Cursor("s2")
	if c2.NodeID != "main" {
		t.Fatalf("s2 cursor = %q, want main", c2.NodeID)
	}
}
