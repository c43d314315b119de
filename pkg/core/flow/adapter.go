package flow

import (
	"sync"

	"github.com/voxbridge/voxbridge/pkg/core"
)

// Cursor is a session's position in the legacy flow graph, exposed to the
// orchestrator together with what the node will accept next.
type Cursor struct {
	NodeID             string    `json:"node_id"`
	Prompt             string    `json:"prompt"`
	NonInterruptible   bool      `json:"non_interruptible,omitempty"`
	PermissibleDigits  []string  `json:"permissible_digits,omitempty"`
	PermissibleIntents []string  `json:"permissible_intents,omitempty"`
	Expected           InputType `json:"expected"`
	DeterministicOnly  bool      `json:"deterministic_only,omitempty"`
	DigitLength        int       `json:"digit_length,omitempty"`
	Terminal           bool      `json:"terminal,omitempty"`
	TerminationReason  string    `json:"termination_reason,omitempty"`
}

// Resolution is the non-mutating answer to "what would this input do".
// The orchestrator uses it to decide between Responding and
// AwaitingTransaction before the cursor is allowed to move.
type Resolution struct {
	Next      string
	Operation string
	// Params carries operation parameters extracted from the input
	// (captured digits, intent slots).
	Params map[string]string
}

// RequiresTransaction reports whether a backend operation must commit
// before advancing.
func (r Resolution) RequiresTransaction() bool { return r.Operation != "" }

// Adapter is the uniform interface over the legacy call-flow interpreter.
// One cursor exists per session; Advance must never run concurrently for
// the same session.
type Adapter interface {
	// Start binds a session to the graph's start node.
	Start(sessionID string) (Cursor, error)
	// Cursor returns the session's current position.
	Cursor(sessionID string) (Cursor, error)
	// Resolve checks an input against the current cursor without moving
	// it. Fails with an invalid_transition error if not permissible.
	Resolve(sessionID string, in Input) (Resolution, error)
	// Advance submits an accepted input and moves the cursor. Fails with
	// an invalid_transition error if the input is not permissible; this
	// is a defensive check against adapter desync.
	Advance(sessionID string, in Input) (Cursor, error)
	// End releases the session's cursor.
	End(sessionID string)
}

// GraphAdapter implements Adapter over an in-process Graph. The real
// legacy interpreter sits behind the same interface in production; the
// graph adapter is also what serves exported VXML-derived menu tables.
type GraphAdapter struct {
	graph *Graph

	mu      sync.Mutex
	cursors map[string]string // session id -> node id
}

// NewGraphAdapter creates an adapter over a validated graph.
func NewGraphAdapter(g *Graph) *GraphAdapter {
	return &GraphAdapter{
		graph:   g,
		cursors: make(map[string]string),
	}
}

// Start implements Adapter.
func (a *GraphAdapter) Start(sessionID string) (Cursor, error) {
	a.mu.Lock()
	a.cursors[sessionID] = a.graph.Start
	a.mu.Unlock()
	return a.cursorFor(a.graph.Start), nil
}

// Cursor implements Adapter.
func (a *GraphAdapter) Cursor(sessionID string) (Cursor, error) {
	nodeID, err := a.nodeFor(sessionID)
	if err != nil {
		return Cursor{}, err
	}
	return a.cursorFor(nodeID), nil
}

// Resolve implements Adapter.
func (a *GraphAdapter) Resolve(sessionID string, in Input) (Resolution, error) {
	nodeID, err := a.nodeFor(sessionID)
	if err != nil {
		return Resolution{}, err
	}
	return a.resolveAt(nodeID, in)
}

// Advance implements Adapter.
func (a *GraphAdapter) Advance(sessionID string, in Input) (Cursor, error) {
	nodeID, err := a.nodeFor(sessionID)
	if err != nil {
		return Cursor{}, err
	}
	res, err := a.resolveAt(nodeID, in)
	if err != nil {
		return Cursor{}, err
	}
	a.mu.Lock()
	a.cursors[sessionID] = res.Next
	a.mu.Unlock()
	return a.cursorFor(res.Next), nil
}

// End implements Adapter.
func (a *GraphAdapter) End(sessionID string) {
	a.mu.Lock()
	delete(a.cursors, sessionID)
	a.mu.Unlock()
}

func (a *GraphAdapter) nodeFor(sessionID string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	nodeID, ok := a.cursors[sessionID]
	if !ok {
		return "", core.NewInvalidTransition("", "session has no cursor: "+sessionID)
	}
	return nodeID, nil
}

func (a *GraphAdapter) resolveAt(nodeID string, in Input) (Resolution, error) {
	node := a.graph.Node(nodeID)
	if node == nil || node.Terminal {
		return Resolution{}, core.NewInvalidTransition(nodeID, in.Value)
	}

	switch in.Kind {
	case KindDTMF:
		for _, tr := range node.Transitions {
			if tr.OnDigit != "" && tr.OnDigit == in.Value {
				return Resolution{Next: tr.Next, Operation: tr.Operation, Params: mergeParams(tr.Params, in.Slots)}, nil
			}
		}
		if c := node.Capture; c != nil && len(in.Value) == c.Length && allDigits(in.Value) {
			params := cloneSlots(in.Slots)
			if params == nil {
				params = make(map[string]string, 1)
			}
			params[c.ParamName] = in.Value
			return Resolution{Next: c.Next, Operation: c.Operation, Params: params}, nil
		}
	case KindIntent:
		if node.DeterministicOnly {
			// Exact-match menu semantics: no intent substitution.
			return Resolution{}, core.NewInvalidTransition(nodeID, in.Value)
		}
		for _, tr := range node.Transitions {
			if tr.OnIntent != "" && tr.OnIntent == in.Value {
				return Resolution{Next: tr.Next, Operation: tr.Operation, Params: mergeParams(tr.Params, in.Slots)}, nil
			}
		}
	}
	return Resolution{}, core.NewInvalidTransition(nodeID, in.Value)
}

func (a *GraphAdapter) cursorFor(nodeID string) Cursor {
	node := a.graph.Node(nodeID)
	c := Cursor{
		NodeID:             nodeID,
		Prompt:             node.Prompt,
		NonInterruptible:   node.NonInterruptible,
		PermissibleDigits:  node.PermissibleDigits(),
		PermissibleIntents: node.PermissibleIntents(),
		Expected:           node.Expected,
		DeterministicOnly:  node.DeterministicOnly,
		Terminal:           node.Terminal,
		TerminationReason:  node.TerminationReason,
	}
	if node.Capture != nil {
		c.DigitLength = node.Capture.Length
	}
	return c
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func cloneSlots(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func mergeParams(static, slots map[string]string) map[string]string {
	if len(static) == 0 {
		return cloneSlots(slots)
	}
	out := make(map[string]string, len(static)+len(slots))
	for k, v := range static {
		out[k] = v
	}
	for k, v := range slots {
		out[k] = v
	}
	return out
}
