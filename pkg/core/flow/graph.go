// Package flow wraps the legacy call-flow definition behind a uniform
// cursor interface. Graphs are plain node tables addressed by stable
// identifiers; menu loops are cycles in the table, never recursion.
package flow

import (
	"encoding/json"
	"fmt"
)

// InputType declares what kind of caller input a node expects.
type InputType string

const (
	// InputDTMF: the node only accepts keypad digits.
	InputDTMF InputType = "dtmf"
	// InputSpeech: the node only accepts spoken input.
	InputSpeech InputType = "speech"
	// InputAny: digits and speech are both acceptable.
	InputAny InputType = "any"
)

// InputKind distinguishes how a resolved input was produced.
type InputKind string

const (
	KindDTMF   InputKind = "dtmf"
	KindIntent InputKind = "intent"
)

// Input is one resolved caller input submitted to the flow adapter.
type Input struct {
	Kind  InputKind         `json:"kind"`
	Value string            `json:"value"` // digit string or intent name
	Slots map[string]string `json:"slots,omitempty"`
}

// Transition maps one permissible input at a node to its successor.
// Operation, when set, names a backend operation that must commit before
// the cursor may advance through this transition.
type Transition struct {
	OnDigit   string `json:"on_digit,omitempty"`
	OnIntent  string `json:"on_intent,omitempty"`
	Next      string `json:"next"`
	Operation string `json:"operation,omitempty"`
	// Params are static operation parameters defined by the flow itself,
	// merged under any slots extracted from the input.
	Params map[string]string `json:"params,omitempty"`
}

// Capture describes digit-entry semantics (PIN or reference-number
// collection). A digit string of exactly Length completes the capture and
// takes the transition; the digits travel as the ParamName parameter.
type Capture struct {
	Length    int    `json:"length"`
	ParamName string `json:"param_name"`
	Operation string `json:"operation,omitempty"`
	Next      string `json:"next"`
}

// Node is one state in the legacy flow graph.
type Node struct {
	ID     string `json:"id"`
	Prompt string `json:"prompt"`

	// NonInterruptible marks prompts that must play to completion,
	// e.g. legal disclaimers. Barge-in is ignored while they play.
	NonInterruptible bool `json:"non_interruptible,omitempty"`

	Expected InputType `json:"expected"`

	// DeterministicOnly nodes demand exact DTMF menu behavior; intent
	// substitution is not allowed (PIN entry and the like).
	DeterministicOnly bool `json:"deterministic_only,omitempty"`

	Terminal bool `json:"terminal,omitempty"`
	// TerminationReason labels terminal nodes: "completed", "transfer".
	TerminationReason string `json:"termination_reason,omitempty"`

	Transitions []Transition `json:"transitions,omitempty"`
	Capture     *Capture     `json:"capture,omitempty"`
}

// Graph is an immutable legacy flow definition.
type Graph struct {
	Start string           `json:"start"`
	Nodes map[string]*Node `json:"nodes"`
}

// ParseGraph decodes and validates a JSON graph definition.
func ParseGraph(data []byte) (*Graph, error) {
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parsing flow graph: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

// Validate checks structural integrity: the start node exists, every
// transition target exists, terminal nodes are sinks, and digit-entry
// captures are well formed.
func (g *Graph) Validate() error {
	if g.Start == "" {
		return fmt.Errorf("flow graph: missing start node")
	}
	if _, ok := g.Nodes[g.Start]; !ok {
		return fmt.Errorf("flow graph: start node %q not defined", g.Start)
	}
	for id, n := range g.Nodes {
		if n.ID == "" {
			n.ID = id
		}
		if n.ID != id {
			return fmt.Errorf("flow graph: node key %q does not match id %q", id, n.ID)
		}
		if n.Terminal {
			if len(n.Transitions) > 0 || n.Capture != nil {
				return fmt.Errorf("flow graph: terminal node %q has outgoing transitions", id)
			}
			continue
		}
		if len(n.Transitions) == 0 && n.Capture == nil {
			return fmt.Errorf("flow graph: non-terminal node %q has no transitions", id)
		}
		for _, tr := range n.Transitions {
			if tr.OnDigit == "" && tr.OnIntent == "" {
				return fmt.Errorf("flow graph: node %q has a transition with no trigger", id)
			}
			if _, ok := g.Nodes[tr.Next]; !ok {
				return fmt.Errorf("flow graph: node %q transition targets unknown node %q", id, tr.Next)
			}
			if n.DeterministicOnly && tr.OnIntent != "" {
				return fmt.Errorf("flow graph: deterministic-only node %q maps intent %q", id, tr.OnIntent)
			}
		}
		if n.Capture != nil {
			if n.Capture.Length <= 0 {
				return fmt.Errorf("flow graph: node %q capture has no length", id)
			}
			if n.Capture.ParamName == "" {
				return fmt.Errorf("flow graph: node %q capture has no param name", id)
			}
			if _, ok := g.Nodes[n.Capture.Next]; !ok {
				return fmt.Errorf("flow graph: node %q capture targets unknown node %q", id, n.Capture.Next)
			}
		}
	}
	return nil
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id string) *Node {
	return g.Nodes[id]
}

// PermissibleDigits lists the DTMF values the node accepts.
func (n *Node) PermissibleDigits() []string {
	var out []string
	for _, tr := range n.Transitions {
		if tr.OnDigit != "" {
			out = append(out, tr.OnDigit)
		}
	}
	return out
}

// PermissibleIntents lists the intent names the node accepts.
func (n *Node) PermissibleIntents() []string {
	var out []string
	for _, tr := range n.Transitions {
		if tr.OnIntent != "" {
			out = append(out, tr.OnIntent)
		}
	}
	return out
}
