package flow

import (
	"strings"
	"testing"
)

func TestDemoGraphValidates(t *testing.T) {
	if err := DemoGraph().Validate(); err != nil {
		t.Fatalf("DemoGraph does not validate: %v", err)
	}
}

func TestParseGraphRoundTrip(t *testing.T) {
	data := []byte(`{
		"start": "a",
		"nodes": {
			"a": {"prompt": "pick one", "expected": "dtmf",
				"transitions": [{"on_digit": "1", "next": "b"}]},
			"b": {"prompt": "bye", "terminal": true, "termination_reason": "completed"}
		}
	}`)
	g, err := ParseGraph(data)
	if err != nil {
		t.Fatalf("ParseGraph: %v", err)
	}
	if g.Start != "a" {
		t.Fatalf("start = %q, want a", g.Start)
	}
	if g.Node("a").Transitions[0].Next != "b" {
		t.Fatalf("transition target = %q, want b", g.Node("a").Transitions[0].Next)
	}
}

func TestValidateRejectsBrokenGraphs(t *testing.T) {
	cases := []struct {
		name    string
		graph   *Graph
		wantSub string
	}{
		{
			name:    "missing start",
			graph:   &Graph{Nodes: map[string]*Node{}},
			wantSub: "missing start",
		},
		{
			name: "unknown start",
			graph: &Graph{Start: "nope", Nodes: map[string]*Node{
				"a": {ID: "a", Terminal: true},
			}},
			wantSub: "start node",
		},
		{
			name: "dangling transition",
			graph: &Graph{Start: "a", Nodes: map[string]*Node{
				"a": {ID: "a", Transitions: []Transition{{OnDigit: "1", Next: "ghost"}}},
			}},
			wantSub: "unknown node",
		},
		{
			name: "terminal with transitions",
			graph: &Graph{Start: "a", Nodes: map[string]*Node{
				"a": {ID: "a", Terminal: true, Transitions: []Transition{{OnDigit: "1", Next: "a"}}},
			}},
			wantSub: "terminal node",
		},
		{
			name: "deadend node",
			graph: &Graph{Start: "a", Nodes: map[string]*Node{
				"a": {ID: "a"},
			}},
			wantSub: "no transitions",
		},
		{
			name: "deterministic node with intent",
			graph: &Graph{Start: "a", Nodes: map[string]*Node{
				"a": {ID: "a", DeterministicOnly: true, Transitions: []Transition{{OnIntent: "x", Next: "b"}}},
				"b": {ID: "b", Terminal: true},
			}},
			wantSub: "deterministic-only",
		},
		{
			name: "capture without length",
			graph: &Graph{Start: "a", Nodes: map[string]*Node{
				"a": {ID: "a", Capture: &Capture{ParamName: "pin", Next: "b"}},
				"b": {ID: "b", Terminal: true},
			}},
			wantSub: "capture has no length",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.graph.Validate()
			if err == nil {
				t.Fatalf("Validate accepted a broken graph")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("error %q does not mention %q", err, tc.wantSub)
			}
		})
	}
}
