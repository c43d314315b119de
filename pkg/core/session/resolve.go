package session

import (
	"github.com/voxbridge/voxbridge/pkg/core"
	"github.com/voxbridge/voxbridge/pkg/core/flow"
	"github.com/voxbridge/voxbridge/pkg/core/speech"
)

// captured is one round of caller input as gathered while Listening: a
// completed DTMF entry, a classified utterance, or both.
type captured struct {
	digits     string
	transcript string
	intent     speech.Intent
	hasIntent  bool
}

// arbitrate merges concurrent DTMF and speech input into the single flow
// input the cursor will be advanced with. DTMF always wins when both are
// present; deterministic-only nodes never accept speech; speech below
// the confidence floor is rejected rather than guessed at.
func arbitrate(cur flow.Cursor, cand captured, minConfidence float64) (flow.Input, error) {
	if cand.digits != "" {
		return flow.Input{Kind: flow.KindDTMF, Value: cand.digits}, nil
	}

	if !cand.hasIntent {
		return flow.Input{}, core.NewInvalidTransition(cur.NodeID, "")
	}
	if cur.DeterministicOnly {
		return flow.Input{}, core.NewInvalidTransition(cur.NodeID, cand.intent.Name)
	}
	if cand.intent.Confidence < minConfidence {
		return flow.Input{}, core.NewInvalidTransition(cur.NodeID, "low_confidence:"+cand.intent.Name)
	}
	return flow.Input{
		Kind:  flow.KindIntent,
		Value: cand.intent.Name,
		Slots: cand.intent.Slots,
	}, nil
}
