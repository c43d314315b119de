package session

import (
	"testing"

	"github.com/voxbridge/voxbridge/pkg/core"
)

func TestFallbackDecisionTable(t *testing.T) {
	f := FallbackController{MaxRetries: 2}

	tests := []struct {
		name          string
		errType       core.ErrorType
		retry         int
		deterministic bool
		want          FallbackAction
	}{
		{"timeout first try", core.ErrRecognitionTimeout, 0, false, ActionReprompt},
		{"timeout second try", core.ErrRecognitionTimeout, 1, false, ActionReprompt},
		{"timeout exhausted", core.ErrRecognitionTimeout, 2, false, ActionTransferAgent},
		{"silent caller reprompts", core.ErrSessionTimeout, 0, false, ActionReprompt},
		{"silent caller exhausted", core.ErrSessionTimeout, 2, false, ActionTransferAgent},
		{"stt down degrades", core.ErrRecognitionUnavailable, 0, false, ActionDegradeDTMF},
		{"stt down exhausted", core.ErrRecognitionUnavailable, 2, false, ActionTransferAgent},
		{"bad input reprompts", core.ErrInvalidTransition, 0, false, ActionReprompt},
		{"bad input at keypad node", core.ErrInvalidTransition, 0, true, ActionDegradeDTMF},
		{"transaction failure reprompts", core.ErrTransactionFailed, 1, false, ActionReprompt},
		{"transaction failure exhausted", core.ErrTransactionFailed, 2, false, ActionTransferAgent},
	}

	for _, tt := range tests {
		got := f.Decide(tt.errType, tt.retry, tt.deterministic)
		if got.Action != tt.want {
			t.Errorf("%s: action = %s, want %s", tt.name, got.Action, tt.want)
		}
		if got.Prompt == "" {
			t.Errorf("%s: decision has no caller-facing prompt", tt.name)
		}
	}
}

func TestFallbackDeterministicSameInputsSameDecision(t *testing.T) {
	f := FallbackController{MaxRetries: 2}
	a := f.Decide(core.ErrRecognitionTimeout, 1, false)
	b := f.Decide(core.ErrRecognitionTimeout, 1, false)
	if a != b {
		t.Fatalf("controller is not deterministic: %+v vs %+v", a, b)
	}
}
