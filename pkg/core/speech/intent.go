package speech

import (
	"context"
	"regexp"
	"strings"
)

// Well-known intent names produced by the bundled classifier and expected
// by the default flow mapping.
const (
	IntentBooking      = "booking_enquiry"
	IntentFlightStatus = "flight_status"
	IntentAgent        = "agent_transfer"
	IntentGreeting     = "greeting"
	IntentEndCall      = "end_call"
	IntentUnknown      = "unknown"
)

// SlotPNR is the slot key carrying a spoken record locator.
const SlotPNR = "pnr"

var digitRunPattern = regexp.MustCompile(`\d+`)

// RuleClassifier is a keyword-pattern intent classifier. It needs no
// network and always answers, surfacing uncertainty as the unknown
// intent at low confidence rather than as an error.
type RuleClassifier struct{}

// NewRuleClassifier creates the keyword classifier.
func NewRuleClassifier() *RuleClassifier { return &RuleClassifier{} }

func (c *RuleClassifier) Name() string { return "rules" }

func (c *RuleClassifier) Classify(_ context.Context, text string) (Intent, error) {
	t := strings.ToLower(strings.TrimSpace(text))

	if containsAny(t, "book", "booking", "reserve", "ticket") {
		return Intent{Name: IntentBooking, Confidence: 0.9}, nil
	}
	if containsAny(t, "pnr", "status", "flight status", "where is my flight", "flight") {
		intent := Intent{Name: IntentFlightStatus, Confidence: 0.85}
		if pnr := extractPNR(t); pnr != "" {
			intent.Slots = map[string]string{SlotPNR: pnr}
		}
		return intent, nil
	}
	if containsAny(t, "agent", "human", "representative", "operator") {
		return Intent{Name: IntentAgent, Confidence: 0.95}, nil
	}
	if containsAny(t, "hi", "hello", "hey", "good morning", "good evening") {
		return Intent{Name: IntentGreeting, Confidence: 0.8}, nil
	}
	if containsAny(t, "bye", "goodbye", "thanks", "thank you") {
		return Intent{Name: IntentEndCall, Confidence: 0.95}, nil
	}
	return Intent{Name: IntentUnknown, Confidence: 0.4}, nil
}

func containsAny(t string, patterns ...string) bool {
	for _, p := range patterns {
		if strings.Contains(t, p) {
			return true
		}
	}
	return false
}

// extractPNR pulls the first six-digit run out of the transcript.
func extractPNR(t string) string {
	for _, run := range digitRunPattern.FindAllString(t, -1) {
		if len(run) == 6 {
			return run
		}
	}
	return ""
}
