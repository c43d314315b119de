package session

import "github.com/voxbridge/voxbridge/pkg/core"

// FallbackAction is what the controller decided to do.
type FallbackAction string

const (
	// ActionReprompt replays the node prompt and listens again.
	ActionReprompt FallbackAction = "reprompt"

	// ActionDegradeDTMF re-prompts asking the caller to use the keypad;
	// speech is not retried for this node.
	ActionDegradeDTMF FallbackAction = "degrade_dtmf"

	// ActionTransferAgent hands the call to a human and terminates.
	ActionTransferAgent FallbackAction = "transfer_agent"
)

// Decision is the controller's output for one failure.
type Decision struct {
	Action FallbackAction
	Prompt string
}

// FallbackController turns recoverable failures into caller-facing
// recovery. It is pure: the same inputs always yield the same decision.
type FallbackController struct {
	MaxRetries int
}

// Decide maps a failure to a recovery action. retry counts consecutive
// failures at the current node, starting at 0 for the first.
func (f FallbackController) Decide(errType core.ErrorType, retry int, deterministicOnly bool) Decision {
	if retry >= f.MaxRetries {
		return Decision{
			Action: ActionTransferAgent,
			Prompt: "I'm having trouble helping you. Transferring you to an agent now.",
		}
	}

	switch errType {
	case core.ErrRecognitionUnavailable:
		// Speech stack is down; the keypad still works.
		return Decision{
			Action: ActionDegradeDTMF,
			Prompt: "I'm unable to understand speech right now. Please use your keypad.",
		}
	case core.ErrRecognitionTimeout:
		return Decision{
			Action: ActionReprompt,
			Prompt: "I didn't hear anything. ",
		}
	case core.ErrSessionTimeout:
		// No digits, no speech at all; check the caller is still there.
		return Decision{
			Action: ActionReprompt,
			Prompt: "Are you still there? ",
		}
	case core.ErrInvalidTransition:
		if deterministicOnly {
			return Decision{
				Action: ActionDegradeDTMF,
				Prompt: "Please use your keypad for this step. ",
			}
		}
		return Decision{
			Action: ActionReprompt,
			Prompt: "Sorry, I didn't understand. Could you please repeat? ",
		}
	case core.ErrTransactionFailed:
		return Decision{
			Action: ActionReprompt,
			Prompt: "I couldn't complete that request. Let's try again. ",
		}
	default:
		return Decision{
			Action: ActionReprompt,
			Prompt: "Sorry, I didn't understand. Could you please repeat? ",
		}
	}
}
