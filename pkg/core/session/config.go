package session

import "time"

// Config holds the per-session tunables. Zero values are filled in by
// withDefaults so a partially populated Config is safe.
type Config struct {
	// SilenceTimeout bounds caller inactivity while Listening.
	SilenceTimeout time.Duration

	// InterDigitTimeout bounds the gap between DTMF digits of one entry.
	InterDigitTimeout time.Duration

	// MinIntentConfidence rejects classifier results below this score at
	// nodes that accept speech.
	MinIntentConfidence float64

	// MaxFallbackRetries is how many consecutive recoverable failures are
	// re-prompted before transferring to an agent.
	MaxFallbackRetries int

	// TransactionDeadline bounds one backend transaction end to end.
	TransactionDeadline time.Duration

	// SampleRate of caller and prompt audio in Hz.
	SampleRate int

	// Language passed to recognition and synthesis.
	Language string

	// Voice passed to synthesis.
	Voice string
}

// DefaultConfig returns the standard tunables.
func DefaultConfig() Config {
	return Config{
		SilenceTimeout:      6 * time.Second,
		InterDigitTimeout:   3 * time.Second,
		MinIntentConfidence: 0.55,
		MaxFallbackRetries:  2,
		TransactionDeadline: 10 * time.Second,
		SampleRate:          8000,
		Language:            "en",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = d.SilenceTimeout
	}
	if c.InterDigitTimeout <= 0 {
		c.InterDigitTimeout = d.InterDigitTimeout
	}
	if c.MinIntentConfidence <= 0 {
		c.MinIntentConfidence = d.MinIntentConfidence
	}
	if c.MaxFallbackRetries <= 0 {
		c.MaxFallbackRetries = d.MaxFallbackRetries
	}
	if c.TransactionDeadline <= 0 {
		c.TransactionDeadline = d.TransactionDeadline
	}
	if c.SampleRate <= 0 {
		c.SampleRate = d.SampleRate
	}
	if c.Language == "" {
		c.Language = d.Language
	}
	return c
}
