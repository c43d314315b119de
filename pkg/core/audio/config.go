// Package audio implements the per-call audio plane: PCM framing and
// buffering, in-band DTMF detection, and the bidirectional stream
// multiplexer that feeds recognition and plays prompts back to the caller.
package audio

// Config specifies audio format parameters for a call leg.
type Config struct {
	// SampleRate in Hz. Telephony legs are typically 8000 or 16000.
	SampleRate int `json:"sample_rate"`

	// Channels: 1 for mono, 2 for stereo.
	Channels int `json:"channels"`

	// BitsPerSample: typically 16 for PCM.
	BitsPerSample int `json:"bits_per_sample"`
}

// DefaultConfig returns the standard telephony audio configuration:
// 8 kHz mono PCM16LE.
func DefaultConfig() Config {
	return Config{
		SampleRate:    8000,
		Channels:      1,
		BitsPerSample: 16,
	}
}

// BytesPerSecond returns the audio byte rate.
func (c Config) BytesPerSecond() int {
	return c.SampleRate * c.Channels * (c.BitsPerSample / 8)
}

// DurationMs returns the duration in milliseconds for the given byte count.
func (c Config) DurationMs(bytes int) int {
	if c.BytesPerSecond() == 0 {
		return 0
	}
	return (bytes * 1000) / c.BytesPerSecond()
}

// BytesForDurationMs returns the byte count for the given duration in milliseconds.
func (c Config) BytesForDurationMs(ms int) int {
	return (c.BytesPerSecond() * ms) / 1000
}
