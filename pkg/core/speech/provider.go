// Package speech adapts conversational providers (streaming STT, intent
// classification, TTS) into the forms the orchestrator consumes.
package speech

import "context"

// TranscriptDelta is one incremental recognition result. Partial deltas
// replace each other; IsFinal marks the utterance boundary.
type TranscriptDelta struct {
	Text       string
	IsFinal    bool
	Confidence float64
}

// RecognizeOptions configures a streaming recognition session.
type RecognizeOptions struct {
	Language   string // default "en"
	Model      string
	SampleRate int // default 8000 (telephony)
}

// Recognizer opens streaming speech-to-text sessions. One session covers
// one caller utterance or more; the caller feeds PCM16LE audio and reads
// deltas until a final result.
type Recognizer interface {
	Name() string
	NewStream(ctx context.Context, opts RecognizeOptions) (*RecognitionStream, error)
}

// Intent is the classifier's reading of a final transcript.
type Intent struct {
	Name       string
	Confidence float64
	Slots      map[string]string
}

// Classifier maps a final transcript to an intent. A transport failure is
// an error; low confidence is not — it comes back as an Intent the
// orchestrator's threshold rejects.
type Classifier interface {
	Name() string
	Classify(ctx context.Context, text string) (Intent, error)
}

// SynthesizeOptions configures prompt synthesis.
type SynthesizeOptions struct {
	Voice      string
	Language   string
	SampleRate int // default 8000
}

// Synthesizer renders prompt text to PCM16LE audio.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, text string, opts SynthesizeOptions) ([]byte, error)
}
