package speech

import (
	"context"
	"testing"
	"time"

	"github.com/voxbridge/voxbridge/pkg/core"
)

func TestAwaitFinalReturnsFinalDelta(t *testing.T) {
	stream := NewRecognitionStream()
	go func() {
		stream.PushDelta(TranscriptDelta{Text: "check my", IsFinal: false})
		stream.PushDelta(TranscriptDelta{Text: "check my flight", IsFinal: true, Confidence: 0.91})
	}()

	got, err := AwaitFinal(context.Background(), stream, time.Second)
	if err != nil {
		t.Fatalf("AwaitFinal: %v", err)
	}
	if got.Text != "check my flight" || !got.IsFinal {
		t.Fatalf("final = %+v", got)
	}
}

func TestAwaitFinalPartialsResetSilenceTimer(t *testing.T) {
	stream := NewRecognitionStream()
	go func() {
		// Each partial lands inside the window but the total exceeds it.
		for i := 0; i < 4; i++ {
			time.Sleep(30 * time.Millisecond)
			stream.PushDelta(TranscriptDelta{Text: "still talking", IsFinal: false})
		}
		stream.PushDelta(TranscriptDelta{Text: "done now", IsFinal: true})
	}()

	got, err := AwaitFinal(context.Background(), stream, 80*time.Millisecond)
	if err != nil {
		t.Fatalf("AwaitFinal: %v", err)
	}
	if got.Text != "done now" {
		t.Fatalf("final text = %q", got.Text)
	}
}

func TestAwaitFinalSilenceTimeout(t *testing.T) {
	stream := NewRecognitionStream()

	_, err := AwaitFinal(context.Background(), stream, 40*time.Millisecond)
	if !core.IsType(err, core.ErrRecognitionTimeout) {
		t.Fatalf("error = %v, want recognition_timeout", err)
	}
}

func TestAwaitFinalStreamEndedWithoutFinal(t *testing.T) {
	stream := NewRecognitionStream()
	stream.PushDelta(TranscriptDelta{Text: "partial", IsFinal: false})
	stream.FinishDeltas()

	_, err := AwaitFinal(context.Background(), stream, time.Second)
	if !core.IsType(err, core.ErrRecognitionUnavailable) {
		t.Fatalf("error = %v, want recognition_unavailable", err)
	}
}

func TestAwaitFinalSurfacesStreamError(t *testing.T) {
	stream := NewRecognitionStream()
	stream.SetErr(core.NewRecognitionUnavailable("stt service error: overloaded", nil))
	stream.FinishDeltas()

	_, err := AwaitFinal(context.Background(), stream, time.Second)
	if !core.IsType(err, core.ErrRecognitionUnavailable) {
		t.Fatalf("error = %v, want recognition_unavailable", err)
	}
}

func TestAwaitFinalContextCancelled(t *testing.T) {
	stream := NewRecognitionStream()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := AwaitFinal(ctx, stream, time.Second)
	if !core.IsType(err, core.ErrCallTerminated) {
		t.Fatalf("error = %v, want call_terminated", err)
	}
}

func TestToneSynthesizerLength(t *testing.T) {
	s := &ToneSynthesizer{MsPerChar: 50}
	audio, err := s.Synthesize(context.Background(), "hello there", SynthesizeOptions{SampleRate: 8000})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	// 11 chars * 50ms = 550ms at 8kHz 16-bit mono.
	want := 8000 * 550 / 1000 * 2
	if len(audio) != want {
		t.Fatalf("audio length = %d, want %d", len(audio), want)
	}
}
