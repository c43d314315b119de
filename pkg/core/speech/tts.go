package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPSynthesizer renders prompt text through a TTS service returning raw
// PCM16LE. Prompts are short, so one request per prompt is fine; the
// multiplexer chunks the result for playback.
type HTTPSynthesizer struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPSynthesizer creates a synthesizer for baseURL/v1/synthesize.
func NewHTTPSynthesizer(baseURL, apiKey string, timeout time.Duration) *HTTPSynthesizer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSynthesizer{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSynthesizer) Name() string { return "http-tts" }

type synthesizeRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice,omitempty"`
	Language   string `json:"language,omitempty"`
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate"`
}

func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) ([]byte, error) {
	sampleRate := opts.SampleRate
	if sampleRate == 0 {
		sampleRate = 8000
	}
	body, err := json.Marshal(synthesizeRequest{
		Text:       text,
		Voice:      opts.Voice,
		Language:   opts.Language,
		Format:     "pcm_s16le",
		SampleRate: sampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/synthesize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("tts service returned %d: %s", resp.StatusCode, snippet)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading tts audio: %w", err)
	}
	return audio, nil
}

// ToneSynthesizer is an offline synthesizer producing a fixed-length tone
// per prompt. Used by the demo daemon and tests when no TTS service is
// configured; the audio is wrong but every length, timing and barge-in
// behavior is real.
type ToneSynthesizer struct {
	MsPerChar int // playback length budget, default 60ms per character
}

func (s *ToneSynthesizer) Name() string { return "tone" }

func (s *ToneSynthesizer) Synthesize(_ context.Context, text string, opts SynthesizeOptions) ([]byte, error) {
	sampleRate := opts.SampleRate
	if sampleRate == 0 {
		sampleRate = 8000
	}
	msPerChar := s.MsPerChar
	if msPerChar <= 0 {
		msPerChar = 60
	}
	durationMs := msPerChar * len(text)
	if durationMs < 200 {
		durationMs = 200
	}
	samples := sampleRate * durationMs / 1000

	// 440Hz square-ish wave at low amplitude, PCM16LE.
	out := make([]byte, samples*2)
	period := sampleRate / 440
	if period < 2 {
		period = 2
	}
	for i := 0; i < samples; i++ {
		var v int16 = 3000
		if (i/(period/2))%2 == 1 {
			v = -3000
		}
		out[2*i] = byte(uint16(v))
		out[2*i+1] = byte(uint16(v) >> 8)
	}
	return out, nil
}
