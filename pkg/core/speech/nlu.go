package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/voxbridge/voxbridge/pkg/core"
)

// HTTPClassifier sends final transcripts to an external NLU service. The
// service is a black box: one POST in, one intent out. Transport and
// server failures surface as recognition_unavailable.
type HTTPClassifier struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClassifier creates a classifier for baseURL/v1/interpret.
func NewHTTPClassifier(baseURL, apiKey string, timeout time.Duration) *HTTPClassifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPClassifier{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClassifier) Name() string { return "http-nlu" }

type interpretRequest struct {
	Text string `json:"text"`
}

type interpretResponse struct {
	Intent     string            `json:"intent"`
	Confidence float64           `json:"confidence"`
	Entities   map[string]string `json:"entities,omitempty"`
}

func (c *HTTPClassifier) Classify(ctx context.Context, text string) (Intent, error) {
	body, err := json.Marshal(interpretRequest{Text: text})
	if err != nil {
		return Intent{}, core.NewRecognitionUnavailable("encoding nlu request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/interpret", bytes.NewReader(body))
	if err != nil {
		return Intent{}, core.NewRecognitionUnavailable("building nlu request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Intent{}, core.NewRecognitionUnavailable("nlu request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Intent{}, core.NewRecognitionUnavailable(
			fmt.Sprintf("nlu service returned %d", resp.StatusCode), nil)
	}

	var ir interpretResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&ir); err != nil {
		return Intent{}, core.NewRecognitionUnavailable("decoding nlu response", err)
	}
	if ir.Intent == "" {
		ir.Intent = IntentUnknown
	}
	return Intent{Name: ir.Intent, Confidence: ir.Confidence, Slots: ir.Entities}, nil
}
