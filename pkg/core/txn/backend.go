package txn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPExecutor submits operations to a transactional backend over HTTP.
// Every request carries the descriptor's idempotency key so the backend
// can deduplicate a retry after an ambiguous timeout.
type HTTPExecutor struct {
	baseURL string
	client  *http.Client
}

// NewHTTPExecutor creates an executor posting to baseURL/v1/transactions.
func NewHTTPExecutor(baseURL string, timeout time.Duration) *HTTPExecutor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPExecutor{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type transactionRequest struct {
	Operation string            `json:"operation"`
	SessionID string            `json:"session_id"`
	StepIndex int               `json:"step_index"`
	Params    map[string]string `json:"params,omitempty"`
}

type transactionResponse struct {
	Status string            `json:"status"`
	Reason string            `json:"reason,omitempty"`
	Result map[string]string `json:"result,omitempty"`
}

// Execute posts the operation once. Transport problems and 5xx statuses
// return an error (retryable); anything the backend answered
// authoritatively becomes a final Outcome.
func (e *HTTPExecutor) Execute(ctx context.Context, d *Descriptor) (Outcome, error) {
	body, err := json.Marshal(transactionRequest{
		Operation: d.Operation,
		SessionID: d.SessionID,
		StepIndex: d.StepIndex,
		Params:    d.Params,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("encoding transaction request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/transactions", bytes.NewReader(body))
	if err != nil {
		return Outcome{}, fmt.Errorf("building transaction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", d.IdempotencyKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("transaction request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Outcome{}, fmt.Errorf("backend returned %d", resp.StatusCode)
	}

	var tr transactionResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&tr); err != nil {
		return Outcome{}, fmt.Errorf("decoding transaction response: %w", err)
	}

	if resp.StatusCode >= 400 || tr.Status != "committed" {
		reason := tr.Reason
		if reason == "" {
			reason = "backend_rejected"
		}
		return Outcome{Status: StatusFailed, Reason: reason, Result: tr.Result}, nil
	}
	return Outcome{Status: StatusCommitted, Result: tr.Result}, nil
}
