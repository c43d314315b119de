// Package handlers holds the plain HTTP endpoints of the gateway; the
// websocket call leg lives in the live package.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/voxbridge/voxbridge/pkg/core/session"
	"github.com/voxbridge/voxbridge/pkg/gateway/config"
	"github.com/voxbridge/voxbridge/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyHandler reports whether this instance should receive new calls.
// During drain it returns 503 so the balancer routes elsewhere while
// established calls finish.
type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
	Registry  *session.Registry
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK           bool     `json:"ok"`
		Draining     bool     `json:"draining"`
		LiveSessions int      `json:"live_sessions"`
		Issues       []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	if h.Config.SilenceTimeout <= 0 {
		issues = append(issues, "silence_timeout must be > 0")
	}
	if h.Config.InterDigitTimeout <= 0 {
		issues = append(issues, "inter_digit_timeout must be > 0")
	}
	if h.Config.MinIntentConfidence <= 0 || h.Config.MinIntentConfidence > 1 {
		issues = append(issues, "min_intent_confidence must be in (0, 1]")
	}
	if h.Config.TransactionDeadline <= 0 {
		issues = append(issues, "transaction_deadline must be > 0")
	}
	if h.Config.MaxAudioFrameBytes <= 0 {
		issues = append(issues, "max_audio_frame_bytes must be > 0")
	}
	if h.Config.SampleRate <= 0 {
		issues = append(issues, "sample_rate must be > 0")
	}

	draining := h.Lifecycle.IsDraining()
	resp := readyResp{
		OK:           len(issues) == 0 && !draining,
		Draining:     draining,
		LiveSessions: h.Registry.Count(),
		Issues:       issues,
	}

	status := http.StatusOK
	switch {
	case draining:
		status = http.StatusServiceUnavailable
	case len(issues) > 0:
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
