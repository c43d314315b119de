package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/voxbridge/voxbridge/pkg/core/session"
	"github.com/voxbridge/voxbridge/pkg/gateway/audit"
)

// HistoryHandler serves recent call records from the audit sink.
type HistoryHandler struct {
	Audit  audit.Sink
	Limit  int
	Logger *slog.Logger
}

func (h HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := h.Limit
	if limit <= 0 {
		limit = 100
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		if n < limit {
			limit = n
		}
	}

	records, err := h.Audit.Recent(r.Context(), limit)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("audit query failed", "error", err)
		}
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []session.Summary{}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(struct {
		Sessions []session.Summary `json:"sessions"`
	}{Sessions: records})
}
