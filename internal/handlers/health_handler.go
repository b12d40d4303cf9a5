package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/recordhub/internal/domain"
	"github.com/your-org/recordhub/internal/processor"
)

// HealthHandler reports backend reachability and event delivery counters.
type HealthHandler struct {
	checkers []domain.HealthChecker
	events   func() processor.Stats
	timeout  time.Duration
	logger   *zap.Logger
}

// NewHealthHandler creates the handler. events may be nil.
func NewHealthHandler(checkers []domain.HealthChecker, events func() processor.Stats, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		checkers: checkers,
		events:   events,
		timeout:  5 * time.Second,
		logger:   logger,
	}
}

// Check handles GET /health
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := http.StatusOK
	body := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	}

	for _, checker := range h.checkers {
		if err := checker.CheckConnection(ctx); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			status = http.StatusServiceUnavailable
			body["status"] = "unavailable"
			body["error"] = err.Error()
			break
		}
	}
	if h.events != nil {
		body["events"] = h.events()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
