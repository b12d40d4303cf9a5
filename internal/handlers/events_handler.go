package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/your-org/recordhub/internal/audit"
	"github.com/your-org/recordhub/internal/middleware"
)

const maxEventsLimit = 1000

// EventLog lists recorded events; audit.Recorder implements it.
type EventLog interface {
	List(ctx context.Context, collection string, limit int) ([]audit.Entry, error)
}

var _ EventLog = (*audit.Recorder)(nil)

// EventsHandler serves the audit log.
type EventsHandler struct {
	log    EventLog
	logger *zap.Logger
}

// NewEventsHandler creates the audit log handler.
func NewEventsHandler(log EventLog, logger *zap.Logger) *EventsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventsHandler{log: log, logger: logger}
}

// List handles GET /events?collection=&limit=
func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := 0
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			middleware.WriteError(w, r, http.StatusBadRequest, "invalid limit parameter: must be a positive integer")
			return
		}
		limit = min(n, maxEventsLimit)
	}

	entries, err := h.log.List(r.Context(), query.Get("collection"), limit)
	if err != nil {
		h.logger.Error("failed to list events",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err),
		)
		middleware.WriteError(w, r, http.StatusInternalServerError, "failed to list events")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"count":   len(entries),
		"results": entries,
	})
}
