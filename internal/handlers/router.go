package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/your-org/recordhub/internal/middleware"
)

// APIPrefix is where collection routes live.
const APIPrefix = "/api/v1"

// Mounter registers routes on a router; every RecordHandler is one.
type Mounter interface {
	Mount(r chi.Router)
}

// RouterConfig collects what NewRouter wires together.
type RouterConfig struct {
	Logger         *zap.Logger
	RequestTimeout time.Duration
	Limiter        *middleware.InFlightLimiter
	Health         *HealthHandler
	Events         *EventsHandler // nil when the audit log is off
	Collections    []Mounter
}

// NewRouter builds the HTTP router.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Health check без middleware: должен отвечать даже под нагрузкой
	if cfg.Health != nil {
		r.Get("/health", cfg.Health.Check)
	}

	r.Route(APIPrefix, func(r chi.Router) {
		r.Use(middleware.LoggingMiddleware(logger))
		r.Use(middleware.RecoveryMiddleware(logger))
		if cfg.Limiter != nil {
			r.Use(middleware.ConcurrencyLimitMiddleware(cfg.Limiter, logger))
		}
		if cfg.RequestTimeout > 0 {
			r.Use(middleware.TimeoutMiddleware(cfg.RequestTimeout))
		}

		if cfg.Events != nil {
			r.Get("/events", cfg.Events.List) // GET /api/v1/events
		}
		for _, c := range cfg.Collections {
			c.Mount(r)
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, r, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}
