package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/your-org/recordhub/internal/domain"
	"github.com/your-org/recordhub/internal/middleware"
	"github.com/your-org/recordhub/internal/usecases"
)

const (
	// IdempotencyKeyHeader lets a client retry POST without creating twice.
	IdempotencyKeyHeader = "Idempotency-Key"
	// ReplayedHeader marks a response served from the idempotency cache.
	ReplayedHeader = "Idempotent-Replayed"

	maxBodyBytes = 1 << 20
)

// Records is the usecase surface RecordHandler drives.
type Records[T any] interface {
	Collection() string
	Get(ctx context.Context, id string) (T, error)
	List(ctx context.Context) (domain.Envelope[T], error)
	Create(ctx context.Context, record T) (T, error)
	Replace(ctx context.Context, id string, record T) (T, error)
	Delete(ctx context.Context, id string) (T, error)
}

var _ Records[domain.Category] = (*usecases.RecordUsecase[domain.Category])(nil)

// storedResponse is what the idempotency cache keeps per key.
type storedResponse struct {
	status int
	body   []byte
}

// pendingResponse reserves a key while its create is running.
type pendingResponse struct{}

// RecordHandler serves CRUD over HTTP for one collection.
type RecordHandler[T any] struct {
	records Records[T]
	cache   domain.Cache
	logger  *zap.Logger
}

// NewRecordHandler creates a handler. cache may be nil, which disables
// idempotent replays.
func NewRecordHandler[T any](records Records[T], cache domain.Cache, logger *zap.Logger) *RecordHandler[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordHandler[T]{
		records: records,
		cache:   cache,
		logger:  logger.With(zap.String("collection", records.Collection())),
	}
}

// Mount registers the collection routes under /<collection>.
func (h *RecordHandler[T]) Mount(r chi.Router) {
	r.Route("/"+h.records.Collection(), func(r chi.Router) {
		r.Get("/", h.List)          // GET /<collection>
		r.Post("/", h.Create)       // POST /<collection>
		r.Get("/{id}", h.Get)       // GET /<collection>/{id}
		r.Put("/{id}", h.Replace)   // PUT /<collection>/{id}
		r.Delete("/{id}", h.Delete) // DELETE /<collection>/{id}
	})
}

// List handles GET /<collection>
func (h *RecordHandler[T]) List(w http.ResponseWriter, r *http.Request) {
	env, err := h.records.List(r.Context())
	if err != nil {
		h.fail(w, r, "list", "", err)
		return
	}
	h.respondJSON(w, r, http.StatusOK, env)
}

// Get handles GET /<collection>/{id}
func (h *RecordHandler[T]) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	record, err := h.records.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get", id, err)
		return
	}
	h.respondJSON(w, r, http.StatusOK, record)
}

// Create handles POST /<collection>. With an Idempotency-Key the key is
// reserved before the record is created, so concurrent retries cannot both
// create; the first response is kept and replayed.
func (h *RecordHandler[T]) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := r.Header.Get(IdempotencyKeyHeader)
	idempotent := key != "" && h.cache != nil
	cacheKey := "idempotency:" + h.records.Collection() + ":" + key

	if idempotent && h.replay(w, r, cacheKey, key) {
		return
	}

	record, ok := h.decode(w, r)
	if !ok {
		return
	}

	if idempotent {
		reserved, err := h.cache.Add(ctx, cacheKey, pendingResponse{})
		if err != nil {
			h.fail(w, r, "create", "", err)
			return
		}
		if !reserved {
			// another request took the key between the lookup and here
			if !h.replay(w, r, cacheKey, key) {
				middleware.WriteError(w, r, http.StatusConflict, "request with this idempotency key is in progress")
			}
			return
		}
	}

	saved, err := h.records.Create(ctx, record)
	if err == nil {
		var body []byte
		if body, err = json.Marshal(saved); err == nil {
			if idempotent {
				h.keep(ctx, cacheKey, key, storedResponse{status: http.StatusCreated, body: body})
			}
			h.writeRaw(w, http.StatusCreated, body)
			return
		}
	}

	// a failed create frees the key for the next retry
	if idempotent {
		if derr := h.cache.Delete(context.WithoutCancel(ctx), cacheKey); derr != nil {
			h.logger.Warn("failed to release idempotency key",
				zap.String("request_id", middleware.GetRequestID(ctx)),
				zap.String("idempotency_key", key),
				zap.Error(derr),
			)
		}
	}
	h.fail(w, r, "create", "", err)
}

// replay answers from the idempotency cache. It reports whether the key was
// known: a finished response is written back, a pending one gets 409.
func (h *RecordHandler[T]) replay(w http.ResponseWriter, r *http.Request, cacheKey, key string) bool {
	cached, ok := h.cache.Get(r.Context(), cacheKey)
	if !ok {
		return false
	}

	switch resp := cached.(type) {
	case storedResponse:
		h.logger.Debug("replaying idempotent response",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.String("idempotency_key", key),
		)
		w.Header().Set(ReplayedHeader, "true")
		h.writeRaw(w, resp.status, resp.body)
	default:
		middleware.WriteError(w, r, http.StatusConflict, "request with this idempotency key is in progress")
	}
	return true
}

func (h *RecordHandler[T]) keep(ctx context.Context, cacheKey, key string, resp storedResponse) {
	// the record exists already; the reply must be kept even if the client left
	if err := h.cache.Set(context.WithoutCancel(ctx), cacheKey, resp); err != nil {
		h.logger.Warn("failed to keep idempotent response",
			zap.String("request_id", middleware.GetRequestID(ctx)),
			zap.String("idempotency_key", key),
			zap.Error(err),
		)
	}
}

// Replace handles PUT /<collection>/{id}
func (h *RecordHandler[T]) Replace(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	record, ok := h.decode(w, r)
	if !ok {
		return
	}

	updated, err := h.records.Replace(r.Context(), id, record)
	if err != nil {
		h.fail(w, r, "replace", id, err)
		return
	}
	h.respondJSON(w, r, http.StatusOK, updated)
}

// Delete handles DELETE /<collection>/{id}
func (h *RecordHandler[T]) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	deleted, err := h.records.Delete(r.Context(), id)
	if err != nil {
		h.fail(w, r, "delete", id, err)
		return
	}
	h.respondJSON(w, r, http.StatusOK, deleted)
}

func (h *RecordHandler[T]) decode(w http.ResponseWriter, r *http.Request) (T, bool) {
	var record T
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&record); err != nil {
		h.logger.Warn("failed to decode request body",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err),
		)
		middleware.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return record, false
	}
	return record, true
}

// fail maps an error onto a status code and writes the error body.
func (h *RecordHandler[T]) fail(w http.ResponseWriter, r *http.Request, op, id string, err error) {
	status, message := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.String("op", op),
			zap.String("id", id),
			zap.Error(err),
		)
	}
	middleware.WriteError(w, r, status, message)
}

// StatusFor classifies errors coming out of the usecase layer.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "record not found"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "record already exists"
	case errors.Is(err, usecases.ErrOverloaded):
		return http.StatusServiceUnavailable, "server is busy"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timeout"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func (h *RecordHandler[T]) respondJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		h.fail(w, r, "encode", "", err)
		return
	}
	h.writeRaw(w, status, buf.Bytes())
}

func (h *RecordHandler[T]) writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		h.logger.Debug("failed to write response", zap.Error(err))
	}
}
