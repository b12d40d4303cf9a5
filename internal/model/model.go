// Package model provides Model, a generic record accessor for one
// collection. A Model forwards every call to its backend and publishes a
// lifecycle event describing it; it keeps no records between calls.
package model

import (
	"context"

	"go.uber.org/zap"

	"github.com/your-org/recordhub/internal/domain"
)

// Model is the record accessor of one collection. It is immutable after
// New and safe for concurrent use as far as its backend is.
type Model[T any] struct {
	collection string
	backend    domain.Backend[T]
	hub        domain.EventPublisher
	logger     *zap.Logger
	legacy     bool
}

type options struct {
	logger *zap.Logger
	legacy bool
}

// Option configures a Model.
type Option func(*options)

// WithLogger sets the logger backend failures are reported to.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLegacyOrdering emits create, update and delete events before the
// backend call and whether or not it succeeds. Create then carries the
// unsaved payload.
func WithLegacyOrdering() Option {
	return func(o *options) {
		o.legacy = true
	}
}

// New returns the accessor for collection. A nil hub drops all events.
func New[T any](collection string, backend domain.Backend[T], hub domain.EventPublisher, opts ...Option) *Model[T] {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if hub == nil {
		hub = domain.NopPublisher{}
	}

	return &Model[T]{
		collection: collection,
		backend:    backend,
		hub:        hub,
		logger:     o.logger.With(zap.String("collection", collection)),
		legacy:     o.legacy,
	}
}

// Collection returns the collection name the Model was built for.
func (m *Model[T]) Collection() string {
	return m.collection
}

// Fetch returns the record with the given id, or every record wrapped in
// an Envelope when id is empty.
func (m *Model[T]) Fetch(ctx context.Context, id string) (any, error) {
	if id != "" {
		return m.Get(ctx, id)
	}
	return m.List(ctx)
}

// Get returns one record, unwrapped.
func (m *Model[T]) Get(ctx context.Context, id string) (T, error) {
	record, err := m.backend.FindOne(ctx, id)
	if err != nil {
		m.failed("get", id, err)
		return record, err
	}

	m.emit(ctx, domain.EventRead, record)
	return record, nil
}

// List returns every record of the collection.
func (m *Model[T]) List(ctx context.Context) (domain.Envelope[T], error) {
	results, err := m.backend.FindAll(ctx)
	if err != nil {
		m.failed("list", "", err)
		return domain.Envelope[T]{}, err
	}

	payload := domain.NewEnvelope(results)
	m.emit(ctx, domain.EventRead, payload)
	return payload, nil
}

// Create persists a new record and returns it as stored.
func (m *Model[T]) Create(ctx context.Context, record T) (T, error) {
	if m.legacy {
		m.emit(ctx, domain.EventCreate, record)
	}

	saved, err := m.backend.Save(ctx, record)
	if err != nil {
		m.failed("create", "", err)
		return saved, err
	}

	if !m.legacy {
		m.emit(ctx, domain.EventCreate, saved)
	}
	return saved, nil
}

// Replace overwrites the record with the given id and returns its new state.
// The update event carries record as given, not the stored result.
func (m *Model[T]) Replace(ctx context.Context, id string, record T) (T, error) {
	if m.legacy {
		m.emit(ctx, domain.EventUpdate, record)
	}

	updated, err := m.backend.FindByIDAndReplace(ctx, id, record)
	if err != nil {
		m.failed("replace", id, err)
		return updated, err
	}

	if !m.legacy {
		m.emit(ctx, domain.EventUpdate, record)
	}
	return updated, nil
}

// Delete removes the record with the given id and returns it. The delete
// event carries the id.
func (m *Model[T]) Delete(ctx context.Context, id string) (T, error) {
	if m.legacy {
		m.emit(ctx, domain.EventDelete, id)
	}

	deleted, err := m.backend.FindByIDAndDelete(ctx, id)
	if err != nil {
		m.failed("delete", id, err)
		return deleted, err
	}

	if !m.legacy {
		m.emit(ctx, domain.EventDelete, id)
	}
	return deleted, nil
}

func (m *Model[T]) emit(ctx context.Context, kind domain.EventKind, payload any) {
	m.hub.Emit(ctx, domain.Event{
		Kind:       kind,
		Collection: m.collection,
		Payload:    payload,
	})
}

func (m *Model[T]) failed(op, id string, err error) {
	m.logger.Debug("backend call failed",
		zap.String("op", op),
		zap.String("id", id),
		zap.Error(err),
	)
}
