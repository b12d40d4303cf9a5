package model

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/recordhub/internal/domain"
)

// MockBackend is a mock implementation of domain.Backend
type MockBackend[T any] struct {
	mock.Mock
}

var _ domain.Backend[domain.Category] = (*MockBackend[domain.Category])(nil)

func (m *MockBackend[T]) FindOne(ctx context.Context, id string) (T, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(T), args.Error(1)
}

func (m *MockBackend[T]) FindAll(ctx context.Context) ([]T, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]T), args.Error(1)
}

func (m *MockBackend[T]) Save(ctx context.Context, record T) (T, error) {
	args := m.Called(ctx, record)
	return args.Get(0).(T), args.Error(1)
}

func (m *MockBackend[T]) FindByIDAndReplace(ctx context.Context, id string, record T) (T, error) {
	args := m.Called(ctx, id, record)
	return args.Get(0).(T), args.Error(1)
}

func (m *MockBackend[T]) FindByIDAndDelete(ctx context.Context, id string) (T, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(T), args.Error(1)
}

// recordingHub keeps every emitted event
type recordingHub struct {
	mu     sync.Mutex
	events []domain.Event
}

func (h *recordingHub) Emit(_ context.Context, e domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, e)
}

func (h *recordingHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func newCategoryModel(t *testing.T, opts ...Option) (*Model[domain.Category], *MockBackend[domain.Category], *recordingHub) {
	t.Helper()
	backend := new(MockBackend[domain.Category])
	hub := &recordingHub{}
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	return New[domain.Category]("categories", backend, hub, opts...), backend, hub
}

func TestModelGetReturnsRecordUnwrapped(t *testing.T) {
	m, backend, hub := newCategoryModel(t)
	ctx := context.Background()
	stored := domain.Category{ID: "c1", Name: "tools"}

	backend.On("FindOne", ctx, "c1").Return(stored, nil).Once()

	got, err := m.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, stored, got)

	require.Len(t, hub.events, 1)
	assert.Equal(t, domain.EventRead, hub.events[0].Kind)
	assert.Equal(t, "categories", hub.events[0].Collection)
	assert.Equal(t, stored, hub.events[0].Payload)
	backend.AssertExpectations(t)
}

func TestModelGetPassesBackendErrorThrough(t *testing.T) {
	m, backend, hub := newCategoryModel(t)
	ctx := context.Background()
	notFound := fmt.Errorf("lookup c9: %w", domain.ErrNotFound)

	backend.On("FindOne", ctx, "c9").Return(domain.Category{}, notFound).Once()

	_, err := m.Get(ctx, "c9")
	assert.Same(t, notFound, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Zero(t, hub.count(), "failed reads emit nothing")
}

func TestModelListWrapsInEnvelope(t *testing.T) {
	m, backend, hub := newCategoryModel(t)
	ctx := context.Background()
	records := []domain.Category{{ID: "a", Name: "a"}, {ID: "b", Name: "b"}}

	backend.On("FindAll", ctx).Return(records, nil).Once()

	env, err := m.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, env.Count)
	assert.Equal(t, records, env.Results)

	require.Len(t, hub.events, 1)
	assert.Equal(t, domain.EventRead, hub.events[0].Kind)
	assert.Equal(t, env, hub.events[0].Payload)
}

func TestModelListEmptyCollection(t *testing.T) {
	m, backend, _ := newCategoryModel(t)
	ctx := context.Background()

	backend.On("FindAll", ctx).Return(nil, nil).Once()

	env, err := m.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, env.Count)
	assert.NotNil(t, env.Results)
	assert.Empty(t, env.Results)
}

func TestModelFetchDispatchesOnID(t *testing.T) {
	m, backend, _ := newCategoryModel(t)
	ctx := context.Background()
	one := domain.Category{ID: "a"}

	backend.On("FindOne", ctx, "a").Return(one, nil).Once()
	backend.On("FindAll", ctx).Return([]domain.Category{one}, nil).Once()

	got, err := m.Fetch(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, one, got)

	got, err = m.Fetch(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, domain.NewEnvelope([]domain.Category{one}), got)
	backend.AssertExpectations(t)
}

func TestModelCreateEmitsPersistedRecord(t *testing.T) {
	m, backend, hub := newCategoryModel(t)
	ctx := context.Background()
	input := domain.Category{Name: "garden"}
	saved := domain.Category{ID: "generated", Name: "garden"}

	backend.On("Save", ctx, input).Return(saved, nil).Once()

	got, err := m.Create(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, saved, got)

	require.Len(t, hub.events, 1)
	assert.Equal(t, domain.EventCreate, hub.events[0].Kind)
	assert.Equal(t, saved, hub.events[0].Payload)
}

func TestModelCreateFailureEmitsNothing(t *testing.T) {
	m, backend, hub := newCategoryModel(t)
	ctx := context.Background()
	boom := errors.New("duplicate key")

	backend.On("Save", ctx, mock.Anything).Return(domain.Category{}, boom).Once()

	_, err := m.Create(ctx, domain.Category{Name: "x"})
	assert.Same(t, boom, err)
	assert.Zero(t, hub.count())
}

func TestModelReplaceEmitsInputPayload(t *testing.T) {
	m, backend, hub := newCategoryModel(t)
	ctx := context.Background()
	input := domain.Category{Name: "renamed"}
	updated := domain.Category{ID: "c1", Name: "renamed"}

	backend.On("FindByIDAndReplace", ctx, "c1", input).Return(updated, nil).Once()

	got, err := m.Replace(ctx, "c1", input)
	require.NoError(t, err)
	assert.Equal(t, updated, got)

	require.Len(t, hub.events, 1)
	assert.Equal(t, domain.EventUpdate, hub.events[0].Kind)
	assert.Equal(t, input, hub.events[0].Payload)
}

func TestModelReplaceMissingReturnsBackendResult(t *testing.T) {
	m, backend, hub := newCategoryModel(t)
	ctx := context.Background()

	backend.On("FindByIDAndReplace", ctx, "nope", mock.Anything).Return(domain.Category{}, domain.ErrNotFound).Once()

	_, err := m.Replace(ctx, "nope", domain.Category{Name: "x"})
	assert.Same(t, domain.ErrNotFound, err)
	assert.Zero(t, hub.count())
}

func TestModelDeleteEmitsIdentifier(t *testing.T) {
	m, backend, hub := newCategoryModel(t)
	ctx := context.Background()
	deleted := domain.Category{ID: "c1", Name: "gone"}

	backend.On("FindByIDAndDelete", ctx, "c1").Return(deleted, nil).Once()

	got, err := m.Delete(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, deleted, got)

	require.Len(t, hub.events, 1)
	assert.Equal(t, domain.EventDelete, hub.events[0].Kind)
	assert.Equal(t, "c1", hub.events[0].Payload)
}

func TestModelLegacyOrderingEmitsBeforeBackend(t *testing.T) {
	m, backend, hub := newCategoryModel(t, WithLegacyOrdering())
	ctx := context.Background()
	input := domain.Category{Name: "early"}

	backend.On("Save", ctx, input).
		Run(func(mock.Arguments) {
			assert.Equal(t, 1, hub.count(), "create event precedes the save")
		}).
		Return(domain.Category{}, errors.New("write failed")).Once()
	backend.On("FindByIDAndReplace", ctx, "c1", input).
		Run(func(mock.Arguments) {
			assert.Equal(t, 2, hub.count())
		}).
		Return(domain.Category{}, domain.ErrNotFound).Once()
	backend.On("FindByIDAndDelete", ctx, "c1").
		Run(func(mock.Arguments) {
			assert.Equal(t, 3, hub.count())
		}).
		Return(domain.Category{}, domain.ErrNotFound).Once()

	_, err := m.Create(ctx, input)
	assert.Error(t, err)
	_, err = m.Replace(ctx, "c1", input)
	assert.Error(t, err)
	_, err = m.Delete(ctx, "c1")
	assert.Error(t, err)

	require.Len(t, hub.events, 3)
	assert.Equal(t, input, hub.events[0].Payload, "legacy create carries the unsaved payload")
	assert.Equal(t, input, hub.events[1].Payload)
	assert.Equal(t, "c1", hub.events[2].Payload)
	backend.AssertExpectations(t)
}

func TestModelNilHub(t *testing.T) {
	backend := new(MockBackend[domain.Category])
	m := New[domain.Category]("categories", backend, nil)
	ctx := context.Background()

	backend.On("FindOne", ctx, "a").Return(domain.Category{ID: "a"}, nil).Once()

	_, err := m.Get(ctx, "a")
	assert.NoError(t, err)
	assert.Equal(t, "categories", m.Collection())
}
