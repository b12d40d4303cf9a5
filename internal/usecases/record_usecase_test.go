package usecases

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/recordhub/internal/domain"
)

// MockAccessor is a mock implementation of Accessor
type MockAccessor[T any] struct {
	mock.Mock
}

var _ Accessor[domain.Product] = (*MockAccessor[domain.Product])(nil)

func (m *MockAccessor[T]) Collection() string {
	return "products"
}

func (m *MockAccessor[T]) Get(ctx context.Context, id string) (T, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(T), args.Error(1)
}

func (m *MockAccessor[T]) List(ctx context.Context) (domain.Envelope[T], error) {
	args := m.Called(ctx)
	return args.Get(0).(domain.Envelope[T]), args.Error(1)
}

func (m *MockAccessor[T]) Create(ctx context.Context, record T) (T, error) {
	args := m.Called(ctx, record)
	return args.Get(0).(T), args.Error(1)
}

func (m *MockAccessor[T]) Replace(ctx context.Context, id string, record T) (T, error) {
	args := m.Called(ctx, id, record)
	return args.Get(0).(T), args.Error(1)
}

func (m *MockAccessor[T]) Delete(ctx context.Context, id string) (T, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(T), args.Error(1)
}

func TestRecordUsecaseForwardsCalls(t *testing.T) {
	records := new(MockAccessor[domain.Product])
	limiter := NewRateLimiter(2)
	u := NewRecordUsecase[domain.Product](records, limiter, zaptest.NewLogger(t))
	ctx := context.Background()

	p := domain.Product{ID: "p1", Name: "hammer"}
	env := domain.NewEnvelope([]domain.Product{p})

	records.On("Get", ctx, "p1").Return(p, nil).Once()
	records.On("List", ctx).Return(env, nil).Once()
	records.On("Create", ctx, domain.Product{Name: "hammer"}).Return(p, nil).Once()
	records.On("Replace", ctx, "p1", domain.Product{Name: "saw"}).Return(domain.Product{ID: "p1", Name: "saw"}, nil).Once()
	records.On("Delete", ctx, "p1").Return(p, nil).Once()

	got, err := u.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, p, got)

	list, err := u.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, env, list)

	created, err := u.Create(ctx, domain.Product{Name: "hammer"})
	require.NoError(t, err)
	assert.Equal(t, p, created)

	updated, err := u.Replace(ctx, "p1", domain.Product{Name: "saw"})
	require.NoError(t, err)
	assert.Equal(t, "saw", updated.Name)

	deleted, err := u.Delete(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, p, deleted)

	assert.Equal(t, "products", u.Collection())
	assert.Zero(t, limiter.InFlight(), "every slot is released")
	records.AssertExpectations(t)
}

func TestRecordUsecasePassesErrorsThrough(t *testing.T) {
	records := new(MockAccessor[domain.Product])
	u := NewRecordUsecase[domain.Product](records, nil, zaptest.NewLogger(t))
	ctx := context.Background()

	boom := errors.New("connection reset")
	records.On("Get", ctx, "missing").Return(domain.Product{}, domain.ErrNotFound).Once()
	records.On("Delete", ctx, "p1").Return(domain.Product{}, boom).Once()

	_, err := u.Get(ctx, "missing")
	assert.Same(t, domain.ErrNotFound, err)

	_, err = u.Delete(ctx, "p1")
	assert.Same(t, boom, err)
}

func TestRecordUsecaseLimitsConcurrency(t *testing.T) {
	records := new(MockAccessor[domain.Product])
	limiter := NewRateLimiter(1)
	u := NewRecordUsecase[domain.Product](records, limiter, zaptest.NewLogger(t))

	entered := make(chan struct{})
	unblock := make(chan struct{})
	records.On("Get", mock.Anything, "slow").
		Run(func(mock.Arguments) {
			close(entered)
			<-unblock
		}).
		Return(domain.Product{ID: "slow"}, nil).Once()

	done := make(chan error, 1)
	go func() {
		_, err := u.Get(context.Background(), "slow")
		done <- err
	}()
	<-entered
	assert.Equal(t, 1, limiter.InFlight())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := u.Create(ctx, domain.Product{Name: "blocked"})
	assert.ErrorIs(t, err, ErrOverloaded)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(unblock)
	require.NoError(t, <-done)
	assert.Zero(t, limiter.InFlight())
	records.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(0)
	assert.Equal(t, 10, rl.Capacity())

	rl.Release() // empty semaphore
	assert.Zero(t, rl.InFlight())

	require.NoError(t, rl.Acquire(context.Background()))
	assert.Equal(t, 1, rl.InFlight())
	rl.Release()
	assert.Zero(t, rl.InFlight())
}
