package usecases

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/your-org/recordhub/internal/domain"
)

// ErrOverloaded is returned when no operation slot frees up before the
// caller's context ends.
var ErrOverloaded = errors.New("превышен лимит одновременных операций")

// Accessor is what the usecase needs from a record accessor; model.Model
// satisfies it.
type Accessor[T any] interface {
	Collection() string
	Get(ctx context.Context, id string) (T, error)
	List(ctx context.Context) (domain.Envelope[T], error)
	Create(ctx context.Context, record T) (T, error)
	Replace(ctx context.Context, id string, record T) (T, error)
	Delete(ctx context.Context, id string) (T, error)
}

// RateLimiter: простой ограничитель нагрузки на семафоре.
// Не дает запустить больше N операций одновременно, защищая базу.
// Один лимитер делят все коллекции.
type RateLimiter struct {
	semaphore chan struct{}
}

// NewRateLimiter создает ограничитель с буфером на maxConcurrent операций.
func NewRateLimiter(maxConcurrent int) *RateLimiter {
	if maxConcurrent < 1 {
		maxConcurrent = 10
	}
	return &RateLimiter{
		semaphore: make(chan struct{}, maxConcurrent),
	}
}

// Acquire ждет свободного места. Если контекст отменен (например, таймаут
// запроса): возвращает ErrOverloaded вместе с причиной.
func (rl *RateLimiter) Acquire(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrOverloaded, ctx.Err())
	case rl.semaphore <- struct{}{}:
		return nil
	}
}

// Release освобождает место для следующих операций.
func (rl *RateLimiter) Release() {
	select {
	case <-rl.semaphore:
	default:
		// пустой семафор: лишний Release игнорируем
	}
}

// InFlight сообщает, сколько операций выполняется сейчас.
func (rl *RateLimiter) InFlight() int {
	return len(rl.semaphore)
}

// Capacity: максимальное число одновременных операций.
func (rl *RateLimiter) Capacity() int {
	return cap(rl.semaphore)
}

// RecordUsecase отвечает за работу с записями одной коллекции:
// ограничивает нагрузку на бэкенд и пишет логи операций.
type RecordUsecase[T any] struct {
	records Accessor[T]
	limiter *RateLimiter
	logger  *zap.Logger
}

// NewRecordUsecase создает usecase поверх accessor. limiter может быть
// общим для нескольких коллекций; nil: без ограничений.
func NewRecordUsecase[T any](records Accessor[T], limiter *RateLimiter, logger *zap.Logger) *RecordUsecase[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordUsecase[T]{
		records: records,
		limiter: limiter,
		logger:  logger.With(zap.String("collection", records.Collection())),
	}
}

// Collection returns the collection the usecase serves.
func (u *RecordUsecase[T]) Collection() string {
	return u.records.Collection()
}

func (u *RecordUsecase[T]) acquire(ctx context.Context) (func(), error) {
	if u.limiter == nil {
		return func() {}, nil
	}
	if err := u.limiter.Acquire(ctx); err != nil {
		u.logger.Warn("не удалось получить слот для операции", zap.Error(err))
		return nil, err
	}
	return u.limiter.Release, nil
}

// report логирует ошибку: "не найдено" это нормальный исход (Debug), остальное в Error.
func (u *RecordUsecase[T]) report(op, id string, err error) {
	fields := []zap.Field{zap.String("op", op), zap.String("id", id), zap.Error(err)}
	if errors.Is(err, domain.ErrNotFound) {
		u.logger.Debug("запись не найдена", fields...)
		return
	}
	u.logger.Error("ошибка операции с записью", fields...)
}

// Get получает запись по ID.
func (u *RecordUsecase[T]) Get(ctx context.Context, id string) (T, error) {
	release, err := u.acquire(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	defer release()

	record, err := u.records.Get(ctx, id)
	if err != nil {
		u.report("get", id, err)
		return record, err
	}
	return record, nil
}

// List возвращает все записи коллекции.
func (u *RecordUsecase[T]) List(ctx context.Context) (domain.Envelope[T], error) {
	release, err := u.acquire(ctx)
	if err != nil {
		return domain.Envelope[T]{}, err
	}
	defer release()

	env, err := u.records.List(ctx)
	if err != nil {
		u.report("list", "", err)
		return env, err
	}
	return env, nil
}

// Create сохраняет новую запись.
func (u *RecordUsecase[T]) Create(ctx context.Context, record T) (T, error) {
	release, err := u.acquire(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	defer release()

	saved, err := u.records.Create(ctx, record)
	if err != nil {
		u.report("create", "", err)
		return saved, err
	}
	u.logger.Info("запись создана")
	return saved, nil
}

// Replace полностью перезаписывает запись.
func (u *RecordUsecase[T]) Replace(ctx context.Context, id string, record T) (T, error) {
	release, err := u.acquire(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	defer release()

	updated, err := u.records.Replace(ctx, id, record)
	if err != nil {
		u.report("replace", id, err)
		return updated, err
	}
	u.logger.Info("запись обновлена", zap.String("id", id))
	return updated, nil
}

// Delete удаляет запись и возвращает ее последнее состояние.
func (u *RecordUsecase[T]) Delete(ctx context.Context, id string) (T, error) {
	release, err := u.acquire(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	defer release()

	deleted, err := u.records.Delete(ctx, id)
	if err != nil {
		u.report("delete", id, err)
		return deleted, err
	}
	u.logger.Info("запись удалена", zap.String("id", id))
	return deleted, nil
}
