package repositories

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/restream/reindexer/v4"
	// Используем cproto (RPC) протокол: он быстрее и эффективнее стандартного HTTP.
	_ "github.com/restream/reindexer/v4/bindings/cproto"
	"go.uber.org/zap"

	"github.com/your-org/recordhub/internal/domain"
)

const (
	// Настройки для управления соединениями (общие для Reindexer и Mongo).
	defaultMaxRetries     = 3
	defaultRetryDelay     = 1 * time.Second
	defaultConnectTimeout = 10 * time.Second
)

// HealthStatus хранит текущее состояние подключения к базе.
type HealthStatus struct {
	IsHealthy   bool
	LastCheck   time.Time
	LastError   error
	Connections int // Сколько активных соединений в пуле
}

// ReindexerClient: общее подключение к Reindexer для всех коллекций.
// Он умеет:
// 1. Управлять соединениями (пулинг, round-robin).
// 2. Следить за здоровьем базы.
// 3. Открывать неймспейсы под схемы записей.
type ReindexerClient struct {
	dsn      string
	poolSize int
	logger   *zap.Logger

	mu          sync.RWMutex
	db          *reindexer.Reindexer   // Главное соединение
	connections []*reindexer.Reindexer // Пул дополнительных соединений
	next        atomic.Uint64          // Счетчик для round-robin

	// Атомарное хранилище статуса здоровья, чтобы health check читал его без блокировок.
	healthStatus atomic.Value // хранит *HealthStatus

	// Какие неймспейсы уже открыты (по имени).
	nsMu       sync.Mutex
	namespaces map[string]bool
}

// NewReindexerClient создает клиента и сразу подключается (с повторными попытками).
func NewReindexerClient(dsn string, maxConnections int, logger *zap.Logger) (*ReindexerClient, error) {
	if maxConnections < 1 {
		maxConnections = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &ReindexerClient{
		dsn:         dsn,
		poolSize:    maxConnections,
		logger:      logger,
		connections: make([]*reindexer.Reindexer, 0, maxConnections),
		namespaces:  make(map[string]bool),
	}

	// Пока не подключились: считаем себя нездоровыми.
	c.healthStatus.Store(&HealthStatus{
		IsHealthy: false,
		LastCheck: time.Now(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		return nil, fmt.Errorf("ошибка подключения к базе: %w", err)
	}

	return c, nil
}

// Connect пытается установить соединение с базой.
func (c *ReindexerClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connectWithRetry(ctx, defaultMaxRetries)
}

// connectWithRetry: повторные попытки: сеть может моргнуть, база может перезагружаться.
func (c *ReindexerClient) connectWithRetry(ctx context.Context, maxRetries int) error {
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if attempt > 0 {
			delay := defaultRetryDelay * time.Duration(attempt)
			c.logger.Info("повторная попытка подключения",
				zap.Int("попытка", attempt+1),
				zap.Duration("пауза", delay),
			)
			time.Sleep(delay)
		}

		db := reindexer.NewReindex(c.dsn, reindexer.WithCreateDBIfMissing())
		if err := c.testConnection(ctx, db); err != nil {
			lastErr = err
			db.Close()
			c.logger.Warn("тест соединения провален",
				zap.Int("попытка", attempt+1),
				zap.Error(err),
			)
			continue
		}

		// Закрываем старые соединения (переподключение).
		c.closeAll()
		c.db = db

		c.connections = make([]*reindexer.Reindexer, 0, c.poolSize)
		for i := 0; i < c.poolSize; i++ {
			conn := reindexer.NewReindex(c.dsn, reindexer.WithCreateDBIfMissing())
			if err := c.testConnection(ctx, conn); err != nil {
				conn.Close()
				c.logger.Warn("не удалось создать соединение в пуле",
					zap.Int("индекс", i),
					zap.Error(err),
				)
				continue
			}
			c.connections = append(c.connections, conn)
		}

		// После переподключения неймспейсы надо открыть заново.
		c.nsMu.Lock()
		c.namespaces = make(map[string]bool)
		c.nsMu.Unlock()

		c.updateHealthStatus(true, nil, len(c.connections)+1)
		c.logger.Info("успешно подключились к Reindexer",
			zap.Int("размер_пула", len(c.connections)),
		)
		return nil
	}

	c.updateHealthStatus(false, lastErr, 0)
	return fmt.Errorf("не удалось подключиться после %d попыток: %w", maxRetries, lastErr)
}

// testConnection проверяет, что соединение создано и контекст жив.
func (c *ReindexerClient) testConnection(ctx context.Context, db *reindexer.Reindexer) error {
	if db == nil {
		return fmt.Errorf("объект соединения nil")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	return nil
}

// conn возвращает соединение из пула по кругу (round-robin).
func (c *ReindexerClient) conn() (*reindexer.Reindexer, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.connections) == 0 {
		if c.db == nil {
			return nil, fmt.Errorf("нет доступного соединения с БД")
		}
		return c.db, nil
	}

	i := c.next.Add(1) % uint64(len(c.connections))
	return c.connections[i], nil
}

func (c *ReindexerClient) updateHealthStatus(isHealthy bool, err error, connections int) {
	c.healthStatus.Store(&HealthStatus{
		IsHealthy:   isHealthy,
		LastCheck:   time.Now(),
		LastError:   err,
		Connections: connections,
	})
}

// Health возвращает текущее состояние здоровья.
func (c *ReindexerClient) Health() *HealthStatus {
	status, _ := c.healthStatus.Load().(*HealthStatus)
	if status == nil {
		return &HealthStatus{IsHealthy: false}
	}
	return status
}

// markFailed отмечает ошибку запроса в статусе здоровья.
func (c *ReindexerClient) markFailed(err error) {
	c.updateHealthStatus(false, err, c.Health().Connections)
}

// OpenNamespace открывает (и создает при отсутствии) неймспейс на всех соединениях.
// item: нулевое значение типа записи: по нему Reindexer строит схему индексов.
func (c *ReindexerClient) OpenNamespace(ctx context.Context, namespace string, item any) error {
	c.nsMu.Lock()
	defer c.nsMu.Unlock()

	if c.namespaces[namespace] {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.db == nil {
		return fmt.Errorf("соединение с базой не установлено")
	}

	opts := reindexer.DefaultNamespaceOptions()
	if err := c.db.OpenNamespace(namespace, opts, item); err != nil {
		return fmt.Errorf("ошибка открытия неймспейса %s: %w", namespace, err)
	}

	// То же самое для соединений пула, чтобы они "знали" про схему.
	for i, conn := range c.connections {
		if err := conn.OpenNamespace(namespace, opts, item); err != nil {
			c.logger.Warn("ошибка открытия неймспейса для соединения из пула",
				zap.String("namespace", namespace),
				zap.Int("индекс", i),
				zap.Error(err),
			)
		}
	}

	c.namespaces[namespace] = true
	c.logger.Info("неймспейс открыт", zap.String("namespace", namespace))
	return nil
}

// CheckConnection проверяет здоровье соединения (для внешних health check'ов).
func (c *ReindexerClient) CheckConnection(ctx context.Context) error {
	c.mu.RLock()
	db := c.db
	c.mu.RUnlock()

	if db == nil {
		return fmt.Errorf("соединение не установлено")
	}

	if err := c.testConnection(ctx, db); err != nil {
		c.markFailed(err)
		return fmt.Errorf("проверка связи не прошла: %w", err)
	}

	c.updateHealthStatus(true, nil, c.Health().Connections)
	return nil
}

// Close закрывает все соединения с базой данных.
func (c *ReindexerClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeAll()
	c.updateHealthStatus(false, fmt.Errorf("соединение закрыто"), 0)
	return nil
}

// closeAll закрывает главное соединение и пул; вызывается под c.mu.
func (c *ReindexerClient) closeAll() {
	if c.db != nil {
		c.db.Close()
		c.db = nil
	}
	for i, conn := range c.connections {
		if conn != nil {
			conn.Close()
			c.connections[i] = nil
		}
	}
	c.connections = c.connections[:0]
}

// ReindexerBackend: коллекция записей типа T в одном неймспейсе Reindexer.
// Тип записи должен быть структурой с первичным ключом `reindex:"id,,pk"`.
type ReindexerBackend[T any] struct {
	client    *ReindexerClient
	namespace string
	opts      options
}

// NewReindexerBackend создает бэкенд для одного неймспейса.
func NewReindexerBackend[T any](client *ReindexerClient, namespace string, opts ...Option) *ReindexerBackend[T] {
	return &ReindexerBackend[T]{
		client:    client,
		namespace: namespace,
		opts:      buildOptions(opts),
	}
}

// EnsureCollections implements domain.HealthChecker
func (b *ReindexerBackend[T]) EnsureCollections(ctx context.Context) error {
	var zero T
	return b.client.OpenNamespace(ctx, b.namespace, zero)
}

// CheckConnection implements domain.HealthChecker
func (b *ReindexerBackend[T]) CheckConnection(ctx context.Context) error {
	return b.client.CheckConnection(ctx)
}

// ready гарантирует открытый неймспейс и отдает соединение.
func (b *ReindexerBackend[T]) ready(ctx context.Context) (*reindexer.Reindexer, error) {
	if err := b.EnsureCollections(ctx); err != nil {
		return nil, fmt.Errorf("ошибка проверки коллекций: %w", err)
	}
	return b.client.conn()
}

// FindOne implements domain.Backend
func (b *ReindexerBackend[T]) FindOne(ctx context.Context, id string) (T, error) {
	var zero T
	db, err := b.ready(ctx)
	if err != nil {
		return zero, err
	}

	// SELECT * FROM <namespace> WHERE id = :id LIMIT 1
	iter := db.Query(b.namespace).Where(idField, reindexer.EQ, id).Limit(1).Exec()
	defer iter.Close()

	if err := iter.Error(); err != nil {
		b.client.markFailed(err)
		return zero, fmt.Errorf("ошибка запроса %s/%s: %w", b.namespace, id, err)
	}

	if !iter.Next() {
		return zero, fmt.Errorf("%s/%s: %w", b.namespace, id, domain.ErrNotFound)
	}

	record, ok := iter.Object().(*T)
	if !ok || record == nil {
		return zero, fmt.Errorf("внутренняя ошибка десериализации: %T", iter.Object())
	}
	return *record, nil
}

// FindAll implements domain.Backend
func (b *ReindexerBackend[T]) FindAll(ctx context.Context) ([]T, error) {
	db, err := b.ready(ctx)
	if err != nil {
		return nil, err
	}

	iter := db.Query(b.namespace).Exec()
	defer iter.Close()

	if err := iter.Error(); err != nil {
		b.client.markFailed(err)
		return nil, fmt.Errorf("ошибка запроса списка %s: %w", b.namespace, err)
	}

	records := []T{}
	for iter.Next() {
		record, ok := iter.Object().(*T)
		if !ok || record == nil {
			return nil, fmt.Errorf("внутренняя ошибка десериализации: %T", iter.Object())
		}
		records = append(records, *record)
	}
	return records, nil
}

// Save implements domain.Backend
func (b *ReindexerBackend[T]) Save(ctx context.Context, record T) (T, error) {
	var zero T
	db, err := b.ready(ctx)
	if err != nil {
		return zero, err
	}

	doc, err := encodeDocument(record)
	if err != nil {
		return zero, err
	}
	id := b.opts.stampNew(doc)
	stamped, err := decodeDocument[T](doc)
	if err != nil {
		return zero, err
	}

	// Insert не перезаписывает: 0 вставленных значит, что такой id уже есть.
	count, err := db.Insert(b.namespace, &stamped)
	if err != nil {
		b.client.markFailed(err)
		return zero, fmt.Errorf("ошибка при сохранении %s/%s: %w", b.namespace, id, err)
	}
	if count == 0 {
		return zero, fmt.Errorf("%s/%s: %w", b.namespace, id, domain.ErrConflict)
	}
	return stamped, nil
}

// FindByIDAndReplace implements domain.Backend
func (b *ReindexerBackend[T]) FindByIDAndReplace(ctx context.Context, id string, record T) (T, error) {
	var zero T
	existing, err := b.FindOne(ctx, id)
	if err != nil {
		return zero, err
	}
	previous, err := encodeDocument(existing)
	if err != nil {
		return zero, err
	}

	doc, err := encodeDocument(record)
	if err != nil {
		return zero, err
	}
	b.opts.stampReplace(doc, id, previous)
	stamped, err := decodeDocument[T](doc)
	if err != nil {
		return zero, err
	}

	db, err := b.client.conn()
	if err != nil {
		return zero, err
	}

	// Update обновляет только существующий элемент; 0: его успели удалить.
	count, err := db.Update(b.namespace, &stamped)
	if err != nil {
		b.client.markFailed(err)
		return zero, fmt.Errorf("ошибка при обновлении %s/%s: %w", b.namespace, id, err)
	}
	if count == 0 {
		return zero, fmt.Errorf("%s/%s: %w", b.namespace, id, domain.ErrNotFound)
	}
	return stamped, nil
}

// FindByIDAndDelete implements domain.Backend
func (b *ReindexerBackend[T]) FindByIDAndDelete(ctx context.Context, id string) (T, error) {
	var zero T
	existing, err := b.FindOne(ctx, id)
	if err != nil {
		return zero, err
	}

	db, err := b.client.conn()
	if err != nil {
		return zero, err
	}

	if err := db.Delete(b.namespace, &existing); err != nil {
		b.client.markFailed(err)
		return zero, fmt.Errorf("ошибка при удалении %s/%s: %w", b.namespace, id, err)
	}
	return existing, nil
}

// Проверка интерфейсов (compile-time check).
var (
	_ domain.Backend[domain.Category] = (*ReindexerBackend[domain.Category])(nil)
	_ domain.HealthChecker            = (*ReindexerBackend[domain.Category])(nil)
)
