package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ipfs/go-datastore"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/your-org/recordhub/internal/audit"
	"github.com/your-org/recordhub/internal/cache"
	"github.com/your-org/recordhub/internal/config"
	"github.com/your-org/recordhub/internal/domain"
	"github.com/your-org/recordhub/internal/eventhub"
	"github.com/your-org/recordhub/internal/handlers"
	"github.com/your-org/recordhub/internal/middleware"
	"github.com/your-org/recordhub/internal/model"
	"github.com/your-org/recordhub/internal/repositories"
	"github.com/your-org/recordhub/internal/usecases"
)

const (
	// Настройки проверки хранилища при старте.
	// Даем базе немного времени "проснуться", прежде чем сдаваться.
	healthCheckRetries    = 5
	healthCheckRetryDelay = 2 * time.Second

	periodicHealthInterval = 30 * time.Second
)

// App держит вместе все зависимости, чтобы их не приходилось передавать
// глобально. Это упрощает тестирование и управление жизненным циклом.
type App struct {
	config *config.Config
	logger *zap.Logger

	// Соединения с хранилищами; заполнено только то, что выбрал драйвер.
	mongo     *repositories.MongoClient
	reindexer *repositories.ReindexerClient
	sqlDB     *gorm.DB
	store     datastore.Batching
	auditDB   *gorm.DB

	hub      *eventhub.Hub
	recorder *audit.Recorder
	cache    *cache.ShardedCache
	checkers []domain.HealthChecker
	handler  http.Handler
	server   *http.Server

	initOnce sync.Once
	initErr  error

	// Фоновые задачи останавливаются через ctx
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	shutdownOnce sync.Once
}

// NewApp создает заготовку приложения; настройка происходит в Initialize.
func NewApp(cfg *config.Config, logger *zap.Logger) *App {
	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		config: cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Initialize собирает все компоненты. Повторный вызов вернет тот же результат.
func (a *App) Initialize() error {
	a.initOnce.Do(func() {
		a.initErr = a.doInitialize()
	})
	return a.initErr
}

// doInitialize собирает приложение по порядку: хранилище -> хаб событий -> аудит ->
// модели -> usecase'ы -> HTTP.
func (a *App) doInitialize() error {
	a.logger.Info("конфигурация загружена",
		zap.String("driver", a.config.Backend.Driver),
		zap.String("server_host", a.config.Server.Host),
		zap.Int("server_port", a.config.Server.Port),
	)

	if err := a.connectBackend(); err != nil {
		return fmt.Errorf("ошибка подключения к хранилищу: %w", err)
	}

	// Хаб событий: синхронный или с пулом воркеров
	var hubOpts []eventhub.Option
	if a.config.Events.Async {
		hubOpts = append(hubOpts, eventhub.WithAsync(a.config.Events.Workers, a.config.Events.QueueSize))
	}
	a.hub = eventhub.New(a.logger.Named("eventhub"), hubOpts...)

	if a.config.Audit.Enabled {
		if err := a.initializeAudit(); err != nil {
			return fmt.Errorf("ошибка инициализации аудита: %w", err)
		}
	}

	a.cache = cache.NewShardedCache(
		a.config.Cache.Shards,
		time.Duration(a.config.Cache.TTL)*time.Second,
		cache.WithLogger(a.logger.Named("cache")),
	)

	limiter := usecases.NewRateLimiter(a.config.Concurrency.MaxConcurrentOps)
	categories, err := buildCollection[domain.Category](a, "categories", limiter)
	if err != nil {
		return err
	}
	products, err := buildCollection[domain.Product](a, "products", limiter)
	if err != nil {
		return err
	}

	if err := a.ensureCollections(); err != nil {
		return err
	}

	routes := handlers.RouterConfig{
		Logger:         a.logger,
		RequestTimeout: a.config.Server.RequestTimeout,
		Limiter:        middleware.NewInFlightLimiter(a.config.Concurrency.HTTPMaxWorkers, time.Second),
		Health:         handlers.NewHealthHandler(a.checkers, a.hub.Stats, a.logger),
		Collections:    []handlers.Mounter{categories, products},
	}
	if a.recorder != nil {
		routes.Events = handlers.NewEventsHandler(a.recorder, a.logger)
	}
	a.handler = handlers.NewRouter(routes)

	a.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", a.config.Server.Host, a.config.Server.Port),
		Handler:      a.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: a.config.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	a.logger.Info("приложение готово к работе")
	return nil
}

// connectBackend открывает хранилище выбранного драйвера.
func (a *App) connectBackend() error {
	switch a.config.Backend.Driver {
	case config.DriverMongo:
		ctx, cancel := context.WithTimeout(a.ctx, a.config.Mongo.ConnectTimeout)
		defer cancel()
		client, err := repositories.ConnectMongo(ctx, a.config.Mongo.URI, a.config.Mongo.Database, a.logger.Named("mongo"))
		if err != nil {
			return err
		}
		a.mongo = client

	case config.DriverReindexer:
		client, err := repositories.NewReindexerClient(a.config.Reindexer.DSN, a.config.Reindexer.MaxConnections, a.logger.Named("reindexer"))
		if err != nil {
			return err
		}
		a.reindexer = client

	case config.DriverSQL:
		db, err := repositories.OpenSQL(a.config.SQL.DSN)
		if err != nil {
			return err
		}
		a.sqlDB = db

	case config.DriverDatastore:
		store, err := repositories.OpenDatastore(a.config.Datastore.Path)
		if err != nil {
			return err
		}
		a.store = store

	default:
		return fmt.Errorf("неизвестный драйвер %q", a.config.Backend.Driver)
	}
	return nil
}

// backendFor создает бэкенд коллекции поверх уже открытого соединения.
func backendFor[T any](a *App, collection string) (domain.Backend[T], domain.HealthChecker, error) {
	opts := []repositories.Option{
		repositories.WithTimestamps(a.config.Backend.Timestamps),
		repositories.WithLogger(a.logger.With(zap.String("collection", collection))),
	}

	switch {
	case a.mongo != nil:
		b := repositories.NewMongoBackend[T](a.mongo, collection, opts...)
		return b, b, nil
	case a.reindexer != nil:
		b := repositories.NewReindexerBackend[T](a.reindexer, collection, opts...)
		return b, b, nil
	case a.sqlDB != nil:
		b := repositories.NewSQLBackend[T](a.sqlDB, collection, opts...)
		return b, b, nil
	case a.store != nil:
		b := repositories.NewDatastoreBackend[T](a.store, collection, opts...)
		return b, b, nil
	}
	return nil, nil, errors.New("хранилище не подключено")
}

// buildCollection связывает бэкенд, модель, usecase и HTTP-обработчик
// одной коллекции.
func buildCollection[T any](a *App, collection string, limiter *usecases.RateLimiter) (*handlers.RecordHandler[T], error) {
	backend, checker, err := backendFor[T](a, collection)
	if err != nil {
		return nil, fmt.Errorf("коллекция %s: %w", collection, err)
	}
	a.checkers = append(a.checkers, checker)

	modelOpts := []model.Option{model.WithLogger(a.logger)}
	if a.config.Events.LegacyOrdering {
		modelOpts = append(modelOpts, model.WithLegacyOrdering())
	}
	records := model.New[T](collection, backend, a.hub, modelOpts...)
	uc := usecases.NewRecordUsecase[T](records, limiter, a.logger)

	return handlers.NewRecordHandler[T](uc, a.cache, a.logger), nil
}

// ensureCollections проверяет связь и создает коллекции, повторяя попытки:
// база может стартовать медленнее приложения.
func (a *App) ensureCollections() error {
	var err error
	for attempt := 0; attempt < healthCheckRetries; attempt++ {
		if attempt > 0 {
			a.logger.Info("повторная проверка хранилища",
				zap.Int("попытка", attempt+1),
				zap.Duration("пауза", healthCheckRetryDelay),
			)
			select {
			case <-a.ctx.Done():
				return a.ctx.Err()
			case <-time.After(healthCheckRetryDelay):
			}
		}

		if err = a.checkAll(); err == nil {
			a.logger.Info("коллекции проверены", zap.Int("попыток_затрачено", attempt+1))
			return nil
		}
		a.logger.Warn("хранилище не готово", zap.Int("попытка", attempt+1), zap.Error(err))
	}
	return fmt.Errorf("хранилище недоступно после %d попыток: %w", healthCheckRetries, err)
}

func (a *App) checkAll() error {
	ctx, cancel := context.WithTimeout(a.ctx, 10*time.Second)
	defer cancel()

	for _, c := range a.checkers {
		if err := c.CheckConnection(ctx); err != nil {
			return err
		}
		if err := c.EnsureCollections(ctx); err != nil {
			return err
		}
	}
	return nil
}

// initializeAudit открывает журнал событий и подписывает его на хаб.
func (a *App) initializeAudit() error {
	db, err := repositories.OpenSQL(a.config.Audit.DSN)
	if err != nil {
		return err
	}
	a.auditDB = db

	a.recorder = audit.NewRecorder(db, a.logger.Named("audit"))
	ctx, cancel := context.WithTimeout(a.ctx, 10*time.Second)
	defer cancel()
	if err := a.recorder.Migrate(ctx); err != nil {
		return err
	}
	a.recorder.Attach(a.hub)
	return nil
}

// Handler returns the HTTP handler; valid after Initialize.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Start запускает фоновые задачи и HTTP сервер; не блокирует.
func (a *App) Start() error {
	if err := a.Initialize(); err != nil {
		return err
	}

	a.hub.Start()
	a.cache.StartCleanupWorker()

	a.wg.Add(1)
	go a.periodicHealthCheck()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Info("запуск HTTP сервера", zap.String("адрес", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("сервер упал с ошибкой", zap.Error(err))
		}
	}()

	return nil
}

// periodicHealthCheck раз в 30 секунд пишет в лог состояние хранилища.
func (a *App) periodicHealthCheck() {
	defer a.wg.Done()

	ticker := time.NewTicker(periodicHealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(a.ctx, 5*time.Second)
			for _, c := range a.checkers {
				if err := c.CheckConnection(ctx); err != nil {
					a.logger.Warn("фоновая проверка: проблема с хранилищем", zap.Error(err))
					break
				}
			}
			cancel()
			a.logger.Debug("фоновая проверка завершена", zap.Any("events", a.hub.Stats()))
		}
	}
}

// Shutdown аккуратно останавливает приложение: HTTP -> события -> кэш -> хранилища.
func (a *App) Shutdown() error {
	var errs []error

	a.shutdownOnce.Do(func() {
		a.logger.Info("начинаем остановку приложения...")
		a.cancel()

		if a.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), a.config.Server.ShutdownTimeout)
			if err := a.server.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("остановка сервера: %w", err))
			}
			cancel()
		}

		// Доставляем события, что еще в очереди
		if a.hub != nil {
			a.hub.Stop()
		}
		if a.cache != nil {
			a.cache.StopCleanupWorker()
		}

		errs = append(errs, a.closeStores()...)
		a.wg.Wait()

		a.logger.Info("приложение остановлено")
	})

	return errors.Join(errs...)
}

func (a *App) closeStores() []error {
	var errs []error
	if a.mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.mongo.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mongo: %w", err))
		}
		cancel()
	}
	if a.reindexer != nil {
		if err := a.reindexer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("reindexer: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("datastore: %w", err))
		}
	}
	for name, db := range map[string]*gorm.DB{"sql": a.sqlDB, "audit": a.auditDB} {
		if db == nil {
			continue
		}
		if sqlDB, err := db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
		}
	}
	return errs
}
