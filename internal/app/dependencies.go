package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/marketplace/internal/health"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/memory"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/marketplace/internal/storage/redis"
)

const redisStartupTimeout = 3 * time.Second

// runtimeDependencies: хранилища, выбранные по конфигурации.
type runtimeDependencies struct {
	establishments domain.EstablishmentRepository
	products       domain.ProductRepository
	orders         domain.OrderRepository
	transactor     domain.OrderTransactor
	outboxRepo     domain.OutboxRepository

	idempotencyStore domain.IdempotencyStore
	// idempotencyPurger равен nil, когда ключи истекают сами (Redis).
	idempotencyPurger domain.IdempotencyPurger

	storageChecker healthcheck.Checker
	checkers       map[string]healthcheck.Checker
	closers        []func() error
}

// closeFn закрывает ресурсы в обратном порядке открытия.
func (d *runtimeDependencies) closeFn() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// initRuntimeDependencies открывает хранилище по cfg.StorageDriver.
// onRetry получает повторы транзакций заказа (только PostgreSQL).
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry, onRetry postgres.RetryHook) (*runtimeDependencies, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	if driver == "" {
		driver = StorageDriverMemory
	}

	switch driver {
	case StorageDriverMemory:
		store := memory.NewStore()
		orders := memory.NewOrderRepository(store)
		idempotency := memory.NewIdempotencyStore()
		logger.Info("using in-memory storage")
		return &runtimeDependencies{
			establishments:    memory.NewEstablishmentRepository(store),
			products:          memory.NewProductRepository(store),
			orders:            orders,
			transactor:        orders,
			outboxRepo:        memory.NewOutboxRepository(store),
			idempotencyStore:  idempotency,
			idempotencyPurger: idempotency,
			checkers:          map[string]healthcheck.Checker{},
		}, nil
	case StorageDriverPostgres:
		return initPostgresDependencies(ctx, cfg, logger, onRetry)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func initPostgresDependencies(ctx context.Context, cfg Config, logger *log.Entry, onRetry postgres.RetryHook) (*runtimeDependencies, error) {
	dsn := strings.TrimSpace(cfg.PostgresDSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required for postgres storage")
	}

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if cfg.PostgresAutoMigrate {
		if err := store.MigrateUp(ctx, 0); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		logger.Info("postgres migrations applied")
	}

	orderOpts := []postgres.OrderOption{postgres.WithMaxTxAttempts(cfg.OrderTxMaxAttempts)}
	if onRetry != nil {
		orderOpts = append(orderOpts, postgres.WithRetryHook(onRetry))
	}
	orders := postgres.NewOrderRepository(store, orderOpts...)
	idempotency := postgres.NewIdempotencyStore(store)

	logger.Info("using postgres storage")
	return &runtimeDependencies{
		establishments:    postgres.NewEstablishmentRepository(store),
		products:          postgres.NewProductRepository(store),
		orders:            orders,
		transactor:        orders,
		outboxRepo:        postgres.NewOutboxRepository(store),
		idempotencyStore:  idempotency,
		idempotencyPurger: idempotency,
		storageChecker:    healthcheck.NewPingChecker("postgres", store.Ping),
		checkers:          map[string]healthcheck.Checker{},
		closers:           []func() error{store.Close},
	}, nil
}

// useRedisIdempotency переключает ключи идемпотентности на Redis.
// Недоступный Redis не мешает старту: остаются ключи в основном хранилище.
func useRedisIdempotency(ctx context.Context, deps *runtimeDependencies, addr string, logger *log.Entry) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return false
	}

	client := redisstore.NewClient(addr)
	store := redisstore.NewIdempotencyStore(client)

	pingCtx, cancel := context.WithTimeout(ctx, redisStartupTimeout)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		logger.WithError(err).WithField("addr", addr).Warn("redis is unavailable, keeping idempotency keys in storage")
		_ = client.Close()
		return false
	}

	deps.idempotencyStore = store
	deps.idempotencyPurger = nil
	deps.checkers["redis"] = healthcheck.NewOptionalChecker("redis", store.Ping)
	deps.closers = append(deps.closers, client.Close)
	logger.WithField("addr", addr).Info("idempotency keys stored in redis")
	return true
}
