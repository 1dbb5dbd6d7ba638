package app

import (
	"context"
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestInitRuntimeDependencies_Memory(t *testing.T) {
	t.Parallel()

	deps, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
	}, log.WithField("test", "memory-storage"), nil)
	if err != nil {
		t.Fatalf("initRuntimeDependencies(memory) failed: %v", err)
	}
	if deps.establishments == nil || deps.products == nil {
		t.Fatal("catalog repositories should not be nil for memory storage")
	}
	if deps.orders == nil || deps.transactor == nil {
		t.Fatal("order repository should not be nil for memory storage")
	}
	if deps.outboxRepo == nil {
		t.Fatal("outboxRepo should not be nil for memory storage")
	}
	if deps.idempotencyStore == nil || deps.idempotencyPurger == nil {
		t.Fatal("idempotency store and purger should not be nil for memory storage")
	}
	if deps.storageChecker != nil {
		t.Fatal("memory storage has nothing to ping")
	}
	if err := deps.closeFn(); err != nil {
		t.Fatalf("closeFn failed: %v", err)
	}
}

func TestInitRuntimeDependencies_EmptyDriverFallsBackToMemory(t *testing.T) {
	t.Parallel()

	deps, err := initRuntimeDependencies(context.Background(), Config{}, log.WithField("test", "empty-driver"), nil)
	if err != nil {
		t.Fatalf("initRuntimeDependencies(empty) failed: %v", err)
	}
	if deps.orders == nil {
		t.Fatal("expected memory repositories")
	}
}

func TestInitRuntimeDependencies_PostgresRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverPostgres,
	}, log.WithField("test", "postgres-missing-dsn"), nil)
	if err == nil {
		t.Fatal("expected error when postgres driver is selected without DSN")
	}
}

func TestInitRuntimeDependencies_UnsupportedDriver(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: "sqlite",
	}, log.WithField("test", "unsupported-driver"), nil)
	if err == nil {
		t.Fatal("expected error for unsupported storage driver")
	}
}

func TestUseRedisIdempotency_EmptyAddrKeepsStorage(t *testing.T) {
	t.Parallel()

	deps, err := initRuntimeDependencies(context.Background(), Config{}, log.WithField("test", "redis-empty"), nil)
	if err != nil {
		t.Fatalf("initRuntimeDependencies failed: %v", err)
	}
	store := deps.idempotencyStore

	if useRedisIdempotency(context.Background(), deps, "  ", log.WithField("test", "redis-empty")) {
		t.Fatal("redis must not be used without address")
	}
	if deps.idempotencyStore != store {
		t.Fatal("idempotency store must stay unchanged")
	}
}

func TestUseRedisIdempotency_UnreachableFallsBack(t *testing.T) {
	t.Parallel()

	deps, err := initRuntimeDependencies(context.Background(), Config{}, log.WithField("test", "redis-down"), nil)
	if err != nil {
		t.Fatalf("initRuntimeDependencies failed: %v", err)
	}

	// Порт 1 на loopback заведомо закрыт.
	if useRedisIdempotency(context.Background(), deps, "127.0.0.1:1", log.WithField("test", "redis-down")) {
		t.Fatal("unreachable redis must not be used")
	}
	if deps.idempotencyPurger == nil {
		t.Fatal("storage purger must stay in place after fallback")
	}
	if _, ok := deps.checkers["redis"]; ok {
		t.Fatal("redis checker must not be registered after fallback")
	}
	if len(deps.closers) != 0 {
		t.Fatal("redis client must be closed after fallback")
	}
}
