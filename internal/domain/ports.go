package domain

import (
	"context"
	"time"
)

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository отдаёт события на публикацию и фиксирует результат.
type OutboxRepository interface {
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// IdempotencyStore хранит результат создания заказа по ключу идемпотентности.
type IdempotencyStore interface {
	// Reserve занимает ключ за запросом с отпечатком requestHash. Возвращает ID уже
	// созданного заказа, если ключ завершён, пустую строку, если ключ только что занят,
	// ErrIdempotencyInFlight или ErrIdempotencyHashMismatch, если ключ занят другим запросом.
	Reserve(ctx context.Context, key, requestHash string, ttl time.Duration) (string, error)
	// Complete связывает ключ с созданным заказом.
	Complete(ctx context.Context, key, orderID string, ttl time.Duration) error
	// Release освобождает ключ после неудачной попытки.
	Release(ctx context.Context, key string) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// IdempotencyPurger удаляет просроченные ключи идемпотентности порциями.
type IdempotencyPurger interface {
	DeleteExpired(ctx context.Context, before time.Time, limit int) (IdempotencyPurge, error)
}

// IdempotencyPurge: итог удаления просроченных ключей.
// Abandoned считает резервы, которые истекли, так и не получив заказ:
// создание заказа прервалось между Reserve и Complete/Release.
type IdempotencyPurge struct {
	Completed int
	Abandoned int
}

// Total возвращает общее число удалённых ключей.
func (p IdempotencyPurge) Total() int {
	return p.Completed + p.Abandoned
}
