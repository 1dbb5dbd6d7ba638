package domain

import (
	"context"
	"time"
)

// EstablishmentRepository описывает хранилище заведений.
type EstablishmentRepository interface {
	// Create сохраняет новое заведение.
	Create(ctx context.Context, e Establishment) error
	// Get возвращает заведение (в том числе неактивное) или ErrEstablishmentNotFound.
	Get(ctx context.Context, id string) (Establishment, error)
	// ListActive возвращает только активные заведения.
	ListActive(ctx context.Context) ([]Establishment, error)
	// Save перезаписывает изменяемые поля: name, address, active, updated_at.
	Save(ctx context.Context, e Establishment) error
}

// ProductRepository описывает хранилище продуктов.
type ProductRepository interface {
	Create(ctx context.Context, p Product) error
	// Get возвращает продукт с именем заведения или ErrProductNotFound.
	Get(ctx context.Context, id string) (Product, error)
	// GetWithOwner возвращает продукт и владельца его заведения.
	GetWithOwner(ctx context.Context, id string) (Product, string, error)
	ListByEstablishment(ctx context.Context, establishmentID string) ([]Product, error)
	Save(ctx context.Context, p Product) error
	// Delete удаляет продукт физически; ErrProductNotFound, если его нет.
	Delete(ctx context.Context, id string) error
}

// OrderRepository отдаёт заказы на чтение; все мутации идут через OrderTransactor.
type OrderRepository interface {
	Get(ctx context.Context, id string) (Order, error)
	// List возвращает заказы с позициями и именем заведения, новые первыми.
	List(ctx context.Context, filter OrderFilter) ([]Order, error)
}

// OrderTransactor выполняет fn в одной атомарной транзакции.
// Если fn вернула ошибку, ни одна запись из транзакции не видна снаружи.
type OrderTransactor interface {
	WithinOrderTx(ctx context.Context, fn func(ctx context.Context, tx OrderTx) error) error
}

// OrderTx: операции, доступные внутри транзакции заказа.
type OrderTx interface {
	// ProductSnapshot читает текущую цену и заведение продукта; ErrProductNotFound, если нет.
	ProductSnapshot(ctx context.Context, productID string) (ProductSnapshot, error)
	// InsertOrder сохраняет заказ вместе с позициями.
	InsertOrder(ctx context.Context, order Order) error
	// LockOrder читает заказ с блокировкой строки до конца транзакции.
	LockOrder(ctx context.Context, id string) (Order, error)
	// UpdateOrderStatus меняет статус, только если текущий статус равен from.
	UpdateOrderStatus(ctx context.Context, id string, from, to OrderStatus, at time.Time) error
	// Enqueue кладёт событие в transactional outbox.
	Enqueue(ctx context.Context, msg OutboxMessage) error
}
