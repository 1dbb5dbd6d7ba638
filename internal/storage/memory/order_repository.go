package memory

import (
	"context"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// OrderRepository хранит заказы в памяти под общим мьютексом Store.
type OrderRepository struct {
	store *Store
}

// NewOrderRepository возвращает in-memory репозиторий заказов,
// который одновременно реализует транзакции создания и отмены.
func NewOrderRepository(store *Store) *OrderRepository {
	return &OrderRepository{store: store}
}

func (r *OrderRepository) Get(_ context.Context, id string) (domain.Order, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	order, ok := r.store.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return r.store.withEstablishmentName(order), nil
}

// List возвращает заказы, новые первыми.
func (r *OrderRepository) List(_ context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range r.store.orders {
		if filter.CustomerID != "" && order.CustomerID != filter.CustomerID {
			continue
		}
		if filter.EstablishmentID != "" && order.EstablishmentID != filter.EstablishmentID {
			continue
		}
		result = append(result, r.store.withEstablishmentName(order))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	return result, nil
}

// WithinOrderTx выполняет fn под эксклюзивной блокировкой хранилища.
// Записи копятся в orderTx и применяются только при успешном завершении fn.
func (r *OrderRepository) WithinOrderTx(ctx context.Context, fn func(ctx context.Context, tx domain.OrderTx) error) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	tx := &orderTx{
		store:    r.store,
		inserted: make(map[string]domain.Order),
		updated:  make(map[string]domain.Order),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *Store) withEstablishmentName(order domain.Order) domain.Order {
	order = cloneOrder(order)
	order.EstablishmentName = s.establishments[order.EstablishmentID].Name
	return order
}

// orderTx накапливает изменения до commit; работает под store.mu.
type orderTx struct {
	store    *Store
	inserted map[string]domain.Order
	updated  map[string]domain.Order
	outbox   []domain.OutboxMessage
}

func (t *orderTx) ProductSnapshot(_ context.Context, productID string) (domain.ProductSnapshot, error) {
	p, ok := t.store.products[productID]
	if !ok {
		return domain.ProductSnapshot{}, domain.ErrProductNotFound
	}
	return domain.ProductSnapshot{
		ID:              p.ID,
		EstablishmentID: p.EstablishmentID,
		PriceMinor:      p.PriceMinor,
	}, nil
}

func (t *orderTx) InsertOrder(_ context.Context, order domain.Order) error {
	if _, ok := t.store.establishments[order.EstablishmentID]; !ok {
		return domain.ErrEstablishmentNotFound
	}
	if _, exists := t.lookup(order.ID); exists {
		return domain.NewError(domain.KindConflict, nil, "order %s already exists", order.ID)
	}
	t.inserted[order.ID] = cloneOrder(order)
	return nil
}

func (t *orderTx) LockOrder(_ context.Context, id string) (domain.Order, error) {
	order, ok := t.lookup(id)
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return t.store.withEstablishmentName(order), nil
}

func (t *orderTx) UpdateOrderStatus(_ context.Context, id string, from, to domain.OrderStatus, at time.Time) error {
	order, ok := t.lookup(id)
	if !ok {
		return domain.ErrOrderNotFound
	}
	if order.Status != from {
		return domain.ErrOrderNotCancellable
	}
	order = cloneOrder(order)
	order.Status = to
	order.UpdatedAt = at
	if _, isNew := t.inserted[id]; isNew {
		t.inserted[id] = order
	} else {
		t.updated[id] = order
	}
	return nil
}

func (t *orderTx) Enqueue(_ context.Context, msg domain.OutboxMessage) error {
	t.outbox = append(t.outbox, msg)
	return nil
}

func (t *orderTx) lookup(id string) (domain.Order, bool) {
	if order, ok := t.inserted[id]; ok {
		return order, true
	}
	if order, ok := t.updated[id]; ok {
		return order, true
	}
	order, ok := t.store.orders[id]
	return order, ok
}

func (t *orderTx) commit() {
	for id, order := range t.inserted {
		t.store.orders[id] = order
	}
	for id, order := range t.updated {
		t.store.orders[id] = order
	}
	for _, msg := range t.outbox {
		t.store.enqueueLocked(msg)
	}
}

var (
	_ domain.OrderRepository = (*OrderRepository)(nil)
	_ domain.OrderTransactor = (*OrderRepository)(nil)
	_ domain.OrderTx         = (*orderTx)(nil)
)
