package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

const (
	defaultMaxTxAttempts = 3
	retryBaseDelay       = 10 * time.Millisecond
)

// RetryHook вызывается перед повтором транзакции после ошибки сериализации.
type RetryHook func(attempt int, err error)

// OrderOption настраивает OrderRepository.
type OrderOption func(*OrderRepository)

// WithMaxTxAttempts ограничивает число попыток транзакции заказа.
func WithMaxTxAttempts(n int) OrderOption {
	return func(r *OrderRepository) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithRetryHook задаёт хук повторов (метрики, логирование).
func WithRetryHook(hook RetryHook) OrderOption {
	return func(r *OrderRepository) {
		r.onRetry = hook
	}
}

// OrderRepository читает заказы и выполняет транзакции создания и отмены.
// Транзакции идут на уровне REPEATABLE READ; ошибки сериализации (40001, 40P01)
// приводят к повтору всей транзакции до maxAttempts раз.
type OrderRepository struct {
	db          *sql.DB
	maxAttempts int
	onRetry     RetryHook
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository и OrderTransactor.
func NewOrderRepository(store *Store, opts ...OrderOption) *OrderRepository {
	r := &OrderRepository{db: store.DB(), maxAttempts: defaultMaxTxAttempts}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

const orderSelect = `
	SELECT o.id, o.customer_id, o.establishment_id, e.name, o.status, o.total_minor, o.created_at, o.updated_at
	FROM orders o
	JOIN establishments e ON e.id = o.establishment_id`

func (r *OrderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, orderSelect+` WHERE o.id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	items, err := loadItems(ctx, r.db, []string{order.ID})
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items[order.ID]
	return order, nil
}

// List возвращает заказы по фильтру, новые первыми.
func (r *OrderRepository) List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var (
		conditions []string
		args       []any
	)
	if filter.CustomerID != "" {
		args = append(args, filter.CustomerID)
		conditions = append(conditions, "o.customer_id = $"+strconv.Itoa(len(args)))
	}
	if filter.EstablishmentID != "" {
		args = append(args, filter.EstablishmentID)
		conditions = append(conditions, "o.establishment_id = $"+strconv.Itoa(len(args)))
	}

	query := orderSelect
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY o.created_at DESC, o.id DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	ids := make([]string, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	items, err := loadItems(ctx, r.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

// WithinOrderTx выполняет fn в транзакции REPEATABLE READ с повтором при конфликте сериализации.
func (r *OrderRepository) WithinOrderTx(ctx context.Context, fn func(ctx context.Context, tx domain.OrderTx) error) error {
	for attempt := 1; ; attempt++ {
		err := r.runTx(ctx, fn)
		if err == nil || !isRetryable(err) || attempt >= r.maxAttempts {
			return err
		}
		if r.onRetry != nil {
			r.onRetry(attempt, err)
		}

		timer := time.NewTimer(time.Duration(attempt) * retryBaseDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (r *OrderRepository) runTx(ctx context.Context, fn func(ctx context.Context, tx domain.OrderTx) error) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return fmt.Errorf("begin order tx: %w", err)
	}

	if err := fn(ctx, &orderTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit order tx: %w", err)
	}
	return nil
}

type orderTx struct {
	tx *sql.Tx
}

// ProductSnapshot берёт разделяемую блокировку строки продукта:
// до commit цену и существование продукта нельзя изменить.
func (t *orderTx) ProductSnapshot(ctx context.Context, productID string) (domain.ProductSnapshot, error) {
	var s domain.ProductSnapshot
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, establishment_id, price_minor
		FROM products
		WHERE id = $1
		FOR SHARE
	`, productID).Scan(&s.ID, &s.EstablishmentID, &s.PriceMinor)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ProductSnapshot{}, domain.ErrProductNotFound
		}
		return domain.ProductSnapshot{}, fmt.Errorf("select product snapshot: %w", err)
	}
	return s, nil
}

func (t *orderTx) InsertOrder(ctx context.Context, order domain.Order) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders (id, customer_id, establishment_id, status, total_minor, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, order.ID, order.CustomerID, order.EstablishmentID, string(order.Status), order.TotalMinor, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		switch {
		case isForeignKeyViolation(err):
			return domain.ErrEstablishmentNotFound
		case isUniqueViolation(err):
			return domain.NewError(domain.KindConflict, err, "order %s already exists", order.ID)
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for i, item := range order.Items {
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, position, quantity, unit_price_minor, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, item.ID, order.ID, item.ProductID, i, item.Quantity, item.UnitPriceMinor, item.CreatedAt); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

func (t *orderTx) LockOrder(ctx context.Context, id string) (domain.Order, error) {
	order, err := scanOrder(t.tx.QueryRowContext(ctx, orderSelect+` WHERE o.id = $1 FOR UPDATE OF o`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("lock order: %w", err)
	}

	items, err := loadItems(ctx, t.tx, []string{order.ID})
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items[order.ID]
	return order, nil
}

// UpdateOrderStatus меняет статус условным UPDATE: из двух конкурентных отмен успешна только одна.
func (t *orderTx) UpdateOrderStatus(ctx context.Context, id string, from, to domain.OrderStatus, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $3,
		    updated_at = $4
		WHERE id = $1
		  AND status = $2
	`, id, string(from), string(to), at)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := t.tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check order exists: %w", err)
	}
	if !exists {
		return domain.ErrOrderNotFound
	}
	return domain.ErrOrderNotCancellable
}

func (t *orderTx) Enqueue(ctx context.Context, msg domain.OutboxMessage) error {
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO outbox_messages (
			id, aggregate_type, aggregate_id, event_type, payload,
			status, attempt_count, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,'pending',0,$6,$7)
	`, msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, msg.CreatedAt, now)
	if err != nil {
		return fmt.Errorf("enqueue outbox message: %w", err)
	}
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order  domain.Order
		status string
	)
	if err := row.Scan(
		&order.ID, &order.CustomerID, &order.EstablishmentID, &order.EstablishmentName,
		&status, &order.TotalMinor, &order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	return order, nil
}

// loadItems загружает позиции для набора заказов одним запросом.
func loadItems(ctx context.Context, q queryer, orderIDs []string) (map[string][]domain.OrderItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price_minor, created_at
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]domain.OrderItem, len(orderIDs))
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.UnitPriceMinor, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		result[item.OrderID] = append(result[item.OrderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return result, nil
}

var (
	_ domain.OrderRepository = (*OrderRepository)(nil)
	_ domain.OrderTransactor = (*OrderRepository)(nil)
	_ domain.OrderTx         = (*orderTx)(nil)
)
