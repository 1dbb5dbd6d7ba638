package order

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

const defaultIdempotencyTTL = 24 * time.Hour

// Metrics: хуки метрик сервиса заказов.
type Metrics interface {
	RecordOrderCreated(totalMinor int64)
	RecordOrderCancelled()
	RecordRejected(operation, kind string)
	RecordTxDuration(operation string, duration time.Duration)
	RecordIdempotentReplay()
}

type noopMetrics struct{}

func (noopMetrics) RecordOrderCreated(int64)               {}
func (noopMetrics) RecordOrderCancelled()                  {}
func (noopMetrics) RecordRejected(string, string)          {}
func (noopMetrics) RecordTxDuration(string, time.Duration) {}
func (noopMetrics) RecordIdempotentReplay()                {}

// Option настраивает Service.
type Option func(*Service)

// WithMetrics подключает метрики.
func WithMetrics(m Metrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithIdempotency включает идемпотентное создание заказов.
func WithIdempotency(store domain.IdempotencyStore, ttl time.Duration) Option {
	return func(s *Service) {
		s.idempotency = store
		if ttl > 0 {
			s.idempotencyTTL = ttl
		}
	}
}

// Service реализует создание, отмену и выборку заказов.
// Все записи выполняются внутри одной транзакции OrderTransactor.
type Service struct {
	orders     domain.OrderRepository
	transactor domain.OrderTransactor
	logger     *log.Entry
	metrics    Metrics

	idempotency    domain.IdempotencyStore
	idempotencyTTL time.Duration

	now func() time.Time
}

// NewService конструирует сервис заказов.
func NewService(orders domain.OrderRepository, transactor domain.OrderTransactor, logger *log.Entry, opts ...Option) *Service {
	if logger == nil {
		logger = log.WithField("component", "order-service")
	}
	s := &Service{
		orders:         orders,
		transactor:     transactor,
		logger:         logger,
		metrics:        noopMetrics{},
		idempotencyTTL: defaultIdempotencyTTL,
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrder создаёт заказ в статусе PENDING.
// Цены позиций фиксируются по состоянию продуктов внутри транзакции.
func (s *Service) CreateOrder(ctx context.Context, customerID, establishmentID string, lines []domain.OrderLine) (domain.Order, error) {
	order, err := s.createOrder(ctx, customerID, establishmentID, lines)
	if err != nil {
		s.reject("create", err)
		return domain.Order{}, err
	}

	s.metrics.RecordOrderCreated(order.TotalMinor)
	s.logger.WithFields(log.Fields{
		"order_id":         order.ID,
		"customer_id":      order.CustomerID,
		"establishment_id": order.EstablishmentID,
		"total_minor":      order.TotalMinor,
		"items":            len(order.Items),
	}).Info("order created")
	return order, nil
}

func (s *Service) createOrder(ctx context.Context, customerID, establishmentID string, lines []domain.OrderLine) (domain.Order, error) {
	customerID = strings.TrimSpace(customerID)
	establishmentID = strings.TrimSpace(establishmentID)
	if customerID == "" {
		return domain.Order{}, domain.ErrUnauthenticated
	}

	errs := domain.ValidateLines(lines)
	if establishmentID == "" {
		errs = append([]error{domain.ErrEstablishmentIDRequired}, errs...)
	}
	if err := domain.InvalidInput(errs); err != nil {
		return domain.Order{}, err
	}

	var created domain.Order
	started := time.Now()
	err := s.transactor.WithinOrderTx(ctx, func(ctx context.Context, tx domain.OrderTx) error {
		now := s.now()
		order := domain.Order{
			ID:              uuid.NewString(),
			CustomerID:      customerID,
			EstablishmentID: establishmentID,
			Status:          domain.OrderStatusPending,
			Items:           make([]domain.OrderItem, 0, len(lines)),
			CreatedAt:       now,
			UpdatedAt:       now,
		}

		for _, line := range lines {
			snapshot, err := tx.ProductSnapshot(ctx, line.ProductID)
			if errors.Is(err, domain.ErrProductNotFound) || (err == nil && snapshot.EstablishmentID != establishmentID) {
				return domain.NewError(domain.KindInvalidInput, domain.ErrInvalidOrderItem,
					"product %s is not valid for this establishment", line.ProductID)
			}
			if err != nil {
				return fmt.Errorf("read product %s: %w", line.ProductID, err)
			}

			lineTotal, err := domain.LineTotal(snapshot.PriceMinor, line.Quantity)
			if err != nil {
				return err
			}
			if order.TotalMinor, err = domain.AddMinor(order.TotalMinor, lineTotal); err != nil {
				return err
			}

			order.Items = append(order.Items, domain.OrderItem{
				ID:             uuid.NewString(),
				OrderID:        order.ID,
				ProductID:      snapshot.ID,
				Quantity:       line.Quantity,
				UnitPriceMinor: snapshot.PriceMinor,
				CreatedAt:      now,
			})
		}

		if err := domain.InvalidInput(order.ValidateInvariants()); err != nil {
			return err
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}

		msg, err := domain.NewOrderEventMessage(domain.EventOrderCreated, order, now)
		if err != nil {
			return err
		}
		if err := tx.Enqueue(ctx, msg); err != nil {
			return err
		}

		created = order
		return nil
	})
	s.metrics.RecordTxDuration("create", time.Since(started))
	if err != nil {
		return domain.Order{}, err
	}

	return created, nil
}

// CreateOrderIdempotent создаёт заказ с учётом ключа идемпотентности.
// Повторный запрос с тем же ключом возвращает ранее созданный заказ и replayed=true.
func (s *Service) CreateOrderIdempotent(ctx context.Context, key, customerID, establishmentID string, lines []domain.OrderLine) (domain.Order, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" || s.idempotency == nil {
		order, err := s.CreateOrder(ctx, customerID, establishmentID, lines)
		return order, false, err
	}
	if strings.TrimSpace(customerID) == "" {
		return domain.Order{}, false, domain.ErrUnauthenticated
	}

	// Ключ принадлежит клиенту: одинаковые ключи разных клиентов не пересекаются.
	scoped := customerID + ":" + key
	logger := s.logger.WithFields(log.Fields{"idempotency_key": key, "customer_id": customerID})

	existingID, err := s.idempotency.Reserve(ctx, scoped, requestFingerprint(establishmentID, lines), s.idempotencyTTL)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrIdempotencyHashMismatch):
			logger.Info("idempotency key reused with a different order")
		case !errors.Is(err, domain.ErrIdempotencyInFlight):
			logger.WithError(err).Error("failed to reserve idempotency key")
		}
		s.reject("create", err)
		return domain.Order{}, false, err
	}
	if existingID != "" {
		order, err := s.orders.Get(ctx, existingID)
		if err != nil {
			return domain.Order{}, false, err
		}
		s.metrics.RecordIdempotentReplay()
		logger.WithField("order_id", existingID).Debug("order creation replayed")
		return order, true, nil
	}

	order, err := s.CreateOrder(ctx, customerID, establishmentID, lines)
	if err != nil {
		if releaseErr := s.idempotency.Release(context.WithoutCancel(ctx), scoped); releaseErr != nil {
			logger.WithError(releaseErr).Warn("failed to release idempotency key")
		}
		return domain.Order{}, false, err
	}

	if err := s.idempotency.Complete(context.WithoutCancel(ctx), scoped, order.ID, s.idempotencyTTL); err != nil {
		// Заказ уже создан; повтор получит конфликт до истечения TTL.
		logger.WithError(err).WithField("order_id", order.ID).Warn("failed to complete idempotency key")
	}
	return order, false, nil
}

// requestFingerprint: отпечаток тела запроса на создание заказа.
// Порядок строк учитывается: он определяет позиции в заказе.
func requestFingerprint(establishmentID string, lines []domain.OrderLine) string {
	h := sha256.New()
	_, _ = fmt.Fprintf(h, "create-order:%s\n", strings.TrimSpace(establishmentID))
	for _, line := range lines {
		_, _ = fmt.Fprintf(h, "%s:%d\n", strings.TrimSpace(line.ProductID), line.Quantity)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CancelOrder отменяет заказ клиента, если он ещё в статусе PENDING.
func (s *Service) CancelOrder(ctx context.Context, orderID, customerID string) (domain.Order, error) {
	var cancelled domain.Order
	started := time.Now()
	err := s.transactor.WithinOrderTx(ctx, func(ctx context.Context, tx domain.OrderTx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := domain.AuthorizeOwner(customerID, order.CustomerID); err != nil {
			return err
		}

		now := s.now()
		if err := order.Cancel(now); err != nil {
			return err
		}
		if err := tx.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusPending, domain.OrderStatusCancelled, now); err != nil {
			return err
		}

		msg, err := domain.NewOrderEventMessage(domain.EventOrderCancelled, order, now)
		if err != nil {
			return err
		}
		if err := tx.Enqueue(ctx, msg); err != nil {
			return err
		}

		cancelled = order
		return nil
	})
	s.metrics.RecordTxDuration("cancel", time.Since(started))
	if err != nil {
		s.reject("cancel", err)
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id":    orderID,
			"customer_id": customerID,
		}).Debug("order cancellation rejected")
		return domain.Order{}, err
	}

	s.metrics.RecordOrderCancelled()
	s.logger.WithField("order_id", cancelled.ID).Info("order cancelled")
	return cancelled, nil
}

// ListOrders возвращает заказы по фильтру, новые первыми.
func (s *Service) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	orders, err := s.orders.List(ctx, filter)
	if err != nil {
		s.logger.WithError(err).Error("failed to list orders")
		return nil, err
	}
	return orders, nil
}

func (s *Service) reject(operation string, err error) {
	kind := domain.KindOf(err)
	s.metrics.RecordRejected(operation, string(kind))
	if kind == domain.KindUnexpected {
		s.logger.WithError(err).WithField("operation", operation).Error("order operation failed")
	}
}
