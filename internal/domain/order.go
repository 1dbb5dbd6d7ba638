package domain

import "time"

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending: единственный начальный статус.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusInPreparation: заведение приняло заказ в работу.
	OrderStatusInPreparation OrderStatus = "IN_PREPARATION"
	// OrderStatusCompleted: заказ выдан клиенту.
	OrderStatusCompleted OrderStatus = "COMPLETED"
	// OrderStatusCancelled: заказ отменён клиентом до начала приготовления.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

var validNext = map[OrderStatus]map[OrderStatus]bool{
	OrderStatusPending:       {OrderStatusInPreparation: true, OrderStatusCancelled: true},
	OrderStatusInPreparation: {OrderStatusCompleted: true},
	OrderStatusCompleted:     {},
	OrderStatusCancelled:     {},
}

// Valid проверяет, что статус известен.
func (s OrderStatus) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// CanTransition сообщает, допустим ли переход from -> to.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	return validNext[s][to]
}

// OrderItem: позиция заказа с ценой, зафиксированной на момент создания.
type OrderItem struct {
	ID        string
	OrderID   string
	ProductID string
	Quantity  int32
	// UnitPriceMinor не меняется после создания, даже если цена продукта изменится.
	UnitPriceMinor int64
	CreatedAt      time.Time
}

// Order агрегирует заказ и его позиции.
type Order struct {
	ID                string
	CustomerID        string
	EstablishmentID   string
	EstablishmentName string
	Status            OrderStatus
	TotalMinor        int64
	Items             []OrderItem
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// OrderLine: запрошенная клиентом позиция.
type OrderLine struct {
	ProductID string
	Quantity  int32
}

// OrderFilter ограничивает выборку заказов; пустые поля не фильтруют.
type OrderFilter struct {
	EstablishmentID string
	CustomerID      string
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if o.EstablishmentID == "" {
		errs = append(errs, ErrEstablishmentIDRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.TotalMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	// Сверяем сумму заказа с суммой позиций: qty * price.
	var calc int64
	for _, item := range o.Items {
		line, err := LineTotal(item.UnitPriceMinor, item.Quantity)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if calc, err = AddMinor(calc, line); err != nil {
			errs = append(errs, err)
		}
	}
	if calc != o.TotalMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// Cancel переводит заказ в CANCELLED, если это допустимо.
func (o *Order) Cancel(now time.Time) error {
	if !o.Status.CanTransition(OrderStatusCancelled) {
		return ErrOrderNotCancellable
	}
	o.Status = OrderStatusCancelled
	o.UpdatedAt = now
	return nil
}

// ValidateLines проверяет запрос на создание заказа до открытия транзакции.
func ValidateLines(lines []OrderLine) []error {
	var errs []error

	if len(lines) == 0 {
		return append(errs, ErrItemsRequired)
	}
	for i, line := range lines {
		if line.ProductID == "" {
			errs = append(errs, NewError(KindInvalidInput, nil, "items[%d].product_id is required", i))
		}
		if line.Quantity <= 0 {
			errs = append(errs, NewError(KindInvalidInput, ErrItemQtyInvalid, "items[%d].quantity must be greater than zero", i))
		}
	}

	return errs
}
