package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// AggregateOrder: тип агрегата для событий заказа в outbox.
	AggregateOrder = "order"

	EventOrderCreated   = "order.created"
	EventOrderCancelled = "order.cancelled"
)

// OrderEvent: полезная нагрузка событий заказа.
type OrderEvent struct {
	EventType       string           `json:"event_type"`
	OrderID         string           `json:"order_id"`
	CustomerID      string           `json:"customer_id"`
	EstablishmentID string           `json:"establishment_id"`
	Status          string           `json:"status"`
	TotalMinor      int64            `json:"total_minor"`
	Items           []OrderEventItem `json:"items,omitempty"`
	OccurredAt      time.Time        `json:"occurred_at"`
}

// OrderEventItem: позиция заказа в событии.
type OrderEventItem struct {
	ProductID      string `json:"product_id"`
	Quantity       int32  `json:"quantity"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
}

// NewOrderEventMessage сериализует событие заказа в сообщение outbox.
func NewOrderEventMessage(eventType string, order Order, at time.Time) (OutboxMessage, error) {
	event := OrderEvent{
		EventType:       eventType,
		OrderID:         order.ID,
		CustomerID:      order.CustomerID,
		EstablishmentID: order.EstablishmentID,
		Status:          string(order.Status),
		TotalMinor:      order.TotalMinor,
		OccurredAt:      at,
	}
	for _, item := range order.Items {
		event.Items = append(event.Items, OrderEventItem{
			ProductID:      item.ProductID,
			Quantity:       item.Quantity,
			UnitPriceMinor: item.UnitPriceMinor,
		})
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	return OutboxMessage{
		ID:            uuid.NewString(),
		AggregateType: AggregateOrder,
		AggregateID:   order.ID,
		EventType:     eventType,
		Payload:       payload,
		CreatedAt:     at,
	}, nil
}
