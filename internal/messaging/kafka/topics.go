package kafka

import (
	"encoding/json"
	"time"
)

const (
	// TopicOrderEvents: topic событий жизненного цикла заказов.
	TopicOrderEvents = "marketplace.order.events"
	// TopicOrderEventsDLQ: topic событий, которые не удалось опубликовать.
	TopicOrderEventsDLQ = "marketplace.order.events.dlq"
)

// Заголовки Kafka-сообщений.
const (
	HeaderEventType     = "x-event-type"
	HeaderOutboxID      = "x-outbox-id"
	HeaderAggregateType = "x-aggregate-type"
	HeaderReplayed      = "x-replayed"
)

// Envelope: формат value в topic событий заказов.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// Key возвращает ключ партиционирования: события одного заказа попадают в одну партицию.
func (e Envelope) Key() string {
	if e.AggregateID != "" {
		return e.AggregateID
	}
	return e.ID
}

func (e Envelope) headers() map[string]string {
	headers := map[string]string{
		HeaderEventType: e.EventType,
		HeaderOutboxID:  e.ID,
	}
	if e.AggregateType != "" {
		headers[HeaderAggregateType] = e.AggregateType
	}
	return headers
}
