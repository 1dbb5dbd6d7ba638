package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// Store: общее in-memory состояние для всех репозиториев.
// Один мьютекс нужен, чтобы транзакция заказа видела согласованные продукты и заказы.
type Store struct {
	mu             sync.RWMutex
	establishments map[string]domain.Establishment
	products       map[string]domain.Product
	orders         map[string]domain.Order
	outbox         map[string]*outboxRecord
}

// NewStore создаёт пустое хранилище для локальной разработки и тестов.
func NewStore() *Store {
	return &Store{
		establishments: make(map[string]domain.Establishment),
		products:       make(map[string]domain.Product),
		orders:         make(map[string]domain.Order),
		outbox:         make(map[string]*outboxRecord),
	}
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = append([]domain.OrderItem(nil), src.Items...)
	return dst
}
