package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

const idempotencyPending = ""

type idempotencyEntry struct {
	requestHash string
	orderID     string
	ttlAt       time.Time
}

// IdempotencyStore: in-memory хранилище ключей идемпотентности.
type IdempotencyStore struct {
	mu    sync.Mutex
	items map[string]idempotencyEntry
	now   func() time.Time
}

// NewIdempotencyStore создаёт in-memory реализацию IdempotencyStore.
// Просроченные ключи удаляются лениво при обращении.
func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{
		items: make(map[string]idempotencyEntry),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *IdempotencyStore) Reserve(_ context.Context, key, requestHash string, ttl time.Duration) (string, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)
	if key == "" {
		return "", domain.NewError(domain.KindInvalidInput, nil, "idempotency key is required")
	}
	if requestHash == "" {
		return "", domain.ErrIdempotencyHashRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if entry, ok := s.items[key]; ok && entry.ttlAt.After(now) {
		if entry.requestHash != requestHash {
			return "", domain.ErrIdempotencyHashMismatch
		}
		if entry.orderID == idempotencyPending {
			return "", domain.ErrIdempotencyInFlight
		}
		return entry.orderID, nil
	}

	s.items[key] = idempotencyEntry{requestHash: requestHash, orderID: idempotencyPending, ttlAt: now.Add(ttl)}
	return "", nil
}

// Complete связывает занятый ключ с заказом; отпечаток запроса сохраняется.
func (s *IdempotencyStore) Complete(_ context.Context, key, orderID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key = strings.TrimSpace(key)
	entry, ok := s.items[key]
	if !ok {
		return domain.NewError(domain.KindNotFound, nil, "idempotency key %s not found", key)
	}
	entry.orderID = orderID
	entry.ttlAt = s.now().Add(ttl)
	s.items[key] = entry
	return nil
}

func (s *IdempotencyStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key = strings.TrimSpace(key)
	if entry, ok := s.items[key]; ok && entry.orderID == idempotencyPending {
		delete(s.items, key)
	}
	return nil
}

// DeleteExpired удаляет до limit ключей с ttl <= before (limit<=0: все).
func (s *IdempotencyStore) DeleteExpired(_ context.Context, before time.Time, limit int) (domain.IdempotencyPurge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purge domain.IdempotencyPurge
	for key, entry := range s.items {
		if limit > 0 && purge.Total() >= limit {
			break
		}
		if entry.ttlAt.After(before) {
			continue
		}
		delete(s.items, key)
		if entry.orderID == idempotencyPending {
			purge.Abandoned++
		} else {
			purge.Completed++
		}
	}
	return purge, nil
}

var (
	_ domain.IdempotencyStore  = (*IdempotencyStore)(nil)
	_ domain.IdempotencyPurger = (*IdempotencyStore)(nil)
)
