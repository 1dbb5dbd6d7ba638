// Package redis хранит ключи идемпотентности создания заказов в Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

const (
	keyOrderCreate = "marketplace:idem:order:create:%s"
	pendingMarker  = "__pending__"
	// Значение ключа: "<отпечаток запроса>|<order_id или pendingMarker>".
	valueSeparator = "|"
	defaultTTL     = 24 * time.Hour
	dialTimeout    = 2 * time.Second
)

// releasePending удаляет ключ, только пока он не связан с заказом.
var releasePending = goredis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current and string.sub(current, -string.len(ARGV[1])) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// completePending записывает заказ, сохраняя отпечаток запроса из резерва.
var completePending = goredis.NewScript(`
local current = redis.call("GET", KEYS[1])
if not current then
	return 0
end
local sep = string.find(current, ARGV[3], 1, true)
if not sep then
	return 0
end
redis.call("SET", KEYS[1], string.sub(current, 1, sep) .. ARGV[1], "PX", ARGV[2])
return 1
`)

// NewClient создаёт клиент Redis с короткими таймаутами.
func NewClient(addr string) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:         addr,
		DialTimeout:  dialTimeout,
		ReadTimeout:  dialTimeout,
		WriteTimeout: dialTimeout,
	})
}

// IdempotencyStore реализует domain.IdempotencyStore поверх Redis.
// Просроченные ключи удаляет сам Redis по TTL.
type IdempotencyStore struct {
	client goredis.UniversalClient
}

// NewIdempotencyStore создаёт хранилище ключей идемпотентности.
func NewIdempotencyStore(client goredis.UniversalClient) *IdempotencyStore {
	return &IdempotencyStore{client: client}
}

// Ping проверяет доступность Redis.
func (s *IdempotencyStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *IdempotencyStore) Reserve(ctx context.Context, key, requestHash string, ttl time.Duration) (string, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)
	if key == "" {
		return "", domain.NewError(domain.KindInvalidInput, nil, "idempotency key is required")
	}
	if requestHash == "" {
		return "", domain.ErrIdempotencyHashRequired
	}
	redisKey := fmt.Sprintf(keyOrderCreate, key)

	// Второй проход нужен, если ключ истёк между SETNX и GET.
	for range 2 {
		reserved, err := s.client.SetNX(ctx, redisKey, requestHash+valueSeparator+pendingMarker, normalizeTTL(ttl)).Result()
		if err != nil {
			return "", fmt.Errorf("reserve idempotency key: %w", err)
		}
		if reserved {
			return "", nil
		}

		value, err := s.client.Get(ctx, redisKey).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("read idempotency key: %w", err)
		}

		storedHash, state, ok := strings.Cut(value, valueSeparator)
		if !ok {
			return "", fmt.Errorf("malformed idempotency value for key %s", key)
		}
		if storedHash != requestHash {
			return "", domain.ErrIdempotencyHashMismatch
		}
		if state == pendingMarker {
			return "", domain.ErrIdempotencyInFlight
		}
		return state, nil
	}

	return "", domain.ErrIdempotencyInFlight
}

func (s *IdempotencyStore) Complete(ctx context.Context, key, orderID string, ttl time.Duration) error {
	key = strings.TrimSpace(key)
	redisKey := fmt.Sprintf(keyOrderCreate, key)
	updated, err := completePending.Run(ctx, s.client, []string{redisKey},
		orderID, normalizeTTL(ttl).Milliseconds(), valueSeparator).Int()
	if err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	if updated == 0 {
		return domain.NewError(domain.KindNotFound, nil, "idempotency key %s not found", key)
	}
	return nil
}

func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	redisKey := fmt.Sprintf(keyOrderCreate, strings.TrimSpace(key))
	if err := releasePending.Run(ctx, s.client, []string{redisKey}, valueSeparator+pendingMarker).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// SET с отрицательным TTL в go-redis означает KEEPTTL, поэтому такие значения заменяются.
func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return defaultTTL
	}
	return ttl
}

var _ domain.IdempotencyStore = (*IdempotencyStore)(nil)
