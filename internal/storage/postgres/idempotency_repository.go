package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// IdempotencyStore хранит ключи идемпотентности в таблице idempotency_keys.
type IdempotencyStore struct {
	db *sql.DB
}

// NewIdempotencyStore создаёт PostgreSQL-реализацию IdempotencyStore.
// Используется, когда Redis не настроен; просроченные ключи удаляет cleanup worker.
func NewIdempotencyStore(store *Store) *IdempotencyStore {
	return &IdempotencyStore{db: store.DB()}
}

func (r *IdempotencyStore) Reserve(ctx context.Context, key, requestHash string, ttl time.Duration) (string, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)
	if key == "" {
		return "", domain.NewError(domain.KindInvalidInput, nil, "idempotency key is required")
	}
	if requestHash == "" {
		return "", domain.ErrIdempotencyHashRequired
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	// Просроченный ключ перезанимается тем же INSERT.
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (key, request_hash, order_id, ttl_at, created_at, updated_at)
		VALUES ($1, $2, NULL, $3, $4, $4)
		ON CONFLICT (key) DO UPDATE
		SET request_hash = EXCLUDED.request_hash,
		    order_id = NULL,
		    ttl_at = EXCLUDED.ttl_at,
		    created_at = EXCLUDED.created_at,
		    updated_at = EXCLUDED.updated_at
		WHERE idempotency_keys.ttl_at <= $4
	`, key, requestHash, now.Add(ttl), now)
	if err != nil {
		return "", fmt.Errorf("reserve idempotency key: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("idempotency rows affected: %w", err)
	}
	if affected > 0 {
		return "", nil
	}

	var (
		storedHash string
		orderID    sql.NullString
	)
	err = r.db.QueryRowContext(ctx, `SELECT request_hash, order_id FROM idempotency_keys WHERE key = $1`, key).
		Scan(&storedHash, &orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Ключ удалили между INSERT и SELECT: считаем, что он ещё занят.
			return "", domain.ErrIdempotencyInFlight
		}
		return "", fmt.Errorf("get idempotency key: %w", err)
	}
	if storedHash != requestHash {
		return "", domain.ErrIdempotencyHashMismatch
	}
	if !orderID.Valid {
		return "", domain.ErrIdempotencyInFlight
	}
	return orderID.String, nil
}

func (r *IdempotencyStore) Complete(ctx context.Context, key, orderID string, ttl time.Duration) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET order_id = $2,
		    ttl_at = $3,
		    updated_at = $4
		WHERE key = $1
	`, strings.TrimSpace(key), orderID, now.Add(ttl), now)
	if err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	return expectAffected(res, domain.NewError(domain.KindNotFound, nil, "idempotency key %s not found", key))
}

func (r *IdempotencyStore) Release(ctx context.Context, key string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		DELETE FROM idempotency_keys
		WHERE key = $1
		  AND order_id IS NULL
	`, strings.TrimSpace(key)); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// DeleteExpired удаляет до limit просроченных ключей (limit<=0: все).
func (r *IdempotencyStore) DeleteExpired(ctx context.Context, before time.Time, limit int) (domain.IdempotencyPurge, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	// Без лимита подзапрос берёт все просроченные ключи.
	var batch sql.NullInt64
	if limit > 0 {
		batch = sql.NullInt64{Int64: int64(limit), Valid: true}
	}

	var purge domain.IdempotencyPurge
	err := r.db.QueryRowContext(ctx, `
		WITH deleted AS (
			DELETE FROM idempotency_keys
			WHERE key IN (
				SELECT key
				FROM idempotency_keys
				WHERE ttl_at <= $1
				ORDER BY ttl_at ASC
				LIMIT $2
			)
			RETURNING order_id
		)
		SELECT
			COUNT(*) FILTER (WHERE order_id IS NOT NULL),
			COUNT(*) FILTER (WHERE order_id IS NULL)
		FROM deleted
	`, before, batch).Scan(&purge.Completed, &purge.Abandoned)
	if err != nil {
		return domain.IdempotencyPurge{}, fmt.Errorf("delete expired idempotency keys: %w", err)
	}
	return purge, nil
}

var (
	_ domain.IdempotencyStore  = (*IdempotencyStore)(nil)
	_ domain.IdempotencyPurger = (*IdempotencyStore)(nil)
)
