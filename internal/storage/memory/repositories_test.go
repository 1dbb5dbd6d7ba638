package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/memory"
)

func TestEstablishmentRepository_ListActiveSkipsDeactivated(t *testing.T) {
	store := memory.NewStore()
	repo := memory.NewEstablishmentRepository(store)
	ctx := context.Background()

	seedEstablishment(t, store, "est-1", "owner-1")
	seedEstablishment(t, store, "est-2", "owner-1")

	e, err := repo.Get(ctx, "est-2")
	require.NoError(t, err)
	e.Active = false
	e.OwnerID = "someone-else"
	require.NoError(t, repo.Save(ctx, e))

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "est-1", active[0].ID)

	stored, err := repo.Get(ctx, "est-2")
	require.NoError(t, err)
	require.False(t, stored.Active)
	require.Equal(t, "owner-1", stored.OwnerID, "Save must not change the owner")

	_, err = repo.Get(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrEstablishmentNotFound)
}

func TestProductRepository_CRUD(t *testing.T) {
	store := memory.NewStore()
	seedEstablishment(t, store, "est-1", "owner-1")
	repo := memory.NewProductRepository(store)
	ctx := context.Background()
	now := time.Now().UTC()

	product := domain.Product{ID: "p-1", EstablishmentID: "est-1", Name: "Latte", PriceMinor: 450, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, repo.Create(ctx, product))

	orphan := product
	orphan.ID = "p-2"
	orphan.EstablishmentID = "missing"
	require.ErrorIs(t, repo.Create(ctx, orphan), domain.ErrEstablishmentNotFound)

	got, owner, err := repo.GetWithOwner(ctx, "p-1")
	require.NoError(t, err)
	require.Equal(t, "owner-1", owner)
	require.Equal(t, "Cafe est-1", got.EstablishmentName)

	got.PriceMinor = 500
	require.NoError(t, repo.Save(ctx, got))

	listed, err := repo.ListByEstablishment(ctx, "est-1")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, int64(500), listed[0].PriceMinor)

	require.NoError(t, repo.Delete(ctx, "p-1"))
	require.ErrorIs(t, repo.Delete(ctx, "p-1"), domain.ErrProductNotFound)
	_, err = repo.Get(ctx, "p-1")
	require.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestIdempotencyStore_ReserveCompleteRelease(t *testing.T) {
	store := memory.NewIdempotencyStore()
	ctx := context.Background()

	existing, err := store.Reserve(ctx, "key-1", "hash-a", time.Hour)
	require.NoError(t, err)
	require.Empty(t, existing)

	_, err = store.Reserve(ctx, "key-1", "hash-a", time.Hour)
	require.ErrorIs(t, err, domain.ErrIdempotencyInFlight)

	require.NoError(t, store.Complete(ctx, "key-1", "order-1", time.Hour))
	existing, err = store.Reserve(ctx, "key-1", "hash-a", time.Hour)
	require.NoError(t, err)
	require.Equal(t, "order-1", existing)

	_, err = store.Reserve(ctx, "key-2", "hash-b", time.Hour)
	require.NoError(t, err)
	require.NoError(t, store.Release(ctx, "key-2"))
	existing, err = store.Reserve(ctx, "key-2", "hash-b", time.Hour)
	require.NoError(t, err)
	require.Empty(t, existing)

	_, err = store.Reserve(ctx, " ", "hash-a", time.Hour)
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = store.Reserve(ctx, "key-3", " ", time.Hour)
	require.ErrorIs(t, err, domain.ErrIdempotencyHashRequired)

	require.ErrorIs(t, store.Complete(ctx, "unknown", "order-x", time.Hour), domain.ErrNotFound)
}

func TestIdempotencyStore_HashMismatch(t *testing.T) {
	store := memory.NewIdempotencyStore()
	ctx := context.Background()

	_, err := store.Reserve(ctx, "key-1", "hash-a", time.Hour)
	require.NoError(t, err)

	// Другой запрос с тем же ключом отклоняется и пока ключ занят, и после завершения.
	_, err = store.Reserve(ctx, "key-1", "hash-b", time.Hour)
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
	require.Equal(t, domain.KindConflict, domain.KindOf(err))

	require.NoError(t, store.Complete(ctx, "key-1", "order-1", time.Hour))
	existing, err := store.Reserve(ctx, "key-1", "hash-b", time.Hour)
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
	require.Empty(t, existing)

	existing, err = store.Reserve(ctx, "key-1", "hash-a", time.Hour)
	require.NoError(t, err)
	require.Equal(t, "order-1", existing)
}

func TestIdempotencyStore_ExpiredKeyCanBeReused(t *testing.T) {
	store := memory.NewIdempotencyStore()
	ctx := context.Background()

	_, err := store.Reserve(ctx, "key-1", "hash-a", -time.Second)
	require.NoError(t, err)

	// После истечения ключ свободен и для другого запроса.
	existing, err := store.Reserve(ctx, "key-1", "hash-b", time.Hour)
	require.NoError(t, err)
	require.Empty(t, existing)
}

func TestIdempotencyStore_DeleteExpiredAndReleaseKeepsCompleted(t *testing.T) {
	store := memory.NewIdempotencyStore()
	ctx := context.Background()

	for _, key := range []string{"old-1", "old-2", "old-3"} {
		_, err := store.Reserve(ctx, key, "hash-"+key, -time.Minute)
		require.NoError(t, err)
	}
	require.NoError(t, store.Complete(ctx, "old-3", "order-3", -time.Minute))
	_, err := store.Reserve(ctx, "fresh", "hash-fresh", time.Hour)
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, "fresh", "order-9", time.Hour))

	first, err := store.DeleteExpired(ctx, time.Now().UTC(), 2)
	require.NoError(t, err)
	require.Equal(t, 2, first.Total())

	second, err := store.DeleteExpired(ctx, time.Now().UTC(), 0)
	require.NoError(t, err)
	require.Equal(t, 1, second.Total())

	require.Equal(t, 2, first.Abandoned+second.Abandoned)
	require.Equal(t, 1, first.Completed+second.Completed)

	require.NoError(t, store.Release(ctx, "fresh"))
	existing, err := store.Reserve(ctx, "fresh", "hash-fresh", time.Hour)
	require.NoError(t, err)
	require.Equal(t, "order-9", existing)
}

func TestOutboxRepository_MarkAndStats(t *testing.T) {
	store := memory.NewStore()
	seedEstablishment(t, store, "est-1", "owner-1")
	orders := memory.NewOrderRepository(store)
	outbox := memory.NewOutboxRepository(store)
	ctx := context.Background()

	require.NoError(t, orders.WithinOrderTx(ctx, func(ctx context.Context, tx domain.OrderTx) error {
		for _, id := range []string{"evt-1", "evt-2"} {
			if err := tx.Enqueue(ctx, domain.OutboxMessage{ID: id}); err != nil {
				return err
			}
		}
		return nil
	}))

	stats, err := outbox.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats.PendingCount)
	require.False(t, stats.OldestPendingAt.IsZero())

	require.NoError(t, outbox.MarkSent(ctx, "evt-1"))
	require.NoError(t, outbox.MarkFailed(ctx, "evt-2"))
	require.ErrorIs(t, outbox.MarkSent(ctx, "missing"), domain.ErrNotFound)

	pending, err := outbox.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}
