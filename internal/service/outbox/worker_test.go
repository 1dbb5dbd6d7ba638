package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/memory"
)

func orderCreatedMessage(t *testing.T, orderID string) domain.OutboxMessage {
	t.Helper()
	msg, err := domain.NewOrderEventMessage(domain.EventOrderCreated, domain.Order{
		ID:              orderID,
		CustomerID:      "customer-1",
		EstablishmentID: "est-1",
		Status:          domain.OrderStatusPending,
		TotalMinor:      2500,
	}, time.Now().UTC())
	require.NoError(t, err)
	return msg
}

func TestWorker_ProcessOnce_MarkSent(t *testing.T) {
	t.Parallel()

	msg := orderCreatedMessage(t, "order-1")
	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{msg}}
	publisher := &stubPublisher{}

	worker := NewWorker(repo, publisher, WithRetryBaseDelay(0), WithMaxAttempts(3))

	require.Equal(t, 1, worker.ProcessOnce(context.Background()))
	require.Equal(t, []string{msg.ID}, repo.sentIDs)
	require.Empty(t, repo.failedIDs)
	require.Equal(t, 1, publisher.calls())
}

func TestWorker_ProcessOnce_MarkFailedAndDeadLetterAfterRetries(t *testing.T) {
	t.Parallel()

	msg := orderCreatedMessage(t, "order-2")
	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{msg}}
	publisher := &stubPublisher{err: errors.New("broker unavailable")}
	dlq := &stubPublisher{}

	worker := NewWorker(repo, publisher, WithDeadLetter(dlq), WithRetryBaseDelay(0), WithMaxAttempts(3))

	require.Zero(t, worker.ProcessOnce(context.Background()))
	require.Equal(t, 3, publisher.calls())
	require.Empty(t, repo.sentIDs)
	require.Equal(t, []string{msg.ID}, repo.failedIDs)
	require.Equal(t, 1, dlq.calls())

	var letter deadLetter
	require.NoError(t, json.Unmarshal(dlq.last.Payload, &letter))
	require.Equal(t, "order-2", letter.AggregateID)
	require.Contains(t, letter.PublishError, "broker unavailable")
	require.JSONEq(t, string(msg.Payload), string(letter.Payload))
}

func TestWorker_ProcessOnce_SuccessAfterRetry(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{orderCreatedMessage(t, "order-3")}}
	publisher := &stubPublisher{
		sequenceErrors: []error{errors.New("attempt 1"), errors.New("attempt 2"), nil},
	}

	worker := NewWorker(repo, publisher, WithRetryBaseDelay(0), WithMaxAttempts(3))
	worker.ProcessOnce(context.Background())

	require.Equal(t, 3, publisher.calls())
	require.Len(t, repo.sentIDs, 1)
	require.Empty(t, repo.failedIDs)
}

func TestWorker_ProcessOnce_CancelledContextKeepsPending(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{orderCreatedMessage(t, "order-4")}}
	publisher := &stubPublisher{err: errors.New("broker unavailable")}

	worker := NewWorker(repo, publisher, WithRetryBaseDelay(time.Second), WithMaxAttempts(5))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.Zero(t, worker.ProcessOnce(ctx))
	require.Empty(t, repo.failedIDs)
	require.Empty(t, repo.sentIDs)
}

func TestWorker_RetryBackoffIsCapped(t *testing.T) {
	worker := NewWorker(nil, nil, WithRetryBaseDelay(100*time.Millisecond))

	require.Equal(t, 100*time.Millisecond, worker.retryBackoff(1))
	require.Equal(t, 200*time.Millisecond, worker.retryBackoff(2))
	require.Equal(t, 400*time.Millisecond, worker.retryBackoff(3))
	require.Equal(t, maxRetryDelay, worker.retryBackoff(40))
}

func TestWorker_DrainsMemoryOutbox(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()
	now := time.Now().UTC()
	require.NoError(t, memory.NewEstablishmentRepository(store).Create(ctx, domain.Establishment{
		ID: "est-1", OwnerID: "owner", Name: "Cafe", Active: true, CreatedAt: now, UpdatedAt: now,
	}))

	orders := memory.NewOrderRepository(store)
	err := orders.WithinOrderTx(ctx, func(ctx context.Context, tx domain.OrderTx) error {
		order := domain.Order{ID: "order-5", CustomerID: "c", EstablishmentID: "est-1", Status: domain.OrderStatusPending, CreatedAt: now}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		return tx.Enqueue(ctx, orderCreatedMessage(t, order.ID))
	})
	require.NoError(t, err)

	repo := memory.NewOutboxRepository(store)
	publisher := &stubPublisher{}
	worker := NewWorker(repo, publisher, WithRetryBaseDelay(0))

	require.Equal(t, 1, worker.ProcessOnce(ctx))
	require.Zero(t, worker.ProcessOnce(ctx))

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.PendingCount)
	require.Equal(t, "order-5", publisher.last.AggregateID)
}

func TestWorker_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	worker := NewWorker(&stubOutboxRepo{}, &stubPublisher{}, WithPollInterval(5*time.Millisecond), WithRetryBaseDelay(0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(15 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

type stubOutboxRepo struct {
	mu        sync.Mutex
	pending   []domain.OutboxMessage
	sentIDs   []string
	failedIDs []string
}

func (s *stubOutboxRepo) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit >= len(s.pending) {
		return append([]domain.OutboxMessage(nil), s.pending...), nil
	}
	return append([]domain.OutboxMessage(nil), s.pending[:limit]...), nil
}

func (s *stubOutboxRepo) Stats(context.Context) (domain.OutboxStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := domain.OutboxStats{PendingCount: len(s.pending)}
	if len(s.pending) > 0 {
		stats.OldestPendingAt = time.Now().UTC().Add(-time.Second)
	}
	return stats, nil
}

func (s *stubOutboxRepo) MarkSent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentIDs = append(s.sentIDs, id)
	return nil
}

func (s *stubOutboxRepo) MarkFailed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedIDs = append(s.failedIDs, id)
	return nil
}

type stubPublisher struct {
	mu             sync.Mutex
	err            error
	sequenceErrors []error
	callCount      int
	last           domain.OutboxMessage
}

func (s *stubPublisher) Publish(_ context.Context, msg domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callCount++
	s.last = msg
	if len(s.sequenceErrors) > 0 {
		err := s.sequenceErrors[0]
		s.sequenceErrors = s.sequenceErrors[1:]
		return err
	}
	return s.err
}

func (s *stubPublisher) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}

var (
	_ domain.OutboxRepository = (*stubOutboxRepo)(nil)
	_ domain.OutboxPublisher  = (*stubPublisher)(nil)
)
