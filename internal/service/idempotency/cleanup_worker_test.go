package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/memory"
)

var _ domain.IdempotencyPurger = (*stubPurger)(nil)

func purgedCount(t *testing.T, state string) float64 {
	t.Helper()

	metric := &dto.Metric{}
	require.NoError(t, purgedKeysTotal.WithLabelValues(state).Write(metric))
	return metric.GetCounter().GetValue()
}

func TestCleanupWorker_Purge_Batches(t *testing.T) {
	t.Parallel()

	purger := &stubPurger{results: []domain.IdempotencyPurge{
		{Completed: 2},
		{Completed: 1, Abandoned: 1},
		{Abandoned: 1},
	}}
	worker := NewCleanupWorker(purger, WithBatchSize(2))

	purge, err := worker.Purge(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyPurge{Completed: 3, Abandoned: 2}, purge)
	require.Equal(t, 3, purger.calls())
}

func TestCleanupWorker_Purge_Error(t *testing.T) {
	t.Parallel()

	purger := &stubPurger{
		results: []domain.IdempotencyPurge{{Completed: 10}},
		errs:    []error{nil, errors.New("boom")},
	}
	worker := NewCleanupWorker(purger, WithBatchSize(10))

	purge, err := worker.Purge(context.Background(), time.Now().UTC())
	require.Error(t, err)
	require.Equal(t, 10, purge.Total(), "already deleted batches are reported")
}

func TestCleanupWorker_Purge_MemoryStoreSeparatesAbandoned(t *testing.T) {
	t.Parallel()

	store := memory.NewIdempotencyStore()
	ctx := context.Background()
	for _, key := range []string{"c1:a", "c1:b", "c1:c"} {
		_, err := store.Reserve(ctx, key, "hash", -time.Minute)
		require.NoError(t, err)
	}
	require.NoError(t, store.Complete(ctx, "c1:c", "order-c", -time.Minute))
	_, err := store.Reserve(ctx, "c1:live", "hash", time.Hour)
	require.NoError(t, err)

	worker := NewCleanupWorker(store, WithBatchSize(2))
	purge, err := worker.Purge(ctx, time.Time{})
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyPurge{Completed: 1, Abandoned: 2}, purge)

	_, err = store.Reserve(ctx, "c1:live", "hash", time.Hour)
	require.ErrorIs(t, err, domain.ErrIdempotencyInFlight)
}

// Не параллельный: сверяет приращения глобальных счётчиков.
func TestCleanupWorker_RunOnce_WarnsAboutAbandonedReservations(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	completedBefore := purgedCount(t, stateCompleted)
	abandonedBefore := purgedCount(t, stateAbandoned)

	worker := NewCleanupWorker(
		&stubPurger{results: []domain.IdempotencyPurge{{Completed: 1, Abandoned: 2}}},
		WithLogger(logger.WithField("test", "cleanup")),
		WithBatchSize(10),
	)
	worker.runOnce(context.Background(), time.Now().UTC())

	require.InDelta(t, 1, purgedCount(t, stateCompleted)-completedBefore, 1e-9)
	require.InDelta(t, 2, purgedCount(t, stateAbandoned)-abandonedBefore, 1e-9)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	require.Equal(t, logrus.WarnLevel, entry.Level)
	require.Equal(t, 2, entry.Data["abandoned"])
	require.Equal(t, 1, entry.Data["completed"])

	hook.Reset()
	worker = NewCleanupWorker(
		&stubPurger{results: []domain.IdempotencyPurge{{Completed: 3}}},
		WithLogger(logger.WithField("test", "cleanup")),
		WithBatchSize(10),
	)
	worker.runOnce(context.Background(), time.Now().UTC())
	require.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)

	hook.Reset()
	worker = NewCleanupWorker(&stubPurger{}, WithLogger(logger.WithField("test", "cleanup")))
	worker.runOnce(context.Background(), time.Now().UTC())
	require.Empty(t, hook.AllEntries(), "empty run stays silent")
}

func TestCleanupWorker_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	purger := &stubPurger{}
	worker := NewCleanupWorker(
		purger,
		WithInterval(5*time.Millisecond),
		WithBatchSize(10),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}

	require.NotZero(t, purger.calls(), "cleanup must run at least once")
}

func TestCleanupWorker_Run_NilPurger(t *testing.T) {
	t.Parallel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		NewCleanupWorker(nil).Run(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker without purger must return immediately")
	}
}

type stubPurger struct {
	mu sync.Mutex

	results   []domain.IdempotencyPurge
	errs      []error
	callCount int
}

func (s *stubPurger) DeleteExpired(_ context.Context, _ time.Time, _ int) (domain.IdempotencyPurge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callCount++

	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return domain.IdempotencyPurge{}, err
		}
	}

	if len(s.results) == 0 {
		return domain.IdempotencyPurge{}, nil
	}
	result := s.results[0]
	s.results = s.results[1:]
	return result, nil
}

func (s *stubPurger) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}
