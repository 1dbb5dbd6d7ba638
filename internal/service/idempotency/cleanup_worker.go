// Package idempotency обслуживает ключи идемпотентности создания заказов.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500

	stateCompleted = "completed"
	stateAbandoned = "abandoned"
)

var (
	cleanupRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_idempotency_cleanup_runs_total",
		Help: "Idempotency cleanup runs grouped by result.",
	}, []string{"result"})
	purgedKeysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_idempotency_purged_keys_total",
		Help: "Expired order idempotency keys removed, by state: completed (bound to an order) or abandoned (reservation never got an order).",
	}, []string{"state"})
	lastAbandonedKeys = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marketplace_idempotency_last_abandoned_keys",
		Help: "Abandoned order reservations found during the last cleanup run.",
	})
)

// CleanupOptions задаёт параметры воркера очистки.
type CleanupOptions struct {
	Logger    *log.Entry
	Interval  time.Duration
	BatchSize int
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupOptions)

func WithLogger(logger *log.Entry) CleanupOption {
	return func(opts *CleanupOptions) { opts.Logger = logger }
}

func WithInterval(interval time.Duration) CleanupOption {
	return func(opts *CleanupOptions) { opts.Interval = interval }
}

func WithBatchSize(batchSize int) CleanupOption {
	return func(opts *CleanupOptions) { opts.BatchSize = batchSize }
}

// CleanupWorker удаляет истёкшие ключи идемпотентности заказов там, где у хранилища
// нет своего TTL (memory, PostgreSQL). Брошенные резервы, то есть ключи, которые
// истекли без заказа, учитываются отдельно: каждый из них означает оборванное создание
// заказа, повтор которого клиент получал как 409 до истечения ключа.
type CleanupWorker struct {
	purger    domain.IdempotencyPurger
	logger    *log.Entry
	interval  time.Duration
	batchSize int
}

// NewCleanupWorker создаёт воркер поверх purger.
func NewCleanupWorker(purger domain.IdempotencyPurger, options ...CleanupOption) *CleanupWorker {
	opts := CleanupOptions{Interval: defaultCleanupInterval, BatchSize: defaultCleanupBatchSize}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "idempotency-cleanup-worker")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultCleanupInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultCleanupBatchSize
	}

	return &CleanupWorker{
		purger:    purger,
		logger:    opts.Logger,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
	}
}

// Run чистит ключи сразу и затем каждые interval, пока ctx не отменён.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.purger == nil {
		w.logger.Warn("idempotency cleanup worker is disabled: purger is nil")
		return
	}

	w.logger.WithFields(log.Fields{
		"interval":   w.interval,
		"batch_size": w.batchSize,
	}).Info("idempotency cleanup worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.runOnce(ctx, time.Now().UTC())

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *CleanupWorker) runOnce(ctx context.Context, before time.Time) {
	purge, err := w.Purge(ctx, before)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		cleanupRunsTotal.WithLabelValues("error").Inc()
		w.logger.WithError(err).WithField("purged", purge.Total()).Warn("idempotency cleanup run failed")
		return
	}
	cleanupRunsTotal.WithLabelValues("ok").Inc()
	lastAbandonedKeys.Set(float64(purge.Abandoned))

	if purge.Total() == 0 {
		return
	}
	entry := w.logger.WithFields(log.Fields{
		"completed": purge.Completed,
		"abandoned": purge.Abandoned,
	})
	if purge.Abandoned > 0 {
		entry.Warn("expired order reservations were never completed")
		return
	}
	entry.Info("expired idempotency keys purged")
}

// Purge удаляет все ключи с ttl <= before порциями batchSize и возвращает сумму по порциям.
func (w *CleanupWorker) Purge(ctx context.Context, before time.Time) (domain.IdempotencyPurge, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	var total domain.IdempotencyPurge
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		batch, err := w.purger.DeleteExpired(ctx, before, w.batchSize)
		if err != nil {
			return total, err
		}
		total.Completed += batch.Completed
		total.Abandoned += batch.Abandoned
		purgedKeysTotal.WithLabelValues(stateCompleted).Add(float64(batch.Completed))
		purgedKeysTotal.WithLabelValues(stateAbandoned).Add(float64(batch.Abandoned))

		if batch.Total() < w.batchSize {
			return total, nil
		}
	}
}
