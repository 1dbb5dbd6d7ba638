package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/marketplace/internal/health"
	"github.com/vladislavdragonenkov/marketplace/internal/metrics"
	"github.com/vladislavdragonenkov/marketplace/internal/service/establishment"
	"github.com/vladislavdragonenkov/marketplace/internal/service/idempotency"
	"github.com/vladislavdragonenkov/marketplace/internal/service/order"
	"github.com/vladislavdragonenkov/marketplace/internal/service/outbox"
	"github.com/vladislavdragonenkov/marketplace/internal/service/product"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/postgres"
	"github.com/vladislavdragonenkov/marketplace/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/marketplace/internal/version"
)

const (
	defaultShutdownTimeout = 10 * time.Second
	readHeaderTimeout      = 5 * time.Second
)

// Run собирает зависимости, запускает API, метрики и фоновые воркеры и блокируется до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	orderMetrics := metrics.NewOrderMetrics(nil)
	httpMetrics := metrics.NewHTTPMetrics(nil)

	deps, err := initRuntimeDependencies(ctx, cfg, logger, func(attempt int, err error) {
		orderMetrics.RecordTxRetry(postgres.RetryReason(err))
		logger.WithError(err).WithField("attempt", attempt).Debug("retrying order transaction")
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.closeFn(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()
	useRedisIdempotency(ctx, deps, cfg.RedisAddr, logger)

	healthHandler := healthcheck.NewHandler(version.Info().Version)
	if deps.storageChecker != nil {
		healthHandler.RegisterChecker("storage", deps.storageChecker)
	}
	for name, checker := range deps.checkers {
		healthHandler.RegisterChecker(name, checker)
	}

	producer, err := initKafkaProducer(cfg.KafkaBrokers, cfg.KafkaClientID, logger)
	if err != nil {
		// Без брокера события остаются в outbox и уходят в лог.
		logger.WithError(err).WithField("brokers", cfg.KafkaBrokers).Warn("kafka is unavailable, continuing without kafka")
	}
	defer closeKafkaProducer(producer, logger)
	publisher, deadLetter := outboxPublishers(producer, cfg, logger)

	establishments := establishment.NewService(deps.establishments, deps.products, logger.WithField("service", "establishment"))
	products := product.NewService(deps.products, deps.establishments, logger.WithField("service", "product"))
	orders := order.NewService(deps.orders, deps.transactor, logger.WithField("service", "order"),
		order.WithMetrics(orderMetrics),
		order.WithIdempotency(deps.idempotencyStore, cfg.IdempotencyTTL),
	)

	var verifier httpapi.TokenVerifier
	if cfg.JWTSecret != "" {
		verifier = httpapi.NewJWTVerifier(cfg.JWTSecret)
	} else {
		logger.Warn("jwt secret is not set, protected routes will answer 401")
	}
	router := httpapi.NewRouter(httpapi.Services{
		Establishments: establishments,
		Products:       products,
		Orders:         orders,
	}, httpapi.Options{
		Verifier:       verifier,
		Metrics:        httpMetrics,
		Logger:         logger.WithField("layer", "http"),
		RequestTimeout: cfg.RequestTimeout,
	})

	workersCtx, cancelWorkers := context.WithCancel(context.WithoutCancel(ctx))
	worker := outbox.NewWorker(deps.outboxRepo, publisher,
		outbox.WithLogger(logger.WithField("worker", "outbox")),
		outbox.WithDeadLetter(deadLetter),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	)
	outboxDone := startWorker(workersCtx, worker.Run)

	var cleanupDone <-chan struct{}
	if deps.idempotencyPurger != nil {
		cleanup := idempotency.NewCleanupWorker(deps.idempotencyPurger,
			idempotency.WithLogger(logger.WithField("worker", "idempotency-cleanup")),
			idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
			idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		)
		cleanupDone = startWorker(workersCtx, cleanup.Run)
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	lis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		cancelWorkers()
		shutdownHTTP(metricsSrv, logger)
		return fmt.Errorf("listen http: %w", err)
	}
	apiSrv := &http.Server{Handler: router, ReadHeaderTimeout: readHeaderTimeout}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(version.Fields()).Infof("HTTP API слушает %s", lis.Addr())
		errCh <- apiSrv.Serve(lis)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP API")
		runErr = ctx.Err()
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	}

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownHTTPWithTimeout(apiSrv, logger, timeout)
	// Воркер outbox останавливается после API: события последних заказов уже в outbox.
	shutdownOutboxWorker(cancelWorkers, outboxDone, logger)
	waitWorker(cleanupDone, logger)
	shutdownHTTP(metricsSrv, logger)

	return runErr
}

// startWorker запускает run в отдельной горутине; канал закрывается после выхода.
func startWorker(ctx context.Context, run func(context.Context)) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		run(ctx)
	}()
	return done
}

// shutdownOutboxWorker отменяет контекст воркеров и ждёт outbox worker.
func shutdownOutboxWorker(cancel context.CancelFunc, done <-chan struct{}, logger *log.Entry) {
	if cancel != nil {
		cancel()
	}
	waitWorker(done, logger)
}

func waitWorker(done <-chan struct{}, logger *log.Entry) {
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(defaultShutdownTimeout):
		logger.Warn("worker did not stop in time")
	}
}

// startMetricsServer запускает HTTP-сервер метрик и проверок здоровья.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/version", version.Handler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: readHeaderTimeout}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	shutdownHTTPWithTimeout(srv, logger, 5*time.Second)
}

func shutdownHTTPWithTimeout(srv *http.Server, logger *log.Entry, timeout time.Duration) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
