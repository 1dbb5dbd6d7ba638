package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/app"
	"github.com/vladislavdragonenkov/marketplace/internal/version"
)

const (
	envHTTPAddr                    = "MARKETPLACE_HTTP_ADDR"
	envMetricsAddr                 = "MARKETPLACE_METRICS_ADDR"
	envStorageDriver               = "MARKETPLACE_STORAGE_DRIVER"
	envPostgresDSN                 = "MARKETPLACE_POSTGRES_DSN"
	envPostgresAutoMigrate         = "MARKETPLACE_POSTGRES_AUTO_MIGRATE"
	envOrderTxMaxAttempts          = "MARKETPLACE_ORDER_TX_MAX_ATTEMPTS"
	envJWTSecret                   = "MARKETPLACE_JWT_SECRET"
	envRequestTimeout              = "MARKETPLACE_REQUEST_TIMEOUT"
	envRedisAddr                   = "MARKETPLACE_REDIS_ADDR"
	envIdempotencyTTL              = "MARKETPLACE_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "MARKETPLACE_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "MARKETPLACE_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	envKafkaBrokers                = "MARKETPLACE_KAFKA_BROKERS"
	envKafkaTopic                  = "MARKETPLACE_KAFKA_TOPIC"
	envKafkaDLQTopic               = "MARKETPLACE_KAFKA_DLQ_TOPIC"
	envOutboxPollInterval          = "MARKETPLACE_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "MARKETPLACE_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "MARKETPLACE_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "MARKETPLACE_OUTBOX_RETRY_DELAY"
	envShutdownTimeout             = "MARKETPLACE_SHUTDOWN_TIMEOUT"
	envLogLevel                    = "MARKETPLACE_LOG_LEVEL"
)

type envLookup func(key string) (string, bool)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(lookup envLookup) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	if raw, ok := lookup(envLogLevel); ok && strings.TrimSpace(raw) != "" {
		level, err := log.ParseLevel(strings.TrimSpace(raw))
		if err != nil {
			log.WithError(err).Warnf("invalid %s, using info", envLogLevel)
			return
		}
		log.SetLevel(level)
	}
}

// readConfigFromEnv собирает конфигурацию поверх app.DefaultConfig.
// Некорректные значения не прерывают старт: остаётся значение по умолчанию и добавляется предупреждение.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	warn := func(key, raw string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s=%q: %v, using default", key, raw, err))
	}
	positiveInt := func(v int) bool { return v > 0 }
	positiveDuration := func(v time.Duration) bool { return v > 0 }

	setString(lookup, envHTTPAddr, &cfg.HTTPAddr)
	setString(lookup, envMetricsAddr, &cfg.MetricsAddr)
	setString(lookup, envPostgresDSN, &cfg.PostgresDSN)
	setString(lookup, envJWTSecret, &cfg.JWTSecret)
	setString(lookup, envRedisAddr, &cfg.RedisAddr)
	setString(lookup, envKafkaTopic, &cfg.KafkaTopic)
	setString(lookup, envKafkaDLQTopic, &cfg.KafkaDLQTopic)

	if raw, ok := lookupTrimmed(lookup, envStorageDriver); ok {
		cfg.StorageDriver = strings.ToLower(raw)
	}
	if raw, ok := lookupTrimmed(lookup, envKafkaBrokers); ok {
		cfg.KafkaBrokers = splitCSV(raw)
	}

	if raw, ok := lookupTrimmed(lookup, envPostgresAutoMigrate); ok {
		if v, err := parseBool(raw); err != nil {
			warn(envPostgresAutoMigrate, raw, err)
		} else {
			cfg.PostgresAutoMigrate = v
		}
	}

	ints := []struct {
		key   string
		dst   *int
		valid func(int) bool
		rule  string
	}{
		{envOrderTxMaxAttempts, &cfg.OrderTxMaxAttempts, positiveInt, "must be > 0"},
		{envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize, positiveInt, "must be > 0"},
		{envOutboxBatchSize, &cfg.OutboxBatchSize, positiveInt, "must be > 0"},
		{envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positiveInt, "must be > 0"},
	}
	for _, item := range ints {
		raw, ok := lookupTrimmed(lookup, item.key)
		if !ok {
			continue
		}
		v, err := parseInt(raw, item.valid, item.rule)
		if err != nil {
			warn(item.key, raw, err)
			continue
		}
		*item.dst = v
	}

	durations := []struct {
		key   string
		dst   *time.Duration
		valid func(time.Duration) bool
		rule  string
	}{
		{envRequestTimeout, &cfg.RequestTimeout, positiveDuration, "must be > 0"},
		{envIdempotencyTTL, &cfg.IdempotencyTTL, positiveDuration, "must be > 0"},
		{envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDuration, "must be > 0"},
		{envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0"},
		{envOutboxRetryDelay, &cfg.OutboxRetryDelay, func(v time.Duration) bool { return v >= 0 }, "must be >= 0"},
		{envShutdownTimeout, &cfg.ShutdownTimeout, positiveDuration, "must be > 0"},
	}
	for _, item := range durations {
		raw, ok := lookupTrimmed(lookup, item.key)
		if !ok {
			continue
		}
		v, err := parseDuration(raw, item.valid, item.rule)
		if err != nil {
			warn(item.key, raw, err)
			continue
		}
		*item.dst = v
	}

	return cfg, warnings
}

func lookupTrimmed(lookup envLookup, key string) (string, bool) {
	raw, ok := lookup(key)
	if !ok {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}

func setString(lookup envLookup, key string, dst *string) {
	if raw, ok := lookupTrimmed(lookup, key); ok {
		*dst = raw
	}
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid bool value %q", raw)
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if valid != nil && !valid(v) {
		return 0, errors.New(rule)
	}
	return v, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if valid != nil && !valid(v) {
		return 0, errors.New(rule)
	}
	return v, nil
}

func main() {
	// .env необязателен: в контейнере переменные приходят из окружения.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("failed to load .env")
	}

	setupLogger(os.LookupEnv)
	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, warning := range warnings {
		log.Warn(warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(version.Fields()).WithFields(log.Fields{
		"http_addr":      cfg.HTTPAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
		"kafka":          cfg.KafkaEnabled(),
		"redis":          cfg.RedisAddr != "",
	}).Info("запускаем marketplace API")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("marketplace API остановлен")
}
