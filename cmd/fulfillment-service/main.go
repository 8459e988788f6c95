package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/divyanshbajpai27/contractfabricorep/internal/app"
	"github.com/divyanshbajpai27/contractfabricorep/internal/version"
)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)
	if v := os.Getenv("CFAB_LOG_LEVEL"); v != "" {
		if level, err := log.ParseLevel(v); err == nil {
			log.SetLevel(level)
		}
	}
}

// readConfig формирует конфигурацию приложения, позволяя переопределить
// настройки через переменные окружения с префиксом CFAB_.
func readConfig() app.Config {
	cfg := app.DefaultConfig()

	envString(&cfg.HTTPAddr, "CFAB_HTTP_ADDR")
	envString(&cfg.MetricsAddr, "CFAB_METRICS_ADDR")
	envString(&cfg.GRPCAddr, "CFAB_GRPC_ADDR")

	envString(&cfg.AdminToken, "CFAB_ADMIN_TOKEN")
	envString(&cfg.WebhookSecret, "CFAB_WEBHOOK_SECRET")
	envString(&cfg.SigningSecret, "CFAB_SIGNING_SECRET")
	envString(&cfg.FilesBaseURL, "CFAB_FILES_BASE_URL")

	if v := os.Getenv("CFAB_STORAGE_DRIVER"); v != "" {
		cfg.StorageDriver = app.StorageDriver(v)
	}
	envString(&cfg.PostgresDSN, "CFAB_POSTGRES_DSN")
	envBool(&cfg.PostgresAutoMigrate, "CFAB_POSTGRES_AUTO_MIGRATE")

	envString(&cfg.KafkaBrokers, "CFAB_KAFKA_BROKERS")

	envInt(&cfg.DispatcherQueueSize, "CFAB_DISPATCHER_QUEUE_SIZE")
	envInt(&cfg.DispatcherWorkers, "CFAB_DISPATCHER_WORKERS")

	envDuration(&cfg.OutboxPollInterval, "CFAB_OUTBOX_POLL_INTERVAL")
	envInt(&cfg.OutboxBatchSize, "CFAB_OUTBOX_BATCH_SIZE")
	envInt(&cfg.OutboxMaxAttempts, "CFAB_OUTBOX_MAX_ATTEMPTS")
	envDuration(&cfg.OutboxRetryDelay, "CFAB_OUTBOX_RETRY_DELAY")

	envDuration(&cfg.SweepInterval, "CFAB_SWEEP_INTERVAL")
	envInt(&cfg.SweepBatchSize, "CFAB_SWEEP_BATCH_SIZE")

	envDuration(&cfg.WebhookCleanupInterval, "CFAB_WEBHOOK_CLEANUP_INTERVAL")
	envInt(&cfg.WebhookCleanupBatchSize, "CFAB_WEBHOOK_CLEANUP_BATCH_SIZE")

	envDuration(&cfg.TemplateCacheTTL, "CFAB_TEMPLATE_CACHE_TTL")

	return cfg
}

func envString(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func envInt(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*target = parsed
		}
	}
}

func envBool(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*target = parsed
		}
	}
}

func envDuration(target *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			*target = parsed
		}
	}
}

func main() {
	setupLogger()
	cfg := readConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"http_addr":    cfg.HTTPAddr,
		"metrics_addr": cfg.MetricsAddr,
		"grpc_addr":    cfg.GRPCAddr,
		"storage":      string(cfg.StorageDriver),
		"version":      version.String(),
	}).Info("запускаем fulfillment-service")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("fulfillment-service остановлен")
}
