package app

import "time"

// StorageDriver выбирает реализацию репозиториев.
type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverPostgres StorageDriver = "postgres"
)

// Config описывает настройки запуска сервиса. Переопределяется переменными
// окружения с префиксом CFAB_ в cmd/fulfillment-service.
type Config struct {
	HTTPAddr    string
	MetricsAddr string
	GRPCAddr    string

	// AdminToken защищает админские операции (refund, regenerate).
	// Пустой токен запрещает их полностью.
	AdminToken string
	// WebhookSecret — общий секрет HMAC-подписи webhook платёжного провайдера.
	WebhookSecret string
	// SigningSecret подписывает ссылки на скачивание документов.
	SigningSecret string
	// FilesBaseURL — внешний адрес сервиса для подписанных ссылок;
	// путь /files/<key> хранилище добавляет само.
	FilesBaseURL string

	StorageDriver       StorageDriver
	PostgresDSN         string
	PostgresAutoMigrate bool

	// KafkaBrokers — список брокеров через запятую; пустая строка
	// отключает Kafka, конвейер работает на канальном диспетчере.
	KafkaBrokers string

	DispatcherQueueSize int
	DispatcherWorkers   int

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	SweepInterval  time.Duration
	SweepBatchSize int

	WebhookCleanupInterval  time.Duration
	WebhookCleanupBatchSize int

	TemplateCacheTTL time.Duration
}

// DefaultConfig возвращает настройки для локального запуска.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",
		GRPCAddr:    ":50051",

		WebhookSecret: "dev-webhook-secret",
		SigningSecret: "dev-signing-secret",
		FilesBaseURL:  "http://localhost:8080",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		DispatcherQueueSize: 256,
		DispatcherWorkers:   4,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   50 * time.Millisecond,

		SweepInterval:  time.Hour,
		SweepBatchSize: 100,

		WebhookCleanupInterval:  15 * time.Minute,
		WebhookCleanupBatchSize: 500,

		TemplateCacheTTL: 5 * time.Minute,
	}
}
