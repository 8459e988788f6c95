package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/divyanshbajpai27/contractfabricorep/internal/domain"
	"github.com/divyanshbajpai27/contractfabricorep/internal/storage/memory"
	"github.com/divyanshbajpai27/contractfabricorep/internal/storage/postgres"
)

// repositories — набор хранилищ конвейера.
type repositories struct {
	Orders   domain.OrderRepository
	Events   domain.WebhookEventRepository
	Outbox   domain.OutboxRepository
	Timeline domain.TimelineRepository

	// Store не nil только для postgres-драйвера.
	Store *postgres.Store
}

// initStorage создаёт репозитории согласно выбранному драйверу.
func initStorage(ctx context.Context, cfg Config, logger *log.Entry) (*repositories, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		logger.Info("using in-memory storage")
		return &repositories{
			Orders:   memory.NewOrderRepository(),
			Events:   memory.NewWebhookEventRepository(),
			Outbox:   memory.NewOutboxRepository(),
			Timeline: memory.NewTimelineRepository(),
		}, nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres storage requires CFAB_POSTGRES_DSN")
		}

		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}

		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}

		logger.Info("using postgres storage")
		return &repositories{
			Orders:   postgres.NewOrderRepository(store),
			Events:   postgres.NewWebhookEventRepository(store),
			Outbox:   postgres.NewOutboxRepository(store),
			Timeline: postgres.NewTimelineRepository(store),
			Store:    store,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.StorageDriver)
	}
}
