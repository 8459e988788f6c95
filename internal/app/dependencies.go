package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/divyanshbajpai27/contractfabricorep/internal/domain"
	"github.com/divyanshbajpai27/contractfabricorep/internal/metrics"
	"github.com/divyanshbajpai27/contractfabricorep/internal/service/notifier"
	"github.com/divyanshbajpai27/contractfabricorep/internal/service/payment"
	"github.com/divyanshbajpai27/contractfabricorep/internal/service/renderer"
	"github.com/divyanshbajpai27/contractfabricorep/internal/service/template"
	"github.com/divyanshbajpai27/contractfabricorep/internal/storage/blob"
)

// Dependencies содержит все зависимости конвейера.
// NOTE: gateway, renderer и notifier — mock-реализации для development/demo.
// В production окружении их заменяют клиенты реального платёжного провайдера,
// сервиса генерации документов и почтового сервиса.
type Dependencies struct {
	Repos     *repositories
	Blobs     *blob.Store
	Gateway   domain.PaymentGateway
	Templates domain.TemplateSource
	Cache     *template.Cache
	Renderer  domain.DocumentRenderer
	Notifier  domain.Notifier
	Metrics   *metrics.PipelineMetrics
	Logger    *log.Entry
}

// NewDependencies создаёт и инициализирует все зависимости приложения.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	repos, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	source := template.NewMemorySource(seedTemplates()...)
	cache := template.NewCache(source,
		template.WithTTL(cfg.TemplateCacheTTL),
		template.WithLogger(logger),
	)

	return &Dependencies{
		Repos:     repos,
		Blobs:     blob.NewStore(cfg.FilesBaseURL, []byte(cfg.SigningSecret)),
		Gateway:   payment.NewMockGateway([]byte(cfg.WebhookSecret)),
		Templates: source,
		Cache:     cache,
		Renderer:  renderer.NewTemplateRenderer(),
		Notifier:  notifier.NewLogNotifier(logger),
		Metrics:   metrics.NewPipelineMetrics(),
		Logger:    logger,
	}, nil
}

// Close освобождает ресурсы зависимостей.
func (d *Dependencies) Close() {
	if d.Repos != nil && d.Repos.Store != nil {
		if err := d.Repos.Store.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close postgres store")
		}
	}
}

// seedTemplates — стартовый каталог шаблонов документов.
// Каталог read-only для конвейера; авторинг шаблонов вне зоны сервиса.
func seedTemplates() []domain.Template {
	return []domain.Template{
		{
			ID:         "tpl-nda",
			Name:       "Non-Disclosure Agreement",
			Body:       []byte("NON-DISCLOSURE AGREEMENT\n\nBetween {{party_a}} and {{party_b}}, effective {{effective_date}}."),
			PriceMinor: 1999,
			Currency:   "USD",
			Version:    1,
		},
		{
			ID:         "tpl-service-agreement",
			Name:       "Service Agreement",
			Body:       []byte("SERVICE AGREEMENT\n\nProvider: {{provider}}\nClient: {{client}}\nScope: {{scope}}."),
			PriceMinor: 2999,
			Currency:   "USD",
			Version:    1,
		},
		{
			ID:         "tpl-power-of-attorney",
			Name:       "Power of Attorney",
			Body:       []byte("POWER OF ATTORNEY\n\nPrincipal: {{principal}}\nAgent: {{agent}}\nPowers: {{powers}}."),
			PriceMinor: 1499,
			Currency:   "USD",
			Version:    1,
		},
	}
}
