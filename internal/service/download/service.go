package download

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/divyanshbajpai27/contractfabricorep/internal/domain"
	"github.com/divyanshbajpai27/contractfabricorep/internal/metrics"
)

// maxURLTTL — верхняя граница жизни подписанной ссылки; остаток окна
// скачивания может быть короче.
const maxURLTTL = 15 * time.Minute

// Service — клиентский путь чтения: проверяет права доступа и выпускает
// свежие подписанные ссылки на артефакты. Ссылки никогда не переиспользуются.
type Service struct {
	orders  domain.OrderRepository
	store   domain.ObjectStore
	logger  *log.Entry
	metrics *metrics.PipelineMetrics
}

// NewService создаёт сервис выдачи документов.
func NewService(orders domain.OrderRepository, store domain.ObjectStore, logger *log.Entry, pipelineMetrics *metrics.PipelineMetrics) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "download")
	}
	return &Service{
		orders:  orders,
		store:   store,
		logger:  logger,
		metrics: pipelineMetrics,
	}
}

// Result — подписанные ссылки вместе с абсолютным концом окна доступа.
type Result struct {
	URLs      []domain.ArtifactURL
	ExpiresAt time.Time
}

// Get выдаёт ссылки на документы заказа. Несовпадение e-mail неотличимо от
// отсутствия заказа, чтобы не допускать перебор идентификаторов.
func (s *Service) Get(orderID, email string) (Result, error) {
	order, err := s.orders.GetByIDAndEmail(orderID, email)
	if err != nil {
		return Result{}, err
	}

	logger := s.logger.WithField("order_id", order.ID)

	switch order.Status {
	case domain.OrderStatusPaid:
		// Доступ открыт.
	case domain.OrderStatusRefunded:
		// Для клиента различие refunded/не оплачен остаётся только в логах.
		logger.Info("download denied: order refunded")
		return Result{}, domain.ErrOrderRefunded
	default:
		logger.WithField("status", string(order.Status)).Info("download denied: order not paid")
		return Result{}, domain.ErrOrderNotPaid
	}

	now := time.Now().UTC()
	if !order.DownloadWindowOpen(now) {
		logger.WithField("expired_at", order.DownloadExpiry).Info("download denied: window expired")
		return Result{}, domain.ErrDownloadExpired
	}

	if !order.ArtifactsComplete() {
		logger.Debug("artifacts not ready yet")
		return Result{}, domain.ErrArtifactsNotReady
	}

	ttl := time.Until(order.DownloadExpiry)
	if ttl > maxURLTTL {
		ttl = maxURLTTL
	}

	urls := make([]domain.ArtifactURL, 0, len(order.Artifacts))
	for _, artifact := range order.Artifacts {
		url, err := s.store.SignedURL(artifact.ObjectKey, ttl)
		if err != nil {
			return Result{}, err
		}
		urls = append(urls, domain.ArtifactURL{Role: artifact.Role, URL: url})
	}

	if s.metrics != nil {
		s.metrics.RecordDownloadServed()
	}
	return Result{URLs: urls, ExpiresAt: order.DownloadExpiry}, nil
}
