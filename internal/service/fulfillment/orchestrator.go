package fulfillment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/divyanshbajpai27/contractfabricorep/internal/domain"
	"github.com/divyanshbajpai27/contractfabricorep/internal/metrics"
)

const (
	// renderTimeout ограничивает генерацию одного артефакта.
	renderTimeout = 30 * time.Second
	// uploadTimeout ограничивает загрузку одного артефакта в хранилище.
	uploadTimeout = 15 * time.Second
	// notifyTimeout ограничивает отправку письма клиенту.
	notifyTimeout = 10 * time.Second

	saveMaxRetries = 3
	saveBaseDelay  = 10 * time.Millisecond
)

// Orchestrator генерирует документы для оплаченного заказа: рендерит все
// обязательные роли, складывает их в объектное хранилище и уведомляет клиента.
// Повторный запуск для заказа с готовыми артефактами — no-op.
type Orchestrator struct {
	orders    domain.OrderRepository
	templates domain.TemplateSource
	renderer  domain.DocumentRenderer
	store     domain.ObjectStore
	notifier  domain.Notifier
	outbox    domain.OutboxRepository
	timeline  domain.TimelineRepository
	logger    *log.Entry
	metrics   *metrics.PipelineMetrics
}

// NewOrchestrator создаёт оркестратор генерации документов.
func NewOrchestrator(
	orders domain.OrderRepository,
	templates domain.TemplateSource,
	renderer domain.DocumentRenderer,
	store domain.ObjectStore,
	notifier domain.Notifier,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	logger *log.Entry,
	pipelineMetrics *metrics.PipelineMetrics,
) *Orchestrator {
	if logger == nil {
		logger = log.New().WithField("component", "fulfillment")
	}
	return &Orchestrator{
		orders:    orders,
		templates: templates,
		renderer:  renderer,
		store:     store,
		notifier:  notifier,
		outbox:    outbox,
		timeline:  timeline,
		logger:    logger,
		metrics:   pipelineMetrics,
	}
}

// ObjectKey возвращает ключ артефакта в хранилище для заказа и роли.
func ObjectKey(orderID string, role domain.ArtifactRole) string {
	return fmt.Sprintf("orders/%s/%s", orderID, role)
}

// Fulfill выполняет полный цикл генерации для заказа. Ошибка возвращается
// только при сбое рендеринга/хранилища: заказ остаётся paid без артефактов,
// и диспетчер может повторить вызов.
func (o *Orchestrator) Fulfill(ctx context.Context, orderID string) error {
	logger := o.logger.WithField("order_id", orderID)

	order, err := o.orders.Get(orderID)
	if err != nil {
		return err
	}

	// Оплата могла откатиться или заказ уже обслужен: повторный запуск безопасен.
	if order.Status != domain.OrderStatusPaid {
		logger.WithField("status", string(order.Status)).Info("skipping fulfillment for non-paid order")
		return nil
	}
	if order.ArtifactsComplete() {
		logger.Debug("artifacts already complete, skipping fulfillment")
		return nil
	}

	if o.metrics != nil {
		o.metrics.RecordFulfillmentStarted()
		defer o.metrics.RecordFulfillmentFinished()
	}
	started := time.Now()

	tpl, err := o.templates.Load(ctx, order.TemplateID)
	if err != nil {
		o.emitFailed(&order, err)
		return fmt.Errorf("load template %s: %w", order.TemplateID, err)
	}

	artifacts, err := o.produceArtifacts(ctx, order, tpl)
	if err != nil {
		o.emitFailed(&order, err)
		return err
	}

	updated, err := o.saveArtifacts(order.ID, artifacts)
	if err != nil {
		o.emitFailed(&order, err)
		return err
	}

	if o.metrics != nil {
		o.metrics.RecordFulfillmentDuration(time.Since(started))
	}
	o.emitCompleted(&updated)
	o.notify(ctx, logger, updated)

	logger.WithField("artifacts", len(updated.Artifacts)).Info("fulfillment completed")
	return nil
}

// produceArtifacts рендерит и загружает все обязательные роли.
func (o *Orchestrator) produceArtifacts(ctx context.Context, order domain.Order, tpl domain.Template) ([]domain.Artifact, error) {
	artifacts := make([]domain.Artifact, 0, len(domain.RequiredArtifactRoles))

	for _, role := range domain.RequiredArtifactRoles {
		data, err := o.renderArtifact(ctx, tpl, order.FormData, role)
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", role, err)
		}

		key := ObjectKey(order.ID, role)
		if err := o.uploadArtifact(ctx, key, data); err != nil {
			return nil, fmt.Errorf("upload %s: %w", role, err)
		}

		artifacts = append(artifacts, domain.Artifact{
			Role:      role,
			ObjectKey: key,
			CreatedAt: time.Now().UTC(),
		})
	}

	return artifacts, nil
}

func (o *Orchestrator) renderArtifact(ctx context.Context, tpl domain.Template, formData map[string]string, role domain.ArtifactRole) ([]byte, error) {
	renderCtx, cancel := context.WithTimeout(ctx, renderTimeout)
	defer cancel()

	started := time.Now()
	data, err := o.renderer.Render(renderCtx, tpl, formData, role)
	if o.metrics != nil {
		o.metrics.RecordStageDuration("render", time.Since(started))
	}
	return data, err
}

func (o *Orchestrator) uploadArtifact(ctx context.Context, key string, data []byte) error {
	uploadCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	started := time.Now()
	err := o.store.Put(uploadCtx, key, data)
	if o.metrics != nil {
		o.metrics.RecordStageDuration("upload", time.Since(started))
	}
	return err
}

// saveArtifacts записывает ключи артефактов на заказ с учётом optimistic
// locking. Конфликт версии означает параллельное изменение заказа: заказ
// перечитывается, и если он больше не paid, запись отменяется.
func (o *Orchestrator) saveArtifacts(orderID string, artifacts []domain.Artifact) (domain.Order, error) {
	order, err := o.orders.Get(orderID)
	if err != nil {
		return domain.Order{}, err
	}

	for attempt := 0; attempt < saveMaxRetries; attempt++ {
		if order.Status != domain.OrderStatusPaid {
			o.logger.WithFields(log.Fields{
				"order_id": orderID,
				"status":   string(order.Status),
			}).Warn("order left paid state during fulfillment, artifacts not recorded")
			return order, nil
		}
		if order.ArtifactsComplete() {
			return order, nil
		}

		order.Artifacts = artifacts
		order.UpdatedAt = time.Now().UTC()
		prevVersion := order.Version

		if err := o.orders.Save(order); err != nil {
			if domain.IsVersionConflict(err) && attempt < saveMaxRetries-1 {
				fresh, loadErr := o.orders.Get(orderID)
				if loadErr != nil {
					return order, loadErr
				}
				order = fresh

				time.Sleep(saveBaseDelay * time.Duration(1<<uint(attempt)))
				continue
			}
			return order, err
		}

		order.Version = prevVersion + 1
		return order, nil
	}

	return order, domain.ErrOrderVersionConflict
}

// notify отправляет клиенту свежие подписанные ссылки. Отказ почты не
// откатывает артефакты: клиент уже заплатил, документы существуют.
func (o *Orchestrator) notify(ctx context.Context, logger *log.Entry, order domain.Order) {
	if o.notifier == nil || !order.ArtifactsComplete() {
		return
	}

	remaining := time.Until(order.DownloadExpiry)
	if remaining <= 0 {
		logger.Warn("download window elapsed before notification, skipping")
		return
	}

	urls := make([]domain.ArtifactURL, 0, len(order.Artifacts))
	for _, artifact := range order.Artifacts {
		url, err := o.store.SignedURL(artifact.ObjectKey, remaining)
		if err != nil {
			logger.WithError(err).WithField("role", string(artifact.Role)).Warn("sign artifact url failed")
			return
		}
		urls = append(urls, domain.ArtifactURL{Role: artifact.Role, URL: url})
	}

	notifyCtx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	started := time.Now()
	err := o.notifier.SendOrderReady(notifyCtx, order.CustomerEmail, urls, order.DownloadExpiry)
	if o.metrics != nil {
		o.metrics.RecordStageDuration("notify", time.Since(started))
	}
	if err != nil {
		logger.WithError(err).Warn("order ready notification failed")
	}
}

func (o *Orchestrator) emitCompleted(order *domain.Order) {
	o.emitEvent(order, "FulfillmentCompleted", "")
}

func (o *Orchestrator) emitFailed(order *domain.Order, cause error) {
	o.emitEvent(order, "FulfillmentFailed", cause.Error())
}

func (o *Orchestrator) emitEvent(order *domain.Order, eventType, reason string) {
	occurred := time.Now().UTC()

	if o.outbox != nil {
		payload, err := json.Marshal(map[string]interface{}{
			"order_id":    order.ID,
			"reason":      reason,
			"occurred_at": occurred.Format(time.RFC3339Nano),
		})
		if err != nil {
			o.logger.WithError(err).WithField("order_id", order.ID).Error("marshal event failed")
			return
		}

		msg := domain.OutboxMessage{
			AggregateType: "order",
			AggregateID:   order.ID,
			EventType:     eventType,
			Payload:       payload,
		}
		if _, err := o.outbox.Enqueue(msg); err != nil {
			o.logger.WithError(err).WithField("order_id", order.ID).Error("enqueue event failed")
		} else if o.metrics != nil {
			o.metrics.RecordOutboxEvent()
		}
	}

	if o.timeline != nil {
		event := domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     eventType,
			Reason:   reason,
			Occurred: occurred,
		}
		if err := o.timeline.Append(event); err != nil {
			o.logger.WithError(err).WithField("order_id", order.ID).Warn("append timeline event failed")
		} else if o.metrics != nil {
			o.metrics.RecordTimelineEvent()
		}
	}
}
