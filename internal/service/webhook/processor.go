package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/divyanshbajpai27/contractfabricorep/internal/domain"
	"github.com/divyanshbajpai27/contractfabricorep/internal/metrics"
	"github.com/divyanshbajpai27/contractfabricorep/internal/service/order"
)

const (
	// downloadWindow — срок доступа к документам после подтверждения оплаты.
	downloadWindow = 7 * 24 * time.Hour
	// dedupTTL ограничивает хранение записи дедупликации: окно повторов
	// провайдера заведомо короче.
	dedupTTL = 72 * time.Hour
)

// Envelope — разобранное тело webhook-события провайдера.
type Envelope struct {
	EventID          string `json:"event_id"`
	Type             string `json:"type"`
	OrderID          string `json:"order_id"`
	PaymentReference string `json:"payment_reference,omitempty"`
	AmountMinor      int64  `json:"amount_minor,omitempty"`
	Currency         string `json:"currency,omitempty"`
}

// Outcome — результат приёма события; во всех трёх случаях провайдеру
// отвечаем 200, чтобы остановить повторные доставки.
type Outcome string

const (
	// OutcomeProcessed — событие обработано и применено к заказу.
	OutcomeProcessed Outcome = "processed"
	// OutcomeDuplicate — повторная доставка уже обработанного события.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeAnomaly — событие зафиксировано, но применить его нельзя
	// (неизвестный заказ, расхождение суммы, недопустимый переход).
	OutcomeAnomaly Outcome = "anomaly"
)

// FulfillmentDispatcher ставит заказ в очередь на генерацию документов.
type FulfillmentDispatcher interface {
	Enqueue(orderID string) error
}

// Processor принимает события платёжного провайдера: проверяет подпись,
// дедуплицирует по event id и двигает заказ по машине состояний.
type Processor struct {
	gateway    domain.PaymentGateway
	events     domain.WebhookEventRepository
	orders     domain.OrderRepository
	machine    *order.Machine
	dispatcher FulfillmentDispatcher
	notifier   domain.Notifier
	provider   string
	logger     *log.Entry
	metrics    *metrics.PipelineMetrics
}

// NewProcessor создаёт процессор webhook-событий.
func NewProcessor(
	gateway domain.PaymentGateway,
	events domain.WebhookEventRepository,
	orders domain.OrderRepository,
	machine *order.Machine,
	dispatcher FulfillmentDispatcher,
	notifier domain.Notifier,
	provider string,
	logger *log.Entry,
	pipelineMetrics *metrics.PipelineMetrics,
) *Processor {
	if logger == nil {
		logger = log.New().WithField("component", "webhook")
	}
	if provider == "" {
		provider = "mockpay"
	}
	return &Processor{
		gateway:    gateway,
		events:     events,
		orders:     orders,
		machine:    machine,
		dispatcher: dispatcher,
		notifier:   notifier,
		provider:   provider,
		logger:     logger,
		metrics:    pipelineMetrics,
	}
}

// Process обрабатывает сырое тело webhook. Ошибка возвращается только при
// невалидной подписи — всё остальное подтверждается провайдеру, иначе он
// будет доставлять событие бесконечно.
func (p *Processor) Process(ctx context.Context, body []byte, signature string) (Outcome, error) {
	if !p.gateway.VerifySignature(body, signature) {
		return "", domain.ErrInvalidSignature
	}

	var envelope Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		p.logger.WithError(err).Warn("malformed webhook body, acknowledging")
		return OutcomeAnomaly, nil
	}
	if envelope.EventID == "" {
		p.logger.Warn("webhook event without event_id, acknowledging")
		return OutcomeAnomaly, nil
	}

	event, ok := mapEventType(envelope.Type)
	if !ok {
		p.logger.WithFields(log.Fields{
			"event_id": envelope.EventID,
			"type":     envelope.Type,
		}).Debug("unsupported webhook event type, acknowledging")
		return OutcomeAnomaly, nil
	}

	record, err := p.events.CreateProcessing(envelope.EventID, p.provider, envelope.Type, payloadHash(body), time.Now().UTC().Add(dedupTTL))
	if err != nil {
		if !errors.Is(err, domain.ErrDuplicateWebhookEvent) {
			return "", fmt.Errorf("register webhook event: %w", err)
		}
		// Завершённое событие поглощаем; незавершённое (упавшее на
		// внутренней ошибке) обрабатываем заново.
		if record.Status == domain.WebhookEventStatusDone {
			if p.metrics != nil {
				p.metrics.RecordWebhookDuplicate()
			}
			p.logger.WithField("event_id", envelope.EventID).Debug("duplicate webhook event absorbed")
			return OutcomeDuplicate, nil
		}
		p.logger.WithFields(log.Fields{
			"event_id": envelope.EventID,
			"status":   string(record.Status),
		}).Info("reprocessing previously unfinished webhook event")
	}

	outcome := p.apply(ctx, envelope, event)
	return outcome, nil
}

// apply применяет уже дедуплицированное событие к заказу.
func (p *Processor) apply(ctx context.Context, envelope Envelope, event domain.PaymentEvent) Outcome {
	logger := p.logger.WithFields(log.Fields{
		"event_id": envelope.EventID,
		"order_id": envelope.OrderID,
		"event":    string(event),
	})

	current, err := p.orders.Get(envelope.OrderID)
	if err != nil {
		logger.WithError(err).Warn("webhook references unknown order")
		p.markFailed(envelope)
		return OutcomeAnomaly
	}

	if event == domain.PaymentEventConfirmed {
		// Сумма webhook сверяется с зафиксированной в заказе и никогда её не заменяет.
		if envelope.AmountMinor != current.AmountMinor || envelope.Currency != current.Currency {
			logger.WithFields(log.Fields{
				"order_amount":   current.AmountMinor,
				"webhook_amount": envelope.AmountMinor,
			}).Error("webhook amount mismatch")
			p.markFailed(envelope)
			return OutcomeAnomaly
		}
		// paymentReference устанавливается ровно один раз; расхождение на
		// оплаченном заказе — аномалия учёта, молча перетирать нельзя.
		if current.Status == domain.OrderStatusPaid &&
			current.PaymentReference != "" && current.PaymentReference != envelope.PaymentReference {
			logger.WithField("payment_reference", envelope.PaymentReference).
				Error("payment reference mismatch for paid order")
			p.markFailed(envelope)
			return OutcomeAnomaly
		}
	}

	updated, applied, err := p.machine.Apply(envelope.OrderID, event, envelope.Type, func(o *domain.Order) {
		switch event {
		case domain.PaymentEventConfirmed:
			o.PaymentReference = envelope.PaymentReference
			if o.DownloadExpiry.IsZero() {
				o.DownloadExpiry = time.Now().UTC().Add(downloadWindow)
			}
		}
	})
	if err != nil {
		logger.WithError(err).Warn("webhook event not applicable")
		p.markFailed(envelope)
		return OutcomeAnomaly
	}

	if applied {
		p.runSideEffects(ctx, logger, updated, event)
	}

	if err := p.events.MarkDone(envelope.EventID, envelope.OrderID); err != nil {
		logger.WithError(err).Warn("mark webhook event done failed")
	}
	return OutcomeProcessed
}

// runSideEffects запускает побочные эффекты успешного перехода. Генерация
// документов уходит в диспетчер: webhook-ответ не должен ждать рендеринг.
func (p *Processor) runSideEffects(ctx context.Context, logger *log.Entry, updated domain.Order, event domain.PaymentEvent) {
	switch event {
	case domain.PaymentEventConfirmed:
		if p.dispatcher == nil {
			return
		}
		if err := p.dispatcher.Enqueue(updated.ID); err != nil {
			// Заказ уже paid; генерацию восстановит повторная постановка
			// через admin regenerate.
			logger.WithError(err).Error("enqueue fulfillment failed")
		}
	case domain.PaymentEventFailed:
		if p.notifier == nil {
			return
		}
		if err := p.notifier.SendPaymentFailed(ctx, updated.CustomerEmail, updated.ID); err != nil {
			logger.WithError(err).Warn("payment failed notification failed")
		}
	}
}

func (p *Processor) markFailed(envelope Envelope) {
	if err := p.events.MarkFailed(envelope.EventID, envelope.OrderID); err != nil {
		p.logger.WithError(err).WithField("event_id", envelope.EventID).Warn("mark webhook event failed failed")
	}
}

// mapEventType переводит тип события провайдера во внутреннее платёжное событие.
func mapEventType(eventType string) (domain.PaymentEvent, bool) {
	switch eventType {
	case "payment_confirmed":
		return domain.PaymentEventConfirmed, true
	case "session_expired":
		return domain.PaymentEventSessionExpired, true
	case "payment_failed":
		return domain.PaymentEventFailed, true
	default:
		return "", false
	}
}

func payloadHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
