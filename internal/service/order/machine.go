package order

import (
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/divyanshbajpai27/contractfabricorep/internal/domain"
	"github.com/divyanshbajpai27/contractfabricorep/internal/messaging/kafka"
	"github.com/divyanshbajpai27/contractfabricorep/internal/metrics"
)

// Machine применяет платёжные события к заказу с учётом optimistic locking.
// Повторная доставка события, чей целевой статус уже достигнут, поглощается
// без побочных эффектов.
type Machine struct {
	orders        domain.OrderRepository
	outbox        domain.OutboxRepository
	timeline      domain.TimelineRepository
	logger        *log.Entry
	metrics       *metrics.PipelineMetrics
	kafkaProducer *kafka.Producer // опциональный Kafka producer для event-driven архитектуры
}

// NewMachine создаёт рабочий экземпляр машины состояний заказа.
func NewMachine(
	orders domain.OrderRepository,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	logger *log.Entry,
) *Machine {
	if logger == nil {
		logger = log.New().WithField("component", "order-machine")
	}
	return &Machine{
		orders:   orders,
		outbox:   outbox,
		timeline: timeline,
		logger:   logger,
		metrics:  metrics.NewPipelineMetrics(),
	}
}

// NewMachineWithKafka создаёт машину состояний с Kafka producer.
func NewMachineWithKafka(
	orders domain.OrderRepository,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	kafkaProducer *kafka.Producer,
	logger *log.Entry,
) *Machine {
	m := NewMachine(orders, outbox, timeline, logger)
	m.kafkaProducer = kafkaProducer
	return m
}

// NewMachineWithoutMetrics создаёт машину состояний без метрик (для тестов).
func NewMachineWithoutMetrics(
	orders domain.OrderRepository,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	logger *log.Entry,
) *Machine {
	if logger == nil {
		logger = log.New().WithField("component", "order-machine")
	}
	return &Machine{
		orders:   orders,
		outbox:   outbox,
		timeline: timeline,
		logger:   logger,
		metrics:  nil, // Отключаем метрики для тестов
	}
}

// Apply переводит заказ по событию event. mutate (опционально) дополняет заказ
// полями события до сохранения: payment reference, сроком скачивания, refund id.
// Возвращает применён ли переход: false без ошибки означает поглощённый повтор.
func (m *Machine) Apply(orderID string, event domain.PaymentEvent, reason string, mutate func(*domain.Order)) (domain.Order, bool, error) {
	order, err := m.orders.Get(orderID)
	if err != nil {
		return domain.Order{}, false, err
	}

	const maxRetries = 3
	const baseDelay = 10 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		target, alreadyApplied, err := domain.NextStatus(order.Status, event)
		if err != nil {
			return order, false, err
		}
		if alreadyApplied {
			m.logger.WithFields(log.Fields{
				"order_id": order.ID,
				"event":    string(event),
				"status":   string(order.Status),
			}).Debug("event already applied, absorbing redelivery")
			return order, false, nil
		}

		order.Status = target
		order.UpdatedAt = time.Now().UTC()
		if mutate != nil {
			mutate(&order)
		}
		prevVersion := order.Version

		if err := m.orders.Save(order); err != nil {
			// Проигравший гонку перечитывает заказ: возможно, победитель
			// уже применил это же событие.
			if domain.IsVersionConflict(err) && attempt < maxRetries-1 {
				m.logger.WithFields(log.Fields{
					"order_id": order.ID,
					"attempt":  attempt + 1,
					"version":  order.Version,
				}).Warn("version conflict detected, retrying")

				fresh, loadErr := m.orders.Get(order.ID)
				if loadErr != nil {
					m.logger.WithError(loadErr).WithField("order_id", order.ID).Error("failed to reload order after conflict")
					return order, false, loadErr
				}
				order = fresh

				delay := baseDelay * time.Duration(1<<uint(attempt))
				time.Sleep(delay)
				continue
			}

			m.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"attempt":  attempt + 1,
			}).Error("failed to persist status")
			return order, false, err
		}

		order.Version = prevVersion + 1
		m.recordTransition(order.Status)
		m.emitStatusEvent(&order, event, reason)
		m.publishOrderEvent(&order, event)
		return order, true, nil
	}

	return order, false, domain.ErrOrderVersionConflict
}

func (m *Machine) recordTransition(status domain.OrderStatus) {
	if m.metrics == nil {
		return
	}
	switch status {
	case domain.OrderStatusPaid:
		m.metrics.RecordOrderPaid()
	case domain.OrderStatusFailed:
		m.metrics.RecordOrderFailed()
	case domain.OrderStatusRefunded:
		m.metrics.RecordOrderRefunded()
	}
}

func (m *Machine) emitStatusEvent(order *domain.Order, event domain.PaymentEvent, reason string) {
	payload := map[string]interface{}{
		"order_id":   order.ID,
		"status":     string(order.Status),
		"event":      string(event),
		"updated_at": order.UpdatedAt.Format(time.RFC3339Nano),
	}
	if reason != "" {
		payload["reason"] = reason
	}

	data, err := json.Marshal(payload)
	if err != nil {
		m.logger.WithError(err).WithField("order_id", order.ID).Error("marshal event failed")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     "OrderStatusChanged",
		Payload:       data,
	}
	if _, err := m.outbox.Enqueue(msg); err != nil {
		m.logger.WithError(err).WithField("order_id", order.ID).Error("enqueue event failed")
	} else if m.metrics != nil {
		m.metrics.RecordOutboxEvent()
	}

	if m.timeline != nil {
		timelineEvent := domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     "OrderStatusChanged",
			Reason:   reason,
			Occurred: order.UpdatedAt,
		}
		if err := m.timeline.Append(timelineEvent); err != nil {
			m.logger.WithError(err).WithField("order_id", order.ID).Warn("append timeline event failed")
		} else if m.metrics != nil {
			m.metrics.RecordTimelineEvent()
		}
	}
}

// publishOrderEvent публикует событие заказа в Kafka (если producer настроен)
func (m *Machine) publishOrderEvent(order *domain.Order, event domain.PaymentEvent) {
	if m.kafkaProducer == nil {
		return
	}

	var eventType kafka.EventType
	switch order.Status {
	case domain.OrderStatusPaid:
		eventType = kafka.EventTypeOrderPaid
	case domain.OrderStatusFailed:
		eventType = kafka.EventTypeOrderFailed
	case domain.OrderStatusRefunded:
		eventType = kafka.EventTypeOrderRefunded
	default:
		return
	}

	orderEvent := kafka.NewOrderEvent(eventType, order.ID, order.CustomerEmail, string(order.Status), map[string]interface{}{
		"payment_event": string(event),
	})
	if err := m.kafkaProducer.PublishEvent(kafka.TopicOrderEvents, order.ID, orderEvent); err != nil {
		// Kafka опциональный: ошибка публикации не откатывает переход
		m.logger.WithError(err).WithFields(log.Fields{
			"event_type": eventType,
			"order_id":   order.ID,
		}).Warn("failed to publish order event to kafka")
	}
}
