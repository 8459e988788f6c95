package kafka

import "time"

// EventType определяет тип события
type EventType string

const (
	// События заказа
	EventTypeOrderCreated  EventType = "order.created"
	EventTypeOrderPaid     EventType = "order.paid"
	EventTypeOrderFailed   EventType = "order.failed"
	EventTypeOrderRefunded EventType = "order.refunded"

	// События генерации документов
	EventTypeFulfillmentRequested EventType = "fulfillment.requested"
	EventTypeFulfillmentCompleted EventType = "fulfillment.completed"
	EventTypeFulfillmentFailed    EventType = "fulfillment.failed"

	// Событие зачистки истёкших артефактов
	EventTypeDownloadExpired EventType = "download.expired"
)

// Topics для Kafka
const (
	TopicOrderEvents         = "cfab.order.events"
	TopicFulfillmentRequests = "cfab.fulfillment.requests"
	TopicDeadLetterQueue     = "cfab.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// OrderEvent представляет событие жизненного цикла заказа
type OrderEvent struct {
	EventType     EventType              `json:"event_type"`
	OrderID       string                 `json:"order_id"`
	CustomerEmail string                 `json:"customer_email"`
	Status        string                 `json:"status"`
	Timestamp     time.Time              `json:"timestamp"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// FulfillmentRequest представляет заявку на генерацию документов заказа
type FulfillmentRequest struct {
	OrderID     string    `json:"order_id"`
	Attempt     int       `json:"attempt"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewOrderEvent создает новое событие заказа
func NewOrderEvent(eventType EventType, orderID, customerEmail, status string, metadata map[string]interface{}) *OrderEvent {
	return &OrderEvent{
		EventType:     eventType,
		OrderID:       orderID,
		CustomerEmail: customerEmail,
		Status:        status,
		Timestamp:     time.Now(),
		Metadata:      metadata,
	}
}

// NewFulfillmentRequest создает заявку на генерацию документов
func NewFulfillmentRequest(orderID string, attempt int) *FulfillmentRequest {
	return &FulfillmentRequest{
		OrderID:     orderID,
		Attempt:     attempt,
		RequestedAt: time.Now(),
	}
}
