package domain

import "time"

// WebhookEventStatus описывает жизненный цикл записи дедупликации webhook-события.
type WebhookEventStatus string

const (
	// WebhookEventStatusProcessing — событие принято и ещё обрабатывается.
	WebhookEventStatusProcessing WebhookEventStatus = "processing"
	// WebhookEventStatusDone — событие обработано успешно.
	WebhookEventStatusDone WebhookEventStatus = "done"
	// WebhookEventStatusFailed — обработка завершилась аномалией; событие всё равно подтверждено провайдеру.
	WebhookEventStatusFailed WebhookEventStatus = "failed"
)

// WebhookEventRecord фиксирует провайдерское событие для дедупликации
// at-least-once доставки. Первичный ключ — идентификатор события провайдера.
type WebhookEventRecord struct {
	EventID     string
	Provider    string
	Type        string
	PayloadHash string
	OrderID     string
	Status      WebhookEventStatus
	// TTLAt ограничивает срок хранения записи; окно повторов провайдера короткое.
	TTLAt     time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s WebhookEventStatus) Valid() bool {
	switch s {
	case WebhookEventStatusProcessing, WebhookEventStatusDone, WebhookEventStatusFailed:
		return true
	default:
		return false
	}
}
