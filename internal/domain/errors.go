package domain

import "errors"

var (
	// Ошибка отсутствующего идентификатора шаблона.
	ErrTemplateRequired = errors.New("template_id is required")
	// Ошибка отсутствующего e-mail клиента.
	ErrEmailRequired = errors.New("customer_email is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("amount_minor must be non-negative")
	// Ошибка: артефакты записаны у неоплаченного заказа.
	ErrArtifactsWithoutPayment = errors.New("artifacts present on unpaid order")
	// ErrOrderNotFound возвращается, если заказ не найден (или e-mail не совпал).
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrInvalidTransition — событие не разрешено таблицей переходов из текущего статуса.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrAmountMismatch — сумма из webhook не совпала с зафиксированной в заказе.
	ErrAmountMismatch = errors.New("webhook amount does not match order amount")
	// ErrPaymentReferenceMismatch — webhook принёс другой payment reference для уже оплаченного заказа.
	ErrPaymentReferenceMismatch = errors.New("payment reference mismatch for paid order")
	// ErrOrderNotPaid — операция допустима только для оплаченного заказа.
	ErrOrderNotPaid = errors.New("order is not paid")
	// ErrOrderRefunded — доступ закрыт, так как заказ возвращён.
	ErrOrderRefunded = errors.New("order is refunded")
	// ErrDownloadExpired — окно скачивания истекло.
	ErrDownloadExpired = errors.New("download window expired")
	// ErrArtifactsNotReady — документы ещё генерируются; клиенту стоит повторить позже.
	ErrArtifactsNotReady = errors.New("artifacts are not ready yet")
	// ErrInvalidSignature — подпись webhook не прошла проверку; тело не разбирается.
	ErrInvalidSignature = errors.New("webhook signature is invalid")
	// ErrDuplicateWebhookEvent — событие с таким id уже обработано; подтверждаем без повторной обработки.
	ErrDuplicateWebhookEvent = errors.New("webhook event already processed")
	// ErrWebhookEventRequired — отсутствует обязательный идентификатор события.
	ErrWebhookEventRequired = errors.New("webhook event_id is required")
	// ErrWebhookEventNotFound — запись о событии не найдена.
	ErrWebhookEventNotFound = errors.New("webhook event not found")
	// ErrTemplateNotFound — шаблон документа не найден в источнике.
	ErrTemplateNotFound = errors.New("document template not found")
	// ErrObjectNotFound — объект отсутствует в хранилище (sweeper трактует как успех удаления).
	ErrObjectNotFound = errors.New("object not found in store")
	// ErrRenderFailure — временная ошибка генератора документов, можно повторить.
	ErrRenderFailure = errors.New("document render failed")
	// ErrStorageFailure — временная ошибка объектного хранилища, можно повторить.
	ErrStorageFailure = errors.New("object storage failure")
	// ErrRefundGatewayFailure — провайдер не смог провести возврат; статус заказа не меняется.
	ErrRefundGatewayFailure = errors.New("payment gateway refund failed")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsNotFound проверяет ошибку отсутствия заказа.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound)
}
