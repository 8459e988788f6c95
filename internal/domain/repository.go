package domain

import "time"

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ошибку, если запись с таким ID уже существует.
	Create(order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(id string) (Order, error)
	// GetByIDAndEmail возвращает заказ только при совпадении e-mail (без учёта регистра);
	// несовпадение неотличимо от отсутствия заказа — обе ситуации дают ErrOrderNotFound.
	GetByIDAndEmail(id, email string) (Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking по Version.
	Save(order Order) error
	// ListExpired возвращает оплаченные заказы с истёкшим окном скачивания,
	// у которых ещё записаны артефакты (кандидаты для sweeper), не более limit.
	ListExpired(before time.Time, limit int) ([]Order, error)
}

// WebhookEventRepository хранит записи дедупликации провайдерских событий.
type WebhookEventRepository interface {
	// CreateProcessing регистрирует новое событие. Повторный вызов для того же
	// event id возвращает существующую запись и ErrDuplicateWebhookEvent.
	CreateProcessing(eventID, provider, eventType, payloadHash string, ttlAt time.Time) (WebhookEventRecord, error)
	Get(eventID string) (WebhookEventRecord, error)
	MarkDone(eventID, orderID string) error
	MarkFailed(eventID, orderID string) error
	// DeleteExpired удаляет записи с ttl <= before, не более limit за вызов.
	DeleteExpired(before time.Time, limit int) (int, error)
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(orderID string) ([]TimelineEvent, error)
}
