package domain

import (
	"context"
	"time"
)

// CheckoutSession — сессия оплаты, созданная провайдером для заказа.
type CheckoutSession struct {
	ID          string
	CheckoutURL string
	ExpiresAt   time.Time
}

// RefundResult — результат возврата средств у провайдера.
type RefundResult struct {
	RefundID    string
	AmountMinor int64
	Currency    string
}

// PaymentGateway описывает взаимодействие с платёжным провайдером.
// Все вызовы блокирующие и должны выполняться с ограниченным таймаутом.
type PaymentGateway interface {
	// CreateSession создаёт checkout-сессию под заказ.
	CreateSession(ctx context.Context, order Order) (CheckoutSession, error)
	// VerifySignature проверяет подпись webhook по сырому телу запроса.
	// Неподписанные тела не должны разбираться вообще.
	VerifySignature(body []byte, signature string) bool
	// Refund проводит полный возврат по ранее зафиксированному payment reference.
	Refund(ctx context.Context, paymentReference string, amountMinor int64, currency string) (RefundResult, error)
}

// DocumentRenderer генерирует байты документа по шаблону и данным формы.
type DocumentRenderer interface {
	Render(ctx context.Context, tpl Template, formData map[string]string, role ArtifactRole) ([]byte, error)
}

// ObjectStore — непрозрачное blob-хранилище с подписанным read-доступом.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
	// SignedURL выпускает временную ссылку на чтение объекта.
	SignedURL(key string, ttl time.Duration) (string, error)
	// Delete удаляет объект; отсутствие объекта возвращается как ErrObjectNotFound.
	Delete(ctx context.Context, key string) error
}

// ArtifactURL — подписанная ссылка на один артефакт заказа.
type ArtifactURL struct {
	Role ArtifactRole
	URL  string
}

// Notifier отправляет письма клиенту. С точки зрения конвейера это
// fire-and-forget: ошибки логируются и не откатывают состояние заказа.
type Notifier interface {
	SendOrderReady(ctx context.Context, email string, urls []ArtifactURL, expiresAt time.Time) error
	SendPaymentFailed(ctx context.Context, email, orderID string) error
}

// TemplateSource отдаёт шаблоны документов; перед ним стоит read-through кэш.
type TemplateSource interface {
	Load(ctx context.Context, templateID string) (Template, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}
