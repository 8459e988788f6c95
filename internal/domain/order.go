package domain

import (
	"strings"
	"time"
)

// OrderStatus описывает жизненный цикл заказа на документ.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, платёж ещё не подтверждён.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid — оплата подтверждена провайдером, документы готовятся или уже доступны.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusFailed — checkout-сессия истекла или платёж отклонён (терминальный).
	OrderStatusFailed OrderStatus = "failed"
	// OrderStatusRefunded — деньги возвращены клиенту (терминальный).
	OrderStatusRefunded OrderStatus = "refunded"
)

// ArtifactRole определяет тип сгенерированного файла.
type ArtifactRole string

const (
	ArtifactRolePDF  ArtifactRole = "pdf"
	ArtifactRoleDOCX ArtifactRole = "docx"
)

// RequiredArtifactRoles — набор ролей, который fulfillment обязан сгенерировать для каждого заказа.
var RequiredArtifactRoles = []ArtifactRole{ArtifactRolePDF, ArtifactRoleDOCX}

// Artifact — один сгенерированный файл заказа. Хранится только стабильный
// ключ в объектном хранилище; подписанные URL всегда выпускаются заново.
type Artifact struct {
	Role      ArtifactRole
	ObjectKey string
	CreatedAt time.Time
}

// Order агрегирует состояние покупки одного документа.
type Order struct {
	ID            string
	TemplateID    string
	CustomerEmail string
	// FormData — данные формы клиента; неизменяемы после оплаты.
	FormData map[string]string
	Currency string
	// AmountMinor — цена, зафиксированная при создании checkout-сессии.
	// Webhook сверяется с ней, но никогда её не перезаписывает.
	AmountMinor       int64
	Status            OrderStatus
	CheckoutSessionID string
	// PaymentReference устанавливается ровно один раз при подтверждении оплаты.
	PaymentReference string
	// RefundID запоминается при возврате, чтобы повторный refund вернул исходный результат.
	RefundID  string
	Artifacts []Artifact
	// DownloadExpiry — конец окна доступа; нулевое значение означает, что окно не началось.
	DownloadExpiry time.Time
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.TemplateID == "" {
		errs = append(errs, ErrTemplateRequired)
	}
	if strings.TrimSpace(o.CustomerEmail) == "" {
		errs = append(errs, ErrEmailRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if o.AmountMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}
	// Артефакты могут существовать только у оплаченного (или возвращённого после оплаты) заказа.
	if len(o.Artifacts) > 0 && o.Status != OrderStatusPaid && o.Status != OrderStatusRefunded {
		errs = append(errs, ErrArtifactsWithoutPayment)
	}

	return errs
}

// ArtifactByRole возвращает артефакт указанной роли, если он записан.
func (o *Order) ArtifactByRole(role ArtifactRole) (Artifact, bool) {
	for _, a := range o.Artifacts {
		if a.Role == role {
			return a, true
		}
	}
	return Artifact{}, false
}

// ArtifactsComplete сообщает, сгенерированы ли все обязательные роли.
func (o *Order) ArtifactsComplete() bool {
	for _, role := range RequiredArtifactRoles {
		if _, ok := o.ArtifactByRole(role); !ok {
			return false
		}
	}
	return true
}

// EmailMatches сравнивает e-mail без учёта регистра и пробелов по краям.
func (o *Order) EmailMatches(email string) bool {
	return strings.EqualFold(strings.TrimSpace(o.CustomerEmail), strings.TrimSpace(email))
}

// DownloadWindowOpen сообщает, действует ли окно скачивания в момент now.
func (o *Order) DownloadWindowOpen(now time.Time) bool {
	return !o.DownloadExpiry.IsZero() && now.Before(o.DownloadExpiry)
}
