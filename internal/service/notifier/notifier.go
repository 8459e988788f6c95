package notifier

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/divyanshbajpai27/contractfabricorep/internal/domain"
)

// LogNotifier пишет уведомления в структурированный лог вместо реальной
// отправки почты. Достаточно для стенда и локальной разработки.
type LogNotifier struct {
	logger *log.Entry
}

// NewLogNotifier создаёт notifier поверх переданного логгера.
func NewLogNotifier(logger *log.Entry) *LogNotifier {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &LogNotifier{logger: logger.WithField("component", "notifier")}
}

// SendOrderReady уведомляет клиента о готовых документах.
func (n *LogNotifier) SendOrderReady(_ context.Context, email string, urls []domain.ArtifactURL, expiresAt time.Time) error {
	roles := make([]string, 0, len(urls))
	for _, u := range urls {
		roles = append(roles, string(u.Role))
	}

	n.logger.WithFields(log.Fields{
		"email":      email,
		"artifacts":  roles,
		"expires_at": expiresAt.Format(time.RFC3339),
	}).Info("order ready notification sent")
	return nil
}

// SendPaymentFailed уведомляет клиента о неуспешной оплате.
func (n *LogNotifier) SendPaymentFailed(_ context.Context, email, orderID string) error {
	n.logger.WithFields(log.Fields{
		"email":    email,
		"order_id": orderID,
	}).Info("payment failed notification sent")
	return nil
}

// MockNotifier — конфигурируемая заглушка Notifier для тестов.
// Вызовы защищены мьютексом: оркестратор уведомляет из фоновых воркеров.
type MockNotifier struct {
	mu sync.Mutex

	OrderReadyErr    error
	PaymentFailedErr error

	OrderReadyCalls    int
	PaymentFailedCalls int

	LastEmail     string
	LastURLs      []domain.ArtifactURL
	LastExpiresAt time.Time
	LastOrderID   string
}

// NewMockNotifier возвращает mock с успешным сценарием по умолчанию.
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

func (m *MockNotifier) SendOrderReady(_ context.Context, email string, urls []domain.ArtifactURL, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.OrderReadyCalls++
	m.LastEmail = email
	m.LastURLs = urls
	m.LastExpiresAt = expiresAt
	if m.OrderReadyErr != nil {
		return m.OrderReadyErr
	}
	return nil
}

func (m *MockNotifier) SendPaymentFailed(_ context.Context, email, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PaymentFailedCalls++
	m.LastEmail = email
	m.LastOrderID = orderID
	if m.PaymentFailedErr != nil {
		return m.PaymentFailedErr
	}
	return nil
}

// Методы ниже нужны для безопасного чтения из других горутин.

func (m *MockNotifier) ReadyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.OrderReadyCalls
}

func (m *MockNotifier) FailedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.PaymentFailedCalls
}

func (m *MockNotifier) NotifiedEmail() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.LastEmail
}

var (
	_ domain.Notifier = (*LogNotifier)(nil)
	_ domain.Notifier = (*MockNotifier)(nil)
)
