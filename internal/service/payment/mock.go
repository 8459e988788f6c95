package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/divyanshbajpai27/contractfabricorep/internal/domain"
)

const defaultSessionTTL = 30 * time.Minute

// MockGateway — конфигурируемая заглушка PaymentGateway. Подпись webhook
// считается как HMAC-SHA256 от сырого тела с общим секретом провайдера.
// Счётчики защищены мьютексом: HTTP-обработчики зовут gateway конкурентно.
type MockGateway struct {
	secret []byte
	mu     sync.Mutex

	CreateSessionErr error
	RefundErr        error

	CreateSessionCalls int
	RefundCalls        int
}

// NewMockGateway возвращает gateway с успешным сценарием по умолчанию.
func NewMockGateway(secret []byte) *MockGateway {
	return &MockGateway{secret: secret}
}

// CreateSession создаёт checkout-сессию и считает вызовы.
func (m *MockGateway) CreateSession(_ context.Context, order domain.Order) (domain.CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CreateSessionCalls++
	if m.CreateSessionErr != nil {
		return domain.CheckoutSession{}, m.CreateSessionErr
	}

	sessionID := "cs_" + uuid.NewString()
	return domain.CheckoutSession{
		ID:          sessionID,
		CheckoutURL: "https://pay.example.test/session/" + sessionID,
		ExpiresAt:   time.Now().UTC().Add(defaultSessionTTL),
	}, nil
}

// VerifySignature сверяет подпись webhook с HMAC-SHA256 от тела запроса.
func (m *MockGateway) VerifySignature(body []byte, signature string) bool {
	expected := m.Sign(body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Sign выдаёт подпись для тела запроса. Используется провайдером
// при отправке webhook и тестами для формирования валидных запросов.
func (m *MockGateway) Sign(body []byte) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Refund проводит полный возврат и считает вызовы.
func (m *MockGateway) Refund(_ context.Context, paymentReference string, amountMinor int64, currency string) (domain.RefundResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RefundCalls++
	if m.RefundErr != nil {
		return domain.RefundResult{}, m.RefundErr
	}

	return domain.RefundResult{
		RefundID:    "re_" + uuid.NewString(),
		AmountMinor: amountMinor,
		Currency:    currency,
	}, nil
}

var _ domain.PaymentGateway = (*MockGateway)(nil)
