package checkout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/divyanshbajpai27/contractfabricorep/internal/domain"
	"github.com/divyanshbajpai27/contractfabricorep/internal/service/payment"
	"github.com/divyanshbajpai27/contractfabricorep/internal/service/template"
	"github.com/divyanshbajpai27/contractfabricorep/internal/storage/memory"
)

func newTestService(t *testing.T) (*Service, *payment.MockGateway, domain.OrderRepository, domain.TimelineRepository) {
	t.Helper()

	source := template.NewMemorySource(domain.Template{
		ID:         "tpl-nda",
		Name:       "NDA",
		Body:       []byte("NDA between {{party_a}} and {{party_b}}."),
		PriceMinor: 1999,
		Currency:   "USD",
		Version:    1,
		UpdatedAt:  time.Now().UTC(),
	})
	gateway := payment.NewMockGateway([]byte("secret"))
	orders := memory.NewOrderRepository()
	timeline := memory.NewTimelineRepository()

	svc := NewService(orders, template.NewCache(source), gateway, memory.NewOutboxRepository(), timeline, nil, nil)
	return svc, gateway, orders, timeline
}

func TestService_Create(t *testing.T) {
	svc, gateway, orders, timeline := newTestService(t)

	formData := map[string]string{"party_a": "Acme LLC", "party_b": "Globex Inc"}
	result, err := svc.Create(context.Background(), "tpl-nda", "Client@Example.com", formData)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	order := result.Order
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending, got %s", order.Status)
	}
	if order.AmountMinor != 1999 || order.Currency != "USD" {
		t.Fatalf("price must be fixed from template: %+v", order)
	}
	if order.CheckoutSessionID == "" || result.CheckoutURL == "" {
		t.Fatalf("session must be recorded: %+v", result)
	}
	if !order.DownloadExpiry.IsZero() {
		t.Fatal("download window must not start before payment")
	}
	if gateway.CreateSessionCalls != 1 {
		t.Fatalf("expected 1 gateway call, got %d", gateway.CreateSessionCalls)
	}

	stored, err := orders.Get(order.ID)
	if err != nil {
		t.Fatalf("order must be persisted: %v", err)
	}
	if stored.FormData["party_a"] != "Acme LLC" {
		t.Fatalf("form data lost: %+v", stored.FormData)
	}

	events, _ := timeline.List(order.ID)
	if len(events) != 1 || events[0].Type != "OrderCreated" {
		t.Fatalf("unexpected timeline: %+v", events)
	}
}

func TestService_CreateValidation(t *testing.T) {
	svc, gateway, _, _ := newTestService(t)

	if _, err := svc.Create(context.Background(), "  ", "client@example.com", nil); !errors.Is(err, domain.ErrTemplateRequired) {
		t.Fatalf("expected ErrTemplateRequired, got %v", err)
	}
	if _, err := svc.Create(context.Background(), "tpl-nda", "  ", nil); !errors.Is(err, domain.ErrEmailRequired) {
		t.Fatalf("expected ErrEmailRequired, got %v", err)
	}
	if _, err := svc.Create(context.Background(), "tpl-missing", "client@example.com", nil); !errors.Is(err, domain.ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}
	if gateway.CreateSessionCalls != 0 {
		t.Fatalf("gateway must not be called on validation failure, got %d", gateway.CreateSessionCalls)
	}
}

// countingOrderRepo считает вызовы Create поверх обычного репозитория.
type countingOrderRepo struct {
	domain.OrderRepository
	createCalls int
}

func (r *countingOrderRepo) Create(order domain.Order) error {
	r.createCalls++
	return r.OrderRepository.Create(order)
}

func TestService_CreateGatewayFailure(t *testing.T) {
	source := template.NewMemorySource(domain.Template{
		ID: "tpl-nda", Body: []byte("x"), PriceMinor: 1999, Currency: "USD",
	})
	gateway := payment.NewMockGateway([]byte("secret"))
	gateway.CreateSessionErr = errors.New("provider down")
	orders := &countingOrderRepo{OrderRepository: memory.NewOrderRepository()}

	svc := NewService(orders, template.NewCache(source), gateway, memory.NewOutboxRepository(), memory.NewTimelineRepository(), nil, nil)

	if _, err := svc.Create(context.Background(), "tpl-nda", "client@example.com", nil); err == nil {
		t.Fatal("expected gateway error to surface")
	}

	// Заказ без сессии не сохраняется: клиент просто повторит оформление.
	if orders.createCalls != 0 {
		t.Fatalf("order must not be persisted without a session, got %d creates", orders.createCalls)
	}
}
