package download

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/divyanshbajpai27/contractfabricorep/internal/domain"
	"github.com/divyanshbajpai27/contractfabricorep/internal/storage/blob"
	"github.com/divyanshbajpai27/contractfabricorep/internal/storage/memory"
)

func newTestService(t *testing.T) (*Service, domain.OrderRepository, *blob.Store) {
	t.Helper()

	orders := memory.NewOrderRepository()
	store := blob.NewStore("https://files.example.test", []byte("sign-secret"))
	return NewService(orders, store, nil, nil), orders, store
}

func paidOrder(id string, expiry time.Time) domain.Order {
	now := time.Now().UTC()
	return domain.Order{
		ID:               id,
		TemplateID:       "tpl-nda",
		CustomerEmail:    "client@example.com",
		Currency:         "USD",
		AmountMinor:      1999,
		Status:           domain.OrderStatusPaid,
		PaymentReference: "pay-1",
		Artifacts: []domain.Artifact{
			{Role: domain.ArtifactRolePDF, ObjectKey: "orders/" + id + "/pdf", CreatedAt: now},
			{Role: domain.ArtifactRoleDOCX, ObjectKey: "orders/" + id + "/docx", CreatedAt: now},
		},
		DownloadExpiry: expiry,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestService_Get(t *testing.T) {
	svc, orders, store := newTestService(t)

	order := paidOrder("order-1", time.Now().UTC().Add(48*time.Hour))
	if err := orders.Create(order); err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, artifact := range order.Artifacts {
		if err := store.Put(context.Background(), artifact.ObjectKey, []byte("doc")); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	result, err := svc.Get("order-1", "Client@Example.COM")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(result.URLs) != 2 {
		t.Fatalf("expected 2 urls, got %+v", result.URLs)
	}
	if !result.ExpiresAt.Equal(order.DownloadExpiry) {
		t.Fatalf("expected absolute expiry %v, got %v", order.DownloadExpiry, result.ExpiresAt)
	}

	// Ссылка короткоживущая: её собственный TTL ограничен сверху,
	// а не равен остатку окна скачивания.
	parsed, err := url.Parse(result.URLs[0].URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	exp, err := strconv.ParseInt(parsed.Query().Get("exp"), 10, 64)
	if err != nil {
		t.Fatalf("parse exp: %v", err)
	}
	if time.Unix(exp, 0).After(time.Now().Add(maxURLTTL + time.Minute)) {
		t.Fatalf("url ttl must be capped, exp=%d", exp)
	}
}

func TestService_GetFreshURLsPerCall(t *testing.T) {
	svc, orders, _ := newTestService(t)

	if err := orders.Create(paidOrder("order-1", time.Now().UTC().Add(48*time.Hour))); err != nil {
		t.Fatalf("create: %v", err)
	}

	first, err := svc.Get("order-1", "client@example.com")
	if err != nil {
		t.Fatalf("first get: %v", err)
	}
	time.Sleep(1100 * time.Millisecond)
	second, err := svc.Get("order-1", "client@example.com")
	if err != nil {
		t.Fatalf("second get: %v", err)
	}

	if first.URLs[0].URL == second.URLs[0].URL {
		t.Fatal("each request must mint a fresh signed url")
	}
}

func TestService_GetAccessChecks(t *testing.T) {
	svc, orders, _ := newTestService(t)

	// Нет заказа и чужой e-mail — одинаковый ответ.
	if _, err := svc.Get("missing", "client@example.com"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("missing order: %v", err)
	}
	if err := orders.Create(paidOrder("order-1", time.Now().UTC().Add(time.Hour))); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Get("order-1", "stranger@example.com"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("foreign email must look like a missing order: %v", err)
	}

	// Неоплаченный заказ.
	pending := paidOrder("order-2", time.Time{})
	pending.Status = domain.OrderStatusPending
	pending.Artifacts = nil
	pending.PaymentReference = ""
	if err := orders.Create(pending); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Get("order-2", "client@example.com"); !errors.Is(err, domain.ErrOrderNotPaid) {
		t.Fatalf("pending order: %v", err)
	}

	// Возвращённый заказ: артефакты ещё лежат, но доступ закрыт.
	refunded := paidOrder("order-3", time.Now().UTC().Add(time.Hour))
	refunded.Status = domain.OrderStatusRefunded
	refunded.RefundID = "re-1"
	if err := orders.Create(refunded); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Get("order-3", "client@example.com"); !errors.Is(err, domain.ErrOrderRefunded) {
		t.Fatalf("refunded order: %v", err)
	}
}

func TestService_GetExpiredWindow(t *testing.T) {
	svc, orders, _ := newTestService(t)

	// Окно истекло, но sweeper ещё не прошёл: артефакты физически на месте.
	expired := paidOrder("order-1", time.Now().UTC().Add(-time.Hour))
	if err := orders.Create(expired); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.Get("order-1", "client@example.com"); !errors.Is(err, domain.ErrDownloadExpired) {
		t.Fatalf("expected ErrDownloadExpired, got %v", err)
	}
}

func TestService_GetArtifactsNotReady(t *testing.T) {
	svc, orders, _ := newTestService(t)

	order := paidOrder("order-1", time.Now().UTC().Add(time.Hour))
	order.Artifacts = order.Artifacts[:1] // только pdf
	if err := orders.Create(order); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.Get("order-1", "client@example.com"); !errors.Is(err, domain.ErrArtifactsNotReady) {
		t.Fatalf("expected ErrArtifactsNotReady, got %v", err)
	}
}
