package sweeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/divyanshbajpai27/contractfabricorep/internal/domain"
	"github.com/divyanshbajpai27/contractfabricorep/internal/storage/blob"
	"github.com/divyanshbajpai27/contractfabricorep/internal/storage/memory"
)

type sweeperEnv struct {
	worker   *Worker
	orders   domain.OrderRepository
	store    *blob.Store
	timeline domain.TimelineRepository
}

func newSweeperEnv(t *testing.T, options ...Option) *sweeperEnv {
	t.Helper()

	orders := memory.NewOrderRepository()
	store := blob.NewStore("https://files.example.test", []byte("sign-secret"))
	timeline := memory.NewTimelineRepository()

	worker := NewWorker(orders, store, memory.NewOutboxRepository(), timeline, nil, options...)
	return &sweeperEnv{worker: worker, orders: orders, store: store, timeline: timeline}
}

func (e *sweeperEnv) createExpiredOrder(t *testing.T, id string, withBlobs bool) domain.Order {
	t.Helper()

	now := time.Now().UTC()
	order := domain.Order{
		ID:               id,
		TemplateID:       "tpl-nda",
		CustomerEmail:    "client@example.com",
		Currency:         "USD",
		AmountMinor:      1999,
		Status:           domain.OrderStatusPaid,
		PaymentReference: "pay-" + id,
		Artifacts: []domain.Artifact{
			{Role: domain.ArtifactRolePDF, ObjectKey: "orders/" + id + "/pdf", CreatedAt: now},
			{Role: domain.ArtifactRoleDOCX, ObjectKey: "orders/" + id + "/docx", CreatedAt: now},
		},
		DownloadExpiry: now.Add(-time.Hour),
		CreatedAt:      now.Add(-8 * 24 * time.Hour),
		UpdatedAt:      now,
	}
	if err := e.orders.Create(order); err != nil {
		t.Fatalf("create order: %v", err)
	}
	if withBlobs {
		for _, artifact := range order.Artifacts {
			if err := e.store.Put(context.Background(), artifact.ObjectKey, []byte("doc")); err != nil {
				t.Fatalf("put: %v", err)
			}
		}
	}
	return order
}

func TestWorker_Sweep(t *testing.T) {
	env := newSweeperEnv(t)
	order := env.createExpiredOrder(t, "order-1", true)

	swept, err := env.worker.Sweep(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected 1 swept order, got %d", swept)
	}

	for _, artifact := range order.Artifacts {
		if _, err := env.store.Get(context.Background(), artifact.ObjectKey); !errors.Is(err, domain.ErrObjectNotFound) {
			t.Fatalf("blob %s must be deleted, got %v", artifact.ObjectKey, err)
		}
	}

	stored, _ := env.orders.Get("order-1")
	if len(stored.Artifacts) != 0 {
		t.Fatalf("artifact pointers must be cleared, got %+v", stored.Artifacts)
	}
	// Истечение окна отнимает доступ, но не историю оплаты.
	if stored.Status != domain.OrderStatusPaid {
		t.Fatalf("status must stay paid, got %s", stored.Status)
	}

	events, _ := env.timeline.List("order-1")
	if len(events) != 1 || events[0].Type != "OrderExpiredSwept" {
		t.Fatalf("unexpected timeline: %+v", events)
	}
}

func TestWorker_SweepSkipsActiveOrders(t *testing.T) {
	env := newSweeperEnv(t)

	active := env.createExpiredOrder(t, "order-active", true)
	active.DownloadExpiry = time.Now().UTC().Add(48 * time.Hour)
	if err := env.orders.Save(active); err != nil {
		t.Fatalf("save: %v", err)
	}

	swept, err := env.worker.Sweep(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 0 {
		t.Fatalf("active order must not be swept, got %d", swept)
	}

	stored, _ := env.orders.Get("order-active")
	if len(stored.Artifacts) != 2 {
		t.Fatalf("artifacts must survive, got %+v", stored.Artifacts)
	}
}

func TestWorker_SweepToleratesMissingBlobs(t *testing.T) {
	env := newSweeperEnv(t)
	// Прошлый проход упал между удалением объектов и очисткой указателей.
	env.createExpiredOrder(t, "order-1", false)

	swept, err := env.worker.Sweep(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("sweep must tolerate missing blobs: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected 1 swept order, got %d", swept)
	}

	stored, _ := env.orders.Get("order-1")
	if len(stored.Artifacts) != 0 {
		t.Fatalf("artifact pointers must be cleared, got %+v", stored.Artifacts)
	}
}

func TestWorker_SweepBatches(t *testing.T) {
	env := newSweeperEnv(t, WithBatchSize(2))
	for _, id := range []string{"order-1", "order-2", "order-3", "order-4", "order-5"} {
		env.createExpiredOrder(t, id, true)
	}

	swept, err := env.worker.Sweep(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 5 {
		t.Fatalf("expected 5 swept orders, got %d", swept)
	}
}

func TestWorker_RunStopsOnContextCancel(t *testing.T) {
	env := newSweeperEnv(t, WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		env.worker.Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}
