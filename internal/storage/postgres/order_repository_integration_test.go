package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/divyanshbajpai27/contractfabricorep/internal/domain"
)

func TestOrderRepository_PostgresCreateGetAndSave(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)

	now := time.Now().UTC().Round(time.Microsecond)
	order := sampleOrder("order-1", "Client@Example.com", now)

	if err := repo.Create(order); err != nil {
		t.Fatalf("create order: %v", err)
	}

	got, err := repo.Get(order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.TemplateID != order.TemplateID || got.Status != order.Status {
		t.Fatalf("unexpected order payload: %+v", got)
	}
	if got.FormData["party_a"] != "Acme LLC" {
		t.Fatalf("form data not round-tripped: %+v", got.FormData)
	}
	if !got.DownloadExpiry.IsZero() {
		t.Fatalf("pending order must not carry download expiry, got %v", got.DownloadExpiry)
	}

	// Доступ по e-mail нечувствителен к регистру.
	if _, err := repo.GetByIDAndEmail(order.ID, "client@example.COM"); err != nil {
		t.Fatalf("get by id and email: %v", err)
	}
	if _, err := repo.GetByIDAndEmail(order.ID, "other@example.com"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound for foreign email, got %v", err)
	}

	got.Status = domain.OrderStatusPaid
	got.PaymentReference = "pay-ref-1"
	got.DownloadExpiry = now.Add(7 * 24 * time.Hour)
	got.Artifacts = []domain.Artifact{
		{Role: domain.ArtifactRolePDF, ObjectKey: "orders/order-1/contract.pdf", CreatedAt: now},
		{Role: domain.ArtifactRoleDOCX, ObjectKey: "orders/order-1/contract.docx", CreatedAt: now},
	}
	got.UpdatedAt = now.Add(time.Minute)
	if err := repo.Save(got); err != nil {
		t.Fatalf("save order: %v", err)
	}

	updated, err := repo.Get(order.ID)
	if err != nil {
		t.Fatalf("get updated order: %v", err)
	}
	if updated.Status != domain.OrderStatusPaid {
		t.Fatalf("unexpected status after save: %s", updated.Status)
	}
	if updated.Version != got.Version+1 {
		t.Fatalf("unexpected version after save: got=%d want=%d", updated.Version, got.Version+1)
	}
	if len(updated.Artifacts) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(updated.Artifacts))
	}
	if updated.DownloadExpiry.IsZero() {
		t.Fatal("paid order must carry download expiry")
	}
}

func TestOrderRepository_PostgresErrors(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)

	now := time.Now().UTC().Round(time.Microsecond)
	base := sampleOrder("order-errors", "client@example.com", now)

	if _, err := repo.Get("missing-order"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}

	if err := repo.Save(base); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound on save missing, got %v", err)
	}

	if err := repo.Create(base); err != nil {
		t.Fatalf("create base order: %v", err)
	}
	if err := repo.Create(base); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected ErrOrderVersionConflict on duplicate create, got %v", err)
	}

	stale := base
	stale.Status = domain.OrderStatusPaid
	stale.UpdatedAt = now.Add(time.Minute)
	stale.Version = 42
	if err := repo.Save(stale); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected ErrOrderVersionConflict on stale save, got %v", err)
	}
}

func TestOrderRepository_PostgresListExpired(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)

	now := time.Now().UTC().Round(time.Microsecond)

	expired := sampleOrder("order-expired", "client@example.com", now)
	expired.Status = domain.OrderStatusPaid
	expired.DownloadExpiry = now.Add(-time.Hour)
	expired.Artifacts = []domain.Artifact{{Role: domain.ArtifactRolePDF, ObjectKey: "orders/order-expired/contract.pdf", CreatedAt: now}}

	active := sampleOrder("order-active", "client@example.com", now)
	active.Status = domain.OrderStatusPaid
	active.DownloadExpiry = now.Add(time.Hour)
	active.Artifacts = []domain.Artifact{{Role: domain.ArtifactRolePDF, ObjectKey: "orders/order-active/contract.pdf", CreatedAt: now}}

	// Истёкший, но уже зачищенный: артефактов нет.
	swept := sampleOrder("order-swept", "client@example.com", now)
	swept.Status = domain.OrderStatusPaid
	swept.DownloadExpiry = now.Add(-2 * time.Hour)

	for _, order := range []domain.Order{expired, active, swept} {
		if err := repo.Create(order); err != nil {
			t.Fatalf("create %s: %v", order.ID, err)
		}
	}

	candidates, err := repo.ListExpired(now, 10)
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if len(candidates) != 1 || candidates[0].ID != "order-expired" {
		t.Fatalf("unexpected expired candidates: %+v", candidates)
	}
	if len(candidates[0].Artifacts) != 1 {
		t.Fatalf("expected candidate artifacts to be loaded, got %d", len(candidates[0].Artifacts))
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Fatal("expected unique violation for code 23505")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "22001"}) {
		t.Fatal("unexpected unique violation for non-unique code")
	}
	if isUniqueViolation(errors.New("plain error")) {
		t.Fatal("plain error must not be unique violation")
	}
}

func sampleOrder(id, email string, createdAt time.Time) domain.Order {
	return domain.Order{
		ID:            id,
		TemplateID:    "tpl-nda",
		CustomerEmail: email,
		FormData:      map[string]string{"party_a": "Acme LLC"},
		Currency:      "USD",
		AmountMinor:   999,
		Status:        domain.OrderStatusPending,
		Version:       0,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
}
