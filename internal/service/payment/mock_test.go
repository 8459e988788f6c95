package payment

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/divyanshbajpai27/contractfabricorep/internal/domain"
)

func TestMockGateway_CreateSession(t *testing.T) {
	gw := NewMockGateway([]byte("secret"))

	session, err := gw.CreateSession(context.Background(), domain.Order{ID: "order-1"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if !strings.HasPrefix(session.ID, "cs_") {
		t.Fatalf("unexpected session id %q", session.ID)
	}
	if session.CheckoutURL == "" || session.ExpiresAt.IsZero() {
		t.Fatalf("incomplete session: %+v", session)
	}
	if gw.CreateSessionCalls != 1 {
		t.Fatalf("expected 1 call, got %d", gw.CreateSessionCalls)
	}

	gw.CreateSessionErr = errors.New("provider down")
	if _, err := gw.CreateSession(context.Background(), domain.Order{ID: "order-2"}); err == nil {
		t.Fatal("expected configured error")
	}
}

func TestMockGateway_VerifySignature(t *testing.T) {
	gw := NewMockGateway([]byte("secret"))
	body := []byte(`{"event_id":"evt-1"}`)

	if !gw.VerifySignature(body, gw.Sign(body)) {
		t.Fatal("own signature must verify")
	}
	if gw.VerifySignature(body, "deadbeef") {
		t.Fatal("garbage signature must not verify")
	}
	if gw.VerifySignature([]byte(`{"event_id":"evt-2"}`), gw.Sign(body)) {
		t.Fatal("signature is bound to the body")
	}

	other := NewMockGateway([]byte("other"))
	if other.VerifySignature(body, gw.Sign(body)) {
		t.Fatal("signature must not verify under another secret")
	}
}

func TestMockGateway_Refund(t *testing.T) {
	gw := NewMockGateway([]byte("secret"))

	result, err := gw.Refund(context.Background(), "pay-1", 999, "USD")
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if !strings.HasPrefix(result.RefundID, "re_") {
		t.Fatalf("unexpected refund id %q", result.RefundID)
	}
	if result.AmountMinor != 999 || result.Currency != "USD" {
		t.Fatalf("unexpected refund result: %+v", result)
	}
	if gw.RefundCalls != 1 {
		t.Fatalf("expected 1 refund call, got %d", gw.RefundCalls)
	}

	gw.RefundErr = errors.New("gateway 502")
	if _, err := gw.Refund(context.Background(), "pay-1", 999, "USD"); err == nil {
		t.Fatal("expected configured refund error")
	}
}
