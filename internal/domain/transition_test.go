package domain_test

import (
	"errors"
	"testing"

	"github.com/divyanshbajpai27/contractfabricorep/internal/domain"
)

func TestNextStatus_Table(t *testing.T) {
	cases := []struct {
		name  string
		from  domain.OrderStatus
		event domain.PaymentEvent
		want  domain.OrderStatus
	}{
		{"pending confirmed", domain.OrderStatusPending, domain.PaymentEventConfirmed, domain.OrderStatusPaid},
		{"pending session expired", domain.OrderStatusPending, domain.PaymentEventSessionExpired, domain.OrderStatusFailed},
		{"pending payment failed", domain.OrderStatusPending, domain.PaymentEventFailed, domain.OrderStatusFailed},
		{"paid refund", domain.OrderStatusPaid, domain.PaymentEventRefundIssued, domain.OrderStatusRefunded},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			to, already, err := domain.NextStatus(tc.from, tc.event)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if already {
				t.Fatal("fresh transition must not report alreadyApplied")
			}
			if to != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, to)
			}
		})
	}
}

func TestNextStatus_Redelivery(t *testing.T) {
	// Повторная доставка того же события для заказа, уже пришедшего в цель.
	cases := []struct {
		name  string
		from  domain.OrderStatus
		event domain.PaymentEvent
	}{
		{"confirmed twice", domain.OrderStatusPaid, domain.PaymentEventConfirmed},
		{"session expired twice", domain.OrderStatusFailed, domain.PaymentEventSessionExpired},
		{"payment failed twice", domain.OrderStatusFailed, domain.PaymentEventFailed},
		{"refund twice", domain.OrderStatusRefunded, domain.PaymentEventRefundIssued},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			to, already, err := domain.NextStatus(tc.from, tc.event)
			if err != nil {
				t.Fatalf("redelivery must be a no-op success, got %v", err)
			}
			if !already {
				t.Fatal("expected alreadyApplied=true")
			}
			if to != tc.from {
				t.Fatalf("status must stay %s, got %s", tc.from, to)
			}
		})
	}
}

func TestNextStatus_Invalid(t *testing.T) {
	cases := []struct {
		name  string
		from  domain.OrderStatus
		event domain.PaymentEvent
	}{
		{"refund on pending", domain.OrderStatusPending, domain.PaymentEventRefundIssued},
		{"confirm on failed", domain.OrderStatusFailed, domain.PaymentEventConfirmed},
		{"refund on failed", domain.OrderStatusFailed, domain.PaymentEventRefundIssued},
		{"session expired on paid", domain.OrderStatusPaid, domain.PaymentEventSessionExpired},
		{"confirm on refunded", domain.OrderStatusRefunded, domain.PaymentEventConfirmed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := domain.NextStatus(tc.from, tc.event)
			if !errors.Is(err, domain.ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	if !domain.IsTerminal(domain.OrderStatusFailed) {
		t.Fatal("failed must be terminal")
	}
	if !domain.IsTerminal(domain.OrderStatusRefunded) {
		t.Fatal("refunded must be terminal")
	}
	if domain.IsTerminal(domain.OrderStatusPending) {
		t.Fatal("pending must not be terminal")
	}
	// paid не терминален: остаётся единственный переход в refunded.
	if domain.IsTerminal(domain.OrderStatusPaid) {
		t.Fatal("paid still allows refund_issued")
	}
}

func TestPaymentEventValid(t *testing.T) {
	for _, event := range []domain.PaymentEvent{
		domain.PaymentEventConfirmed,
		domain.PaymentEventSessionExpired,
		domain.PaymentEventFailed,
		domain.PaymentEventRefundIssued,
	} {
		if !event.Valid() {
			t.Fatalf("event %s must be valid", event)
		}
	}

	if domain.PaymentEvent("charge_disputed").Valid() {
		t.Fatal("unknown event must be invalid")
	}
}

func TestWebhookEventStatusValid(t *testing.T) {
	for _, status := range []domain.WebhookEventStatus{
		domain.WebhookEventStatusProcessing,
		domain.WebhookEventStatusDone,
		domain.WebhookEventStatusFailed,
	} {
		if !status.Valid() {
			t.Fatalf("status %s must be valid", status)
		}
	}

	if domain.WebhookEventStatus("queued").Valid() {
		t.Fatal("unknown status must be invalid")
	}
}
