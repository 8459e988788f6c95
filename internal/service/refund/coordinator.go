package refund

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/divyanshbajpai27/contractfabricorep/internal/domain"
	"github.com/divyanshbajpai27/contractfabricorep/internal/service/order"
)

const gatewayTimeout = 10 * time.Second

// Coordinator проводит полный возврат средств: единственный переход в
// конвейере, который запускает оператор, а не событие провайдера.
type Coordinator struct {
	orders  domain.OrderRepository
	gateway domain.PaymentGateway
	machine *order.Machine
	logger  *log.Entry
}

// NewCoordinator создаёт координатор возвратов.
func NewCoordinator(orders domain.OrderRepository, gateway domain.PaymentGateway, machine *order.Machine, logger *log.Entry) *Coordinator {
	if logger == nil {
		logger = log.New().WithField("component", "refund")
	}
	return &Coordinator{
		orders:  orders,
		gateway: gateway,
		machine: machine,
		logger:  logger,
	}
}

// Result — итог возврата для оператора.
type Result struct {
	RefundID    string
	AmountMinor int64
	Currency    string
}

// Refund возвращает средства по оплаченному заказу. Повтор по уже
// возвращённому заказу отдаёт исходный результат без похода к провайдеру.
// При отказе провайдера заказ остаётся paid, ошибка отдаётся оператору.
func (c *Coordinator) Refund(ctx context.Context, orderID, reason, actorID string) (Result, error) {
	current, err := c.orders.Get(orderID)
	if err != nil {
		return Result{}, err
	}

	logger := c.logger.WithFields(log.Fields{
		"order_id": orderID,
		"actor_id": actorID,
	})

	switch current.Status {
	case domain.OrderStatusRefunded:
		logger.WithField("refund_id", current.RefundID).Info("repeat refund, returning stored result")
		return Result{
			RefundID:    current.RefundID,
			AmountMinor: current.AmountMinor,
			Currency:    current.Currency,
		}, nil
	case domain.OrderStatusPaid:
		// Возврат допустим.
	default:
		return Result{}, domain.ErrOrderNotPaid
	}

	refundCtx, cancel := context.WithTimeout(ctx, gatewayTimeout)
	defer cancel()

	refund, err := c.gateway.Refund(refundCtx, current.PaymentReference, current.AmountMinor, current.Currency)
	if err != nil {
		logger.WithError(err).Error("gateway refund failed, order stays paid")
		return Result{}, fmt.Errorf("%w: %v", domain.ErrRefundGatewayFailure, err)
	}

	updated, applied, err := c.machine.Apply(orderID, domain.PaymentEventRefundIssued, reason, func(o *domain.Order) {
		o.RefundID = refund.RefundID
	})
	if err != nil {
		// Деньги ушли клиенту, а переход не записался: это инцидент учёта.
		logger.WithError(err).WithField("refund_id", refund.RefundID).
			Error("refund executed but state transition failed")
		return Result{}, err
	}
	if !applied {
		// Гонка двух операторов: переход уже применён, отдаём записанный результат.
		logger.WithField("refund_id", updated.RefundID).Info("refund already applied concurrently")
		return Result{
			RefundID:    updated.RefundID,
			AmountMinor: updated.AmountMinor,
			Currency:    updated.Currency,
		}, nil
	}

	logger.WithFields(log.Fields{
		"refund_id": refund.RefundID,
		"amount":    refund.AmountMinor,
	}).Info("refund completed")

	return Result{
		RefundID:    refund.RefundID,
		AmountMinor: refund.AmountMinor,
		Currency:    refund.Currency,
	}, nil
}
