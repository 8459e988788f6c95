package domain

// PaymentEvent — внутреннее событие, двигающее заказ по таблице переходов.
type PaymentEvent string

const (
	// PaymentEventConfirmed — провайдер подтвердил списание средств.
	PaymentEventConfirmed PaymentEvent = "payment_confirmed"
	// PaymentEventSessionExpired — checkout-сессия истекла без оплаты.
	PaymentEventSessionExpired PaymentEvent = "session_expired"
	// PaymentEventFailed — провайдер отклонил платёж.
	PaymentEventFailed PaymentEvent = "payment_failed"
	// PaymentEventRefundIssued — оператор провёл полный возврат.
	PaymentEventRefundIssued PaymentEvent = "refund_issued"
)

// transitionTable перечисляет все разрешённые переходы.
// Любая пара (статус, событие) вне таблицы — ErrInvalidTransition.
var transitionTable = map[OrderStatus]map[PaymentEvent]OrderStatus{
	OrderStatusPending: {
		PaymentEventConfirmed:      OrderStatusPaid,
		PaymentEventSessionExpired: OrderStatusFailed,
		PaymentEventFailed:         OrderStatusFailed,
	},
	OrderStatusPaid: {
		PaymentEventRefundIssued: OrderStatusRefunded,
	},
}

// Valid проверяет, что событие относится к поддерживаемым значениям.
func (e PaymentEvent) Valid() bool {
	switch e {
	case PaymentEventConfirmed, PaymentEventSessionExpired, PaymentEventFailed, PaymentEventRefundIssued:
		return true
	default:
		return false
	}
}

// NextStatus возвращает целевой статус для события из статуса from.
// Если заказ уже находится в целевом статусе события, возвращается
// alreadyApplied=true — так повторная доставка webhook становится no-op.
func NextStatus(from OrderStatus, event PaymentEvent) (to OrderStatus, alreadyApplied bool, err error) {
	if targets, ok := transitionTable[from]; ok {
		if target, ok := targets[event]; ok {
			return target, false, nil
		}
	}

	// Повторная доставка: статус уже равен цели события из какого-то допустимого перехода.
	for _, targets := range transitionTable {
		if target, ok := targets[event]; ok && target == from {
			return from, true, nil
		}
	}

	return from, false, ErrInvalidTransition
}

// IsTerminal сообщает, запрещены ли любые дальнейшие переходы из статуса
// (paid терминален для всего, кроме refund_issued).
func IsTerminal(status OrderStatus) bool {
	return status == OrderStatusFailed || status == OrderStatusRefunded
}
