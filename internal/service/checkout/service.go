package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/divyanshbajpai27/contractfabricorep/internal/domain"
	"github.com/divyanshbajpai27/contractfabricorep/internal/metrics"
)

const gatewayTimeout = 5 * time.Second

// Service создаёт заказы и checkout-сессии у платёжного провайдера.
type Service struct {
	orders    domain.OrderRepository
	templates domain.TemplateSource
	gateway   domain.PaymentGateway
	outbox    domain.OutboxRepository
	timeline  domain.TimelineRepository
	logger    *log.Entry
	metrics   *metrics.PipelineMetrics
}

// NewService создаёт сервис оформления заказа.
func NewService(
	orders domain.OrderRepository,
	templates domain.TemplateSource,
	gateway domain.PaymentGateway,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	logger *log.Entry,
	pipelineMetrics *metrics.PipelineMetrics,
) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "checkout")
	}
	return &Service{
		orders:    orders,
		templates: templates,
		gateway:   gateway,
		outbox:    outbox,
		timeline:  timeline,
		logger:    logger,
		metrics:   pipelineMetrics,
	}
}

// Result — созданный заказ вместе со ссылкой на оплату.
type Result struct {
	Order       domain.Order
	CheckoutURL string
}

// Create оформляет новый заказ: фиксирует цену из шаблона, создаёт
// pending-заказ и checkout-сессию у провайдера.
func (s *Service) Create(ctx context.Context, templateID, email string, formData map[string]string) (Result, error) {
	templateID = strings.TrimSpace(templateID)
	email = strings.TrimSpace(email)

	if templateID == "" {
		return Result{}, domain.ErrTemplateRequired
	}
	if email == "" {
		return Result{}, domain.ErrEmailRequired
	}

	tpl, err := s.templates.Load(ctx, templateID)
	if err != nil {
		return Result{}, err
	}

	now := time.Now().UTC()
	order := domain.Order{
		ID:            uuid.NewString(),
		TemplateID:    tpl.ID,
		CustomerEmail: email,
		FormData:      formData,
		Currency:      tpl.Currency,
		AmountMinor:   tpl.PriceMinor,
		Status:        domain.OrderStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return Result{}, errs[0]
	}

	sessionCtx, cancel := context.WithTimeout(ctx, gatewayTimeout)
	defer cancel()

	session, err := s.gateway.CreateSession(sessionCtx, order)
	if err != nil {
		return Result{}, fmt.Errorf("create checkout session: %w", err)
	}
	order.CheckoutSessionID = session.ID

	if err := s.orders.Create(order); err != nil {
		return Result{}, err
	}

	if s.metrics != nil {
		s.metrics.RecordOrderCreated()
	}
	s.emitOrderCreated(&order)

	s.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"template_id": order.TemplateID,
		"amount":      order.AmountMinor,
		"currency":    order.Currency,
	}).Info("order created")

	return Result{Order: order, CheckoutURL: session.CheckoutURL}, nil
}

func (s *Service) emitOrderCreated(order *domain.Order) {
	payload, err := json.Marshal(map[string]interface{}{
		"order_id":    order.ID,
		"template_id": order.TemplateID,
		"amount":      order.AmountMinor,
		"currency":    order.Currency,
		"created_at":  order.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Error("marshal event failed")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     "OrderCreated",
		Payload:       payload,
	}
	if _, err := s.outbox.Enqueue(msg); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Error("enqueue event failed")
	} else if s.metrics != nil {
		s.metrics.RecordOutboxEvent()
	}

	if s.timeline != nil {
		event := domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     "OrderCreated",
			Occurred: order.CreatedAt,
		}
		if err := s.timeline.Append(event); err != nil {
			s.logger.WithError(err).WithField("order_id", order.ID).Warn("append timeline event failed")
		} else if s.metrics != nil {
			s.metrics.RecordTimelineEvent()
		}
	}
}
