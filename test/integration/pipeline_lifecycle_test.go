package integration

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/divyanshbajpai27/contractfabricorep/internal/domain"
	"github.com/divyanshbajpai27/contractfabricorep/internal/service/checkout"
	"github.com/divyanshbajpai27/contractfabricorep/internal/service/download"
	"github.com/divyanshbajpai27/contractfabricorep/internal/service/fulfillment"
	"github.com/divyanshbajpai27/contractfabricorep/internal/service/notifier"
	"github.com/divyanshbajpai27/contractfabricorep/internal/service/order"
	"github.com/divyanshbajpai27/contractfabricorep/internal/service/payment"
	"github.com/divyanshbajpai27/contractfabricorep/internal/service/refund"
	"github.com/divyanshbajpai27/contractfabricorep/internal/service/renderer"
	"github.com/divyanshbajpai27/contractfabricorep/internal/service/sweeper"
	"github.com/divyanshbajpai27/contractfabricorep/internal/service/template"
	"github.com/divyanshbajpai27/contractfabricorep/internal/service/webhook"
	"github.com/divyanshbajpai27/contractfabricorep/internal/storage/blob"
	"github.com/divyanshbajpai27/contractfabricorep/internal/storage/memory"
)

// PipelineLifecycleTestSuite тестирует полный жизненный цикл заказа:
// оформление, оплату через webhook, генерацию документов, скачивание,
// истечение окна и возврат.
type PipelineLifecycleTestSuite struct {
	suite.Suite

	ctx    context.Context
	cancel context.CancelFunc

	orders   domain.OrderRepository
	timeline domain.TimelineRepository
	blobs    *blob.Store
	gateway  *payment.MockGateway
	renderer *renderer.MockRenderer
	notifier *notifier.MockNotifier

	checkout   *checkout.Service
	processor  *webhook.Processor
	downloads  *download.Service
	refunds    *refund.Coordinator
	sweeper    *sweeper.Worker
	dispatcher *fulfillment.Dispatcher
}

func (suite *PipelineLifecycleTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel) // Уменьшаем шум в тестах
	logger := baseLogger.WithField("component", "integration-test")

	suite.ctx, suite.cancel = context.WithCancel(context.Background())

	suite.orders = memory.NewOrderRepository()
	suite.timeline = memory.NewTimelineRepository()
	events := memory.NewWebhookEventRepository()
	outbox := memory.NewOutboxRepository()

	source := template.NewMemorySource(domain.Template{
		ID:         "tpl-nda",
		Name:       "NDA",
		Body:       []byte("NDA between {{party_a}} and {{party_b}}."),
		PriceMinor: 1999,
		Currency:   "USD",
	})
	templates := template.NewCache(source, template.WithLogger(logger))

	suite.blobs = blob.NewStore("https://files.example.test", []byte("sign-secret"))
	suite.gateway = payment.NewMockGateway([]byte("webhook-secret"))
	suite.renderer = renderer.NewMockRenderer()
	suite.notifier = notifier.NewMockNotifier()

	machine := order.NewMachineWithoutMetrics(suite.orders, outbox, suite.timeline, logger)

	orchestrator := fulfillment.NewOrchestrator(
		suite.orders,
		templates,
		suite.renderer,
		suite.blobs,
		suite.notifier,
		outbox,
		suite.timeline,
		logger,
		nil,
	)
	suite.dispatcher = fulfillment.NewDispatcher(orchestrator,
		fulfillment.WithDispatcherLogger(logger),
		fulfillment.WithWorkers(2),
	)
	go suite.dispatcher.Run(suite.ctx)

	suite.checkout = checkout.NewService(suite.orders, templates, suite.gateway, outbox, suite.timeline, logger, nil)
	suite.processor = webhook.NewProcessor(suite.gateway, events, suite.orders, machine, suite.dispatcher, suite.notifier, "mockpay", logger, nil)
	suite.downloads = download.NewService(suite.orders, suite.blobs, logger, nil)
	suite.refunds = refund.NewCoordinator(suite.orders, suite.gateway, machine, logger)
	suite.sweeper = sweeper.NewWorker(suite.orders, suite.blobs, outbox, suite.timeline, nil, sweeper.WithLogger(logger))
}

func (suite *PipelineLifecycleTestSuite) TearDownTest() {
	suite.cancel()
}

func (suite *PipelineLifecycleTestSuite) TestSuccessfulPipeline() {
	ctx := context.Background()

	// 1. Оформляем заказ
	result, err := suite.checkout.Create(ctx, "tpl-nda", "client@example.com", map[string]string{
		"party_a": "Acme LLC",
		"party_b": "Globex Inc",
	})
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusPending, result.Order.Status)
	require.Equal(suite.T(), int64(1999), result.Order.AmountMinor)
	require.NotEmpty(suite.T(), result.CheckoutURL)

	orderID := result.Order.ID

	// 2. Провайдер подтверждает оплату
	outcome := suite.deliverWebhook(webhook.Envelope{
		EventID:          "evt-1",
		Type:             "payment_confirmed",
		OrderID:          orderID,
		PaymentReference: "pay-1",
		AmountMinor:      1999,
		Currency:         "USD",
	})
	require.Equal(suite.T(), webhook.OutcomeProcessed, outcome)

	// 3. Ждём завершения генерации документов
	paid := suite.waitForArtifacts(orderID, 5*time.Second)
	require.Equal(suite.T(), domain.OrderStatusPaid, paid.Status)
	require.Equal(suite.T(), "pay-1", paid.PaymentReference)
	require.False(suite.T(), paid.DownloadExpiry.IsZero())

	// 4. Скачиваем документы
	dl, err := suite.downloads.Get(orderID, "client@example.com")
	require.NoError(suite.T(), err)
	require.Len(suite.T(), dl.URLs, 2)

	// Ключи из подписанных ссылок действительно лежат в хранилище
	for _, artifact := range paid.Artifacts {
		data, err := suite.blobs.Get(ctx, artifact.ObjectKey)
		require.NoError(suite.T(), err)
		require.NotEmpty(suite.T(), data)
	}

	// 5. Покупатель уведомлён
	suite.waitForReadyNotifications(1, 2*time.Second)
	require.Equal(suite.T(), "client@example.com", suite.notifier.NotifiedEmail())

	// 6. Timeline содержит ключевые события
	suite.requireTimelineEvent(orderID, "OrderCreated")
	suite.requireTimelineEvent(orderID, "OrderStatusChanged")
	suite.requireTimelineEvent(orderID, "FulfillmentCompleted")
}

func (suite *PipelineLifecycleTestSuite) TestDuplicateWebhookDelivery() {
	orderID := suite.createPaidOrder()

	rendersAfterFirst := suite.renderer.Calls()

	// Повторная доставка того же события
	outcome := suite.deliverWebhook(webhook.Envelope{
		EventID:          "evt-pay-" + orderID,
		Type:             "payment_confirmed",
		OrderID:          orderID,
		PaymentReference: "pay-" + orderID,
		AmountMinor:      1999,
		Currency:         "USD",
	})
	require.Equal(suite.T(), webhook.OutcomeDuplicate, outcome)

	// Генерация не перезапускалась, уведомление не повторялось
	time.Sleep(100 * time.Millisecond)
	require.Equal(suite.T(), rendersAfterFirst, suite.renderer.Calls())
	require.Equal(suite.T(), 1, suite.notifier.ReadyCount())
}

func (suite *PipelineLifecycleTestSuite) TestExpiredWindowBlocksDownloadAndSweeps() {
	orderID := suite.createPaidOrder()

	// Сдвигаем окно скачивания в прошлое
	stored, err := suite.orders.Get(orderID)
	require.NoError(suite.T(), err)
	artifactKeys := make([]string, 0, len(stored.Artifacts))
	for _, artifact := range stored.Artifacts {
		artifactKeys = append(artifactKeys, artifact.ObjectKey)
	}
	stored.DownloadExpiry = time.Now().UTC().Add(-time.Hour)
	require.NoError(suite.T(), suite.orders.Save(stored))

	// Скачивание закрыто
	_, err = suite.downloads.Get(orderID, "client@example.com")
	require.ErrorIs(suite.T(), err, domain.ErrDownloadExpired)

	// Sweeper удаляет blob-ы и чистит указатели
	suite.sweeper.Sweep(context.Background(), time.Now().UTC())

	swept, err := suite.orders.Get(orderID)
	require.NoError(suite.T(), err)
	require.Empty(suite.T(), swept.Artifacts)
	require.Equal(suite.T(), domain.OrderStatusPaid, swept.Status)

	for _, key := range artifactKeys {
		_, err := suite.blobs.Get(context.Background(), key)
		require.ErrorIs(suite.T(), err, domain.ErrObjectNotFound)
	}

	suite.requireTimelineEvent(orderID, "OrderExpiredSwept")
}

func (suite *PipelineLifecycleTestSuite) TestRefundFlow() {
	ctx := context.Background()
	orderID := suite.createPaidOrder()

	first, err := suite.refunds.Refund(ctx, orderID, "customer request", "admin-1")
	require.NoError(suite.T(), err)
	require.NotEmpty(suite.T(), first.RefundID)
	require.Equal(suite.T(), int64(1999), first.AmountMinor)
	require.Equal(suite.T(), 1, suite.gateway.RefundCalls)

	refunded, err := suite.orders.Get(orderID)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusRefunded, refunded.Status)

	// Скачивание закрыто после возврата
	_, err = suite.downloads.Get(orderID, "client@example.com")
	require.ErrorIs(suite.T(), err, domain.ErrOrderRefunded)

	// Повторный возврат идемпотентен: тот же id, без второго похода к провайдеру
	second, err := suite.refunds.Refund(ctx, orderID, "again", "admin-2")
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), first.RefundID, second.RefundID)
	require.Equal(suite.T(), 1, suite.gateway.RefundCalls)
}

func (suite *PipelineLifecycleTestSuite) TestPaymentFailedNotifiesCustomer() {
	ctx := context.Background()

	result, err := suite.checkout.Create(ctx, "tpl-nda", "client@example.com", nil)
	require.NoError(suite.T(), err)
	orderID := result.Order.ID

	outcome := suite.deliverWebhook(webhook.Envelope{
		EventID: "evt-fail-1",
		Type:    "payment_failed",
		OrderID: orderID,
	})
	require.Equal(suite.T(), webhook.OutcomeProcessed, outcome)

	failed, err := suite.orders.Get(orderID)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusFailed, failed.Status)
	require.Equal(suite.T(), 1, suite.notifier.FailedCount())

	// Генерация не запускалась
	require.Equal(suite.T(), 0, suite.renderer.Calls())
}

// Вспомогательные методы

func (suite *PipelineLifecycleTestSuite) deliverWebhook(envelope webhook.Envelope) webhook.Outcome {
	body, err := json.Marshal(envelope)
	require.NoError(suite.T(), err)

	outcome, err := suite.processor.Process(context.Background(), body, suite.gateway.Sign(body))
	require.NoError(suite.T(), err)
	return outcome
}

func (suite *PipelineLifecycleTestSuite) createPaidOrder() string {
	result, err := suite.checkout.Create(context.Background(), "tpl-nda", "client@example.com", map[string]string{
		"party_a": "Acme LLC",
		"party_b": "Globex Inc",
	})
	require.NoError(suite.T(), err)

	orderID := result.Order.ID
	outcome := suite.deliverWebhook(webhook.Envelope{
		EventID:          "evt-pay-" + orderID,
		Type:             "payment_confirmed",
		OrderID:          orderID,
		PaymentReference: "pay-" + orderID,
		AmountMinor:      1999,
		Currency:         "USD",
	})
	require.Equal(suite.T(), webhook.OutcomeProcessed, outcome)

	suite.waitForArtifacts(orderID, 5*time.Second)
	suite.waitForReadyNotifications(1, 2*time.Second)
	return orderID
}

// waitForArtifacts ждёт пока фоновая генерация соберёт полный комплект
// документов заказа.
func (suite *PipelineLifecycleTestSuite) waitForArtifacts(orderID string, timeout time.Duration) domain.Order {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		order, err := suite.orders.Get(orderID)
		if err == nil && order.ArtifactsComplete() {
			return order
		}
		time.Sleep(10 * time.Millisecond)
	}

	order, _ := suite.orders.Get(orderID)
	suite.T().Fatalf("Order %s did not complete fulfillment within %v, status: %s, artifacts: %d",
		orderID, timeout, order.Status, len(order.Artifacts))
	return domain.Order{}
}

// waitForReadyNotifications ждёт пока уведомление о готовности уйдёт из
// фонового воркера: оркестратор отправляет его после сохранения артефактов.
func (suite *PipelineLifecycleTestSuite) waitForReadyNotifications(count int, timeout time.Duration) {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if suite.notifier.ReadyCount() >= count {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	suite.T().Fatalf("expected %d order ready notifications, got %d", count, suite.notifier.ReadyCount())
}

func (suite *PipelineLifecycleTestSuite) requireTimelineEvent(orderID, eventType string) {
	events, err := suite.timeline.List(orderID)
	require.NoError(suite.T(), err)

	for _, event := range events {
		if event.Type == eventType {
			return
		}
	}
	suite.T().Fatalf("Timeline for order %s does not contain %s event", orderID, eventType)
}

func TestPipelineLifecycle(t *testing.T) {
	suite.Run(t, new(PipelineLifecycleTestSuite))
}
