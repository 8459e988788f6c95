package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/divyanshbajpai27/contractfabricorep/internal/health"
	"github.com/divyanshbajpai27/contractfabricorep/internal/messaging/kafka"
	"github.com/divyanshbajpai27/contractfabricorep/internal/service/checkout"
	"github.com/divyanshbajpai27/contractfabricorep/internal/service/download"
	"github.com/divyanshbajpai27/contractfabricorep/internal/service/fulfillment"
	"github.com/divyanshbajpai27/contractfabricorep/internal/service/httpapi"
	"github.com/divyanshbajpai27/contractfabricorep/internal/service/outbox"
	"github.com/divyanshbajpai27/contractfabricorep/internal/service/refund"
	"github.com/divyanshbajpai27/contractfabricorep/internal/service/sweeper"
	"github.com/divyanshbajpai27/contractfabricorep/internal/service/webhook"
	"github.com/divyanshbajpai27/contractfabricorep/internal/version"
)

// paymentProvider — имя платёжного провайдера для dedup-записей webhook.
const paymentProvider = "mockpay"

// Run собирает конвейер и блокируется до отмены ctx или фатальной ошибки
// одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	// Kafka опционален: без брокеров события остаются в outbox,
	// а заявки на генерацию идут через канальный диспетчер.
	kafkaProducer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafka(kafkaProducer, logger)

	machine := createMachine(deps, kafkaProducer)

	orchestrator := fulfillment.NewOrchestrator(
		deps.Repos.Orders,
		deps.Cache,
		deps.Renderer,
		deps.Blobs,
		deps.Notifier,
		deps.Repos.Outbox,
		deps.Repos.Timeline,
		logger.WithField("component", "fulfillment"),
		deps.Metrics,
	)

	dispatch, err := createDispatch(cfg, orchestrator, kafkaProducer)
	if err != nil {
		return err
	}
	if err := dispatch.Start(ctx); err != nil {
		return err
	}
	defer dispatch.Stop()

	checkoutSvc := checkout.NewService(
		deps.Repos.Orders,
		deps.Cache,
		deps.Gateway,
		deps.Repos.Outbox,
		deps.Repos.Timeline,
		logger.WithField("component", "checkout"),
		deps.Metrics,
	)
	downloadSvc := download.NewService(
		deps.Repos.Orders,
		deps.Blobs,
		logger.WithField("component", "download"),
		deps.Metrics,
	)
	processor := webhook.NewProcessor(
		deps.Gateway,
		deps.Repos.Events,
		deps.Repos.Orders,
		machine,
		dispatch.Dispatcher,
		deps.Notifier,
		paymentProvider,
		logger.WithField("component", "webhook"),
		deps.Metrics,
	)
	refundSvc := refund.NewCoordinator(
		deps.Repos.Orders,
		deps.Gateway,
		machine,
		logger.WithField("component", "refund"),
	)

	startWorkers(ctx, cfg, deps, kafkaProducer, logger)

	api := httpapi.NewServer(
		checkoutSvc,
		downloadSvc,
		processor,
		refundSvc,
		dispatch.Dispatcher,
		deps.Repos.Orders,
		deps.Blobs,
		cfg.AdminToken,
		logger.WithField("component", "http-api"),
	)

	errCh := make(chan error, 3)

	apiSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: api.Routes()}
	go func() {
		logger.Infof("HTTP API слушает %s", cfg.HTTPAddr)
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	healthHandler := newHealthHandler(deps)
	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	grpcServer, grpcHealthServer, err := startGRPCServer(cfg.GRPCAddr, logger, errCh)
	if err != nil {
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		return err
	}

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, завершаем серверы")
		grpcHealthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		stopGRPC(grpcServer, logger)
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		return ctx.Err()
	case err := <-errCh:
		stopGRPC(grpcServer, logger)
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		return err
	}
}

// startWorkers запускает фоновые циклы конвейера: sweeper артефактов,
// очистку dedup-записей webhook и публикацию outbox (только с Kafka).
func startWorkers(ctx context.Context, cfg Config, deps *Dependencies, kafkaProducer *kafka.Producer, logger *log.Entry) {
	sweepWorker := sweeper.NewWorker(
		deps.Repos.Orders,
		deps.Blobs,
		deps.Repos.Outbox,
		deps.Repos.Timeline,
		deps.Metrics,
		sweeper.WithInterval(cfg.SweepInterval),
		sweeper.WithBatchSize(cfg.SweepBatchSize),
	)
	go sweepWorker.Run(ctx)

	cleanupWorker := webhook.NewCleanupWorker(
		deps.Repos.Events,
		webhook.WithInterval(cfg.WebhookCleanupInterval),
		webhook.WithBatchSize(cfg.WebhookCleanupBatchSize),
	)
	go cleanupWorker.Run(ctx)

	if kafkaProducer == nil {
		logger.Info("outbox worker is idle: no kafka brokers configured")
		return
	}

	outboxWorker := outbox.NewWorker(
		deps.Repos.Outbox,
		kafka.NewOutboxPublisher(kafkaProducer, kafka.TopicOrderEvents),
		outbox.WithDLQPublisher(kafka.NewOutboxPublisher(kafkaProducer, kafka.TopicDeadLetterQueue)),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	)
	go outboxWorker.Run(ctx)
}

// newHealthHandler собирает /healthz с проверками компонентов.
func newHealthHandler(deps *Dependencies) *healthcheck.Handler {
	handler := healthcheck.NewHandler(version.String())

	if deps.Repos.Store != nil {
		store := deps.Repos.Store
		handler.RegisterChecker("storage", healthcheck.NewCheckFunc("storage", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return store.Ping(ctx)
		}))
	}

	return handler
}

// startGRPCServer поднимает ops gRPC-сервер: health, reflection и
// prometheus-интерсепторы для platform-проб.
func startGRPCServer(addr string, logger *log.Entry, errCh chan<- error) (*grpc.Server, *grpchealth.Server, error) {
	grpcMetrics := promgrpc.NewServerMetrics()
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))

	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	healthServer := grpchealth.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}

	go func() {
		logger.Infof("gRPC сервер слушает %s", addr)
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
	}()

	return grpcServer, healthServer, nil
}

// stopGRPC останавливает gRPC-сервер с ограниченным graceful-периодом.
func stopGRPC(server *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}

// startMetricsServer запускает HTTP-обработчик /metrics и health-эндпоинты.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/readyz, %s/livez", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
