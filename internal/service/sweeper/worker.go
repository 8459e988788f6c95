package sweeper

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/divyanshbajpai27/contractfabricorep/internal/domain"
	"github.com/divyanshbajpai27/contractfabricorep/internal/metrics"
)

const (
	defaultSweepInterval  = time.Hour
	defaultSweepBatchSize = 100
	deleteTimeout         = 15 * time.Second
)

var (
	sweeperRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cfab_sweeper_runs_total",
		Help: "Total number of artifact sweep runs grouped by result.",
	}, []string{"result"})
	sweeperOrdersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cfab_sweeper_orders_total",
		Help: "Total number of orders whose artifacts were reclaimed.",
	})
	sweeperLastOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cfab_sweeper_last_orders",
		Help: "Number of orders reclaimed during the last sweep run.",
	})
)

// Options задает параметры sweeper-а.
type Options struct {
	Logger    *log.Entry
	Interval  time.Duration
	BatchSize int
}

// Option настраивает Worker.
type Option func(*Options)

// WithLogger задает logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithInterval задает интервал между проходами.
func WithInterval(interval time.Duration) Option {
	return func(opts *Options) {
		opts.Interval = interval
	}
}

// WithBatchSize задает число заказов на один проход.
func WithBatchSize(batchSize int) Option {
	return func(opts *Options) {
		opts.BatchSize = batchSize
	}
}

// Worker периодически отбирает оплаченные заказы с истёкшим окном
// скачивания и освобождает хранилище. Статус заказа остаётся paid: истечение
// окна отнимает доступ, но не историю оплаты.
type Worker struct {
	orders    domain.OrderRepository
	store     domain.ObjectStore
	outbox    domain.OutboxRepository
	timeline  domain.TimelineRepository
	logger    *log.Entry
	metrics   *metrics.PipelineMetrics
	interval  time.Duration
	batchSize int
}

// NewWorker создаёт sweeper артефактов.
func NewWorker(
	orders domain.OrderRepository,
	store domain.ObjectStore,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	pipelineMetrics *metrics.PipelineMetrics,
	options ...Option,
) *Worker {
	opts := Options{
		Interval:  defaultSweepInterval,
		BatchSize: defaultSweepBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "sweeper")
	}

	if opts.Interval <= 0 {
		opts.Interval = defaultSweepInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultSweepBatchSize
	}

	return &Worker{
		orders:    orders,
		store:     store,
		outbox:    outbox,
		timeline:  timeline,
		logger:    logger,
		metrics:   pipelineMetrics,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
	}
}

// Run запускает периодический проход до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	w.sweep(ctx, time.Now().UTC())

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx, time.Now().UTC())
		}
	}
}

func (w *Worker) sweep(ctx context.Context, before time.Time) {
	swept, err := w.Sweep(ctx, before)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		sweeperRunsTotal.WithLabelValues("error").Inc()
		w.logger.WithError(err).Warn("sweep run failed")
		return
	}

	sweeperRunsTotal.WithLabelValues("ok").Inc()
	sweeperLastOrders.Set(float64(swept))
	if swept > 0 {
		w.logger.WithField("orders", swept).Info("sweep completed")
	}
}

// Sweep обрабатывает все просроченные заказы порциями batchSize и возвращает
// число заказов, у которых освобождено хранилище.
func (w *Worker) Sweep(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	totalSwept := 0
	for {
		if err := ctx.Err(); err != nil {
			return totalSwept, err
		}

		expired, err := w.orders.ListExpired(before, w.batchSize)
		if err != nil {
			return totalSwept, err
		}
		if len(expired) == 0 {
			return totalSwept, nil
		}

		batchSwept := 0
		for _, order := range expired {
			if err := ctx.Err(); err != nil {
				return totalSwept, err
			}
			if err := w.sweepOrder(ctx, order); err != nil {
				// Заказ останется в выборке и будет повторён следующим проходом.
				w.logger.WithError(err).WithField("order_id", order.ID).Warn("sweep order failed")
				continue
			}
			batchSwept++
			totalSwept++
			sweeperOrdersTotal.Inc()
		}

		// Полностью неудачная порция вернулась бы из ListExpired без изменений.
		if len(expired) < w.batchSize || batchSwept == 0 {
			return totalSwept, nil
		}
	}
}

// sweepOrder удаляет артефакты заказа из хранилища, затем очищает указатели.
// Порядок принципиален: упавший посередине проход оставляет указатели на
// месте, и удаление повторяется (отсутствие объекта — не ошибка). Обратный
// порядок подарил бы клиенту битую ссылку.
func (w *Worker) sweepOrder(ctx context.Context, order domain.Order) error {
	for _, artifact := range order.Artifacts {
		if err := w.deleteArtifact(ctx, artifact.ObjectKey); err != nil {
			return err
		}
		if w.metrics != nil {
			w.metrics.RecordArtifactSwept()
		}
	}

	order.Artifacts = nil
	order.UpdatedAt = time.Now().UTC()
	if err := w.orders.Save(order); err != nil {
		if domain.IsVersionConflict(err) {
			// Параллельное изменение (например, возврат): заказ будет
			// пересмотрен следующим проходом.
			return nil
		}
		return err
	}

	w.emitSwept(&order)
	return nil
}

func (w *Worker) deleteArtifact(ctx context.Context, key string) error {
	deleteCtx, cancel := context.WithTimeout(ctx, deleteTimeout)
	defer cancel()

	if err := w.store.Delete(deleteCtx, key); err != nil {
		// Прошлый проход мог удалить объект до очистки указателей.
		if errors.Is(err, domain.ErrObjectNotFound) {
			return nil
		}
		return err
	}
	return nil
}

func (w *Worker) emitSwept(order *domain.Order) {
	occurred := time.Now().UTC()

	if w.outbox != nil {
		payload, err := json.Marshal(map[string]interface{}{
			"order_id":   order.ID,
			"expired_at": order.DownloadExpiry.Format(time.RFC3339Nano),
			"swept_at":   occurred.Format(time.RFC3339Nano),
		})
		if err != nil {
			w.logger.WithError(err).WithField("order_id", order.ID).Error("marshal event failed")
			return
		}

		msg := domain.OutboxMessage{
			AggregateType: "order",
			AggregateID:   order.ID,
			EventType:     "OrderExpiredSwept",
			Payload:       payload,
		}
		if _, err := w.outbox.Enqueue(msg); err != nil {
			w.logger.WithError(err).WithField("order_id", order.ID).Error("enqueue event failed")
		} else if w.metrics != nil {
			w.metrics.RecordOutboxEvent()
		}
	}

	if w.timeline != nil {
		event := domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     "OrderExpiredSwept",
			Occurred: occurred,
		}
		if err := w.timeline.Append(event); err != nil {
			w.logger.WithError(err).WithField("order_id", order.ID).Warn("append timeline event failed")
		} else if w.metrics != nil {
			w.metrics.RecordTimelineEvent()
		}
	}
}
