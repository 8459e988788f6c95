package app

import (
	"context"

	"github.com/divyanshbajpai27/contractfabricorep/internal/messaging/kafka"
	"github.com/divyanshbajpai27/contractfabricorep/internal/service/fulfillment"
	"github.com/divyanshbajpai27/contractfabricorep/internal/service/order"
	"github.com/divyanshbajpai27/contractfabricorep/internal/service/webhook"
)

// createMachine создаёт машину состояний заказа с или без Kafka в
// зависимости от наличия kafka producer.
func createMachine(deps *Dependencies, kafkaProducer *kafka.Producer) *order.Machine {
	if kafkaProducer != nil {
		return order.NewMachineWithKafka(
			deps.Repos.Orders,
			deps.Repos.Outbox,
			deps.Repos.Timeline,
			kafkaProducer,
			deps.Logger,
		)
	}

	return order.NewMachine(
		deps.Repos.Orders,
		deps.Repos.Outbox,
		deps.Repos.Timeline,
		deps.Logger,
	)
}

// dispatchPipeline — выбранный режим доставки заявок на генерацию:
// Kafka topic + consumer group либо канальный пул воркеров.
type dispatchPipeline struct {
	Dispatcher webhook.FulfillmentDispatcher

	start func(ctx context.Context) error
	stop  func()
}

func (p *dispatchPipeline) Start(ctx context.Context) error {
	if p.start == nil {
		return nil
	}
	return p.start(ctx)
}

func (p *dispatchPipeline) Stop() {
	if p.stop != nil {
		p.stop()
	}
}

// createDispatch собирает режим диспетчеризации fulfillment-заявок.
// С Kafka заявки идут через topic и consumer group с DLQ; без Kafka —
// через внутренний канал с пулом воркеров.
func createDispatch(
	cfg Config,
	orchestrator *fulfillment.Orchestrator,
	kafkaProducer *kafka.Producer,
) (*dispatchPipeline, error) {
	if kafkaProducer != nil {
		consumer, err := kafka.NewConsumerWithDLQ(
			parseBrokers(cfg.KafkaBrokers),
			"cfab-fulfillment",
			[]string{kafka.TopicFulfillmentRequests},
			fulfillment.ConsumerHandler(orchestrator),
			kafkaProducer,
			3,
		)
		if err != nil {
			return nil, err
		}

		return &dispatchPipeline{
			Dispatcher: fulfillment.NewKafkaDispatcher(kafkaProducer),
			start:      consumer.Start,
			stop: func() {
				_ = consumer.Stop()
			},
		}, nil
	}

	dispatcher := fulfillment.NewDispatcher(orchestrator,
		fulfillment.WithQueueSize(cfg.DispatcherQueueSize),
		fulfillment.WithWorkers(cfg.DispatcherWorkers),
	)
	return &dispatchPipeline{
		Dispatcher: dispatcher,
		start: func(ctx context.Context) error {
			go dispatcher.Run(ctx)
			return nil
		},
	}, nil
}
