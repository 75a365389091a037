package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"
)

// KafkaConfig selects the brokers, topic and consumer group of the feed.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	// FromOldest starts a new group at the oldest offset instead of the
	// newest.
	FromOldest bool
}

// KafkaConsumer reads samples from a Kafka topic through a consumer group.
// Samples of one instrument must share a partition key so they stay
// ordered.
type KafkaConsumer struct {
	group  sarama.ConsumerGroup
	topic  string
	sink   Sink
	logger *slog.Logger
}

// NewKafkaConsumer connects a consumer group.
func NewKafkaConsumer(cfg KafkaConfig, sink Sink, logger *slog.Logger) (*KafkaConsumer, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" || cfg.GroupID == "" {
		return nil, fmt.Errorf("feed: kafka: brokers, topic and group id are required")
	}
	sc := sarama.NewConfig()
	sc.Version = sarama.V2_8_0_0
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	if cfg.FromOldest {
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	}

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, sc)
	if err != nil {
		return nil, fmt.Errorf("feed: kafka: new consumer group: %w", err)
	}
	return &KafkaConsumer{
		group:  group,
		topic:  cfg.Topic,
		sink:   sink,
		logger: logger.With(slog.String("component", "kafka_feeder")),
	}, nil
}

// Run consumes until ctx is cancelled, rejoining the group after every
// rebalance.
func (k *KafkaConsumer) Run(ctx context.Context) error {
	k.logger.Info("kafka feeder started", slog.String("topic", k.topic))
	defer k.logger.Info("kafka feeder stopped")

	h := &claimHandler{sink: k.sink, logger: k.logger}
	for {
		if err := k.group.Consume(ctx, []string{k.topic}, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			k.logger.Error("consume failed", slog.String("error", err.Error()))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Close leaves the consumer group.
func (k *KafkaConsumer) Close() error {
	return k.group.Close()
}

// claimHandler implements sarama.ConsumerGroupHandler.
type claimHandler struct {
	sink   Sink
	logger *slog.Logger
}

func (h *claimHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *claimHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *claimHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			handle(session.Context(), h.sink, msg.Value, h.logger)
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}
