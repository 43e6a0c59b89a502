package kafka

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// Publisher implements broker.Publisher on a single shared franz-go client.
// It is constructed once at startup and shared by every in-flight call; the
// client tracks its own in-flight produces, so no per-call state is needed.
type Publisher struct {
	client *kgo.Client
	logger *zap.Logger
}

// NewPublisher creates a Kafka publisher for the given seed brokers.
func NewPublisher(seedBrokers []string, logger *zap.Logger) (*Publisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(seedBrokers...),
		kgo.WithLogger(&kgoLogger{logger}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	return &Publisher{client: client, logger: logger}, nil
}

// Publish sends payload to topic and blocks until the broker acknowledges
// the record or the produce fails.
func (p *Publisher) Publish(ctx context.Context, topic string, payload []byte) error {
	record := &kgo.Record{
		Topic: topic,
		Value: payload,
	}

	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		p.logger.Error("Failed to produce message to Kafka", zap.Error(err), zap.String("topic", topic))
		return fmt.Errorf("produce to %s: %w", topic, err)
	}

	p.logger.Debug("Produced message", zap.String("topic", topic), zap.Int("bytes", len(payload)))
	return nil
}

// Close shuts down the Kafka publisher, waiting for buffered records to flush.
func (p *Publisher) Close() error {
	p.client.Close()
	return nil
}
