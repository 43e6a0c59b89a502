package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/scholarindex/gateway/pkg/broker"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// Subscriber implements broker.Subscriber for Kafka. Each Subscribe call
// builds a fresh group-less franz-go client that consumes the topic from its
// end offset, so a subscription only ever sees messages published after it
// was established and never shares a read cursor with any other call.
//
// The original design used a uniquely-named consumer group per request to
// get the same effect; a direct consumer needs no group coordination and no
// offset commits at all.
type Subscriber struct {
	seedBrokers []string
	logger      *zap.Logger
}

// NewSubscriber creates a Kafka subscriber factory for the given seed brokers.
func NewSubscriber(seedBrokers []string, logger *zap.Logger) *Subscriber {
	return &Subscriber{seedBrokers: seedBrokers, logger: logger}
}

// Subscribe opens an ephemeral subscription to topic, reading from the
// latest offset only.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (broker.Subscription, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(s.seedBrokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
		kgo.ClientID("bridge-sub-" + uuid.NewString()),
		kgo.WithLogger(&kgoLogger{s.logger}),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	// Force the client to reach the cluster before we report the
	// subscription as established; a reply published after Subscribe
	// returns must be observable.
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach kafka cluster: %w", err)
	}

	s.logger.Debug("Opened ephemeral subscription", zap.String("topic", topic))
	return &Subscription{client: client, topic: topic, logger: s.logger}, nil
}

// Subscription is a single-call read position on one topic.
type Subscription struct {
	client *kgo.Client
	topic  string
	logger *zap.Logger

	closeOnce sync.Once
}

// Poll fetches payloads that arrived since the last poll, waiting at most
// maxWait. It returns an empty slice when the wait elapses with no traffic.
func (s *Subscription) Poll(ctx context.Context, maxWait time.Duration) ([][]byte, error) {
	pollCtx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	fetches := s.client.PollFetches(pollCtx)
	if fetches.IsClientClosed() {
		return nil, fmt.Errorf("subscription to %s is closed", s.topic)
	}

	var pollErr error
	fetches.EachError(func(topic string, partition int32, err error) {
		// Expiry of the poll slice or caller cancellation is not a
		// subscription failure.
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Error("Error polling Kafka record", zap.Error(err), zap.String("topic", topic), zap.Int32("partition", partition))
		if pollErr == nil {
			pollErr = err
		}
	})
	if pollErr != nil {
		return nil, fmt.Errorf("poll %s: %w", s.topic, pollErr)
	}

	var payloads [][]byte
	fetches.EachRecord(func(record *kgo.Record) {
		payloads = append(payloads, record.Value)
	})

	return payloads, nil
}

// Close releases the underlying client. Safe to call more than once.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		s.client.Close()
		s.logger.Debug("Closed ephemeral subscription", zap.String("topic", s.topic))
	})
	return nil
}
