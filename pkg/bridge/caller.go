package bridge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/scholarindex/gateway/pkg/broker"
	"go.uber.org/zap"
)

// TopicPair names a request topic and its paired response topic for one
// operation kind. Static configuration, never mutated at runtime.
type TopicPair struct {
	Request  string
	Response string
}

// Caller is the reusable call pattern: tag a payload, publish it to the
// request topic, and block on the paired response topic until a reply with
// the same correlation id arrives or the deadline expires.
//
// The response subscription is opened before the request is published.
// Because subscriptions read from the latest offset only, subscribing first
// closes the window in which an unusually fast backend reply could land
// before the subscription exists and be missed forever.
type Caller struct {
	publisher  broker.Publisher
	subscriber broker.Subscriber
	pollSlice  time.Duration
	logger     *zap.Logger
}

// Option configures a Caller.
type Option func(*Caller)

// WithPollSlice overrides the bounded wait used for each poll of the
// response subscription.
func WithPollSlice(d time.Duration) Option {
	return func(c *Caller) {
		if d > 0 {
			c.pollSlice = d
		}
	}
}

// NewCaller creates a Caller over the given broker components. The
// publisher is shared across calls; the subscriber opens one ephemeral
// subscription per call.
func NewCaller(publisher broker.Publisher, subscriber broker.Subscriber, logger *zap.Logger, opts ...Option) *Caller {
	c := &Caller{
		publisher:  publisher,
		subscriber: subscriber,
		pollSlice:  DefaultPollSlice,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call publishes fields (tagged with a fresh correlation id) to the request
// topic and returns the raw matching response envelope, ErrTimedOut, a
// PublishError, or a BrokerError. No retries are performed; retry policy
// belongs to the caller.
func (c *Caller) Call(ctx context.Context, topics TopicPair, fields map[string]any, timeout time.Duration) (json.RawMessage, error) {
	envelope, correlationID := Tag(fields)

	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, &PublishError{Topic: topics.Request, Err: err}
	}

	sub, err := c.subscriber.Subscribe(ctx, topics.Response)
	if err != nil {
		return nil, &BrokerError{Topic: topics.Response, Err: err}
	}

	if err := c.publisher.Publish(ctx, topics.Request, payload); err != nil {
		_ = sub.Close()
		return nil, &PublishError{Topic: topics.Request, Err: err}
	}

	c.logger.Debug("Published request, awaiting reply",
		zap.String("request_topic", topics.Request),
		zap.String("response_topic", topics.Response),
		zap.String("correlation_id", correlationID))

	return AwaitMatch(ctx, sub, correlationID, timeout, c.pollSlice, c.logger)
}
