// Package broker defines the minimal publish/subscribe surface the
// request/reply bridge needs from a message broker. Implementations live in
// subpackages (e.g. broker/kafka) so the bridge itself stays broker-agnostic.
package broker

import (
	"context"
	"time"
)

// Publisher sends payloads to named topics. A Publisher is safe for
// concurrent use and is intended to be shared across calls; it holds no
// per-call state.
type Publisher interface {
	// Publish sends payload to topic and returns once the broker has
	// durably accepted it, or with an error if it did not.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Close shuts down the publisher.
	Close() error
}

// Subscription is an ephemeral read position on a single topic, scoped to
// one in-flight call. It yields only messages published after the
// subscription was established.
type Subscription interface {
	// Poll waits up to maxWait for new payloads and returns zero or more of
	// them. An empty result is not an error; a non-nil error means the
	// subscription itself failed.
	Poll(ctx context.Context, maxWait time.Duration) ([][]byte, error)

	// Close releases broker-side resources. Idempotent.
	Close() error
}

// Subscriber opens ephemeral subscriptions. Each Subscribe call yields an
// independent Subscription with its own read cursor, so concurrent
// subscriptions on the same topic never compete for each other's messages.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}
