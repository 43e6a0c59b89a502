package bridge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/scholarindex/gateway/pkg/broker"
	"go.uber.org/zap"
)

// DefaultPollSlice bounds a single poll wait; the overall deadline is
// enforced by context, so a timed-out call returns at most one slice late.
const DefaultPollSlice = time.Second

// AwaitMatch reads sub until a payload carrying correlationID arrives,
// returning its raw envelope. Payloads that are malformed or tagged with a
// different correlation id are discarded and polling continues. When the
// deadline passes with no match it returns ErrTimedOut; a failure of the
// subscription itself returns a BrokerError. The subscription is closed on
// every exit path.
func AwaitMatch(ctx context.Context, sub broker.Subscription, correlationID string, timeout, pollSlice time.Duration, logger *zap.Logger) (json.RawMessage, error) {
	defer func() {
		_ = sub.Close()
	}()

	if pollSlice <= 0 {
		pollSlice = DefaultPollSlice
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		payloads, err := sub.Poll(waitCtx, pollSlice)
		if err != nil {
			return nil, &BrokerError{Err: err}
		}

		for _, payload := range payloads {
			id, ok := extractCorrelationID(payload)
			if !ok {
				logger.Debug("Discarding malformed response payload", zap.Int("bytes", len(payload)))
				continue
			}
			if id != correlationID {
				continue
			}
			logger.Debug("Matched response", zap.String("correlation_id", correlationID))
			return json.RawMessage(payload), nil
		}

		if waitCtx.Err() != nil {
			// Distinguish caller cancellation from deadline expiry.
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn("Timed out awaiting response",
				zap.String("correlation_id", correlationID),
				zap.Duration("timeout", timeout))
			return nil, ErrTimedOut
		}
	}
}
