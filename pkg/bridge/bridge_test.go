package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/scholarindex/gateway/pkg/broker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memoryBroker is an in-process topic bus implementing broker.Publisher and
// broker.Subscriber. It counts opened and closed subscriptions so tests can
// verify that no exit path leaks one, and fans published payloads out to
// every subscription that existed before the publish.
type memoryBroker struct {
	mu           sync.Mutex
	subs         map[string][]*memorySubscription
	publishCalls int
	opened       int
	closed       int

	publishErr   error
	subscribeErr error

	// onPublish runs synchronously after delivery; tests use it as a fake
	// backend replying to request topics.
	onPublish func(topic string, payload []byte)
}

func newMemoryBroker() *memoryBroker {
	return &memoryBroker{subs: make(map[string][]*memorySubscription)}
}

func (b *memoryBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	b.publishCalls++
	if b.publishErr != nil {
		b.mu.Unlock()
		return b.publishErr
	}
	subs := append([]*memorySubscription(nil), b.subs[topic]...)
	hook := b.onPublish
	b.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(payload)
	}
	if hook != nil {
		hook(topic, payload)
	}
	return nil
}

func (b *memoryBroker) Close() error { return nil }

func (b *memoryBroker) Subscribe(ctx context.Context, topic string) (broker.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribeErr != nil {
		return nil, b.subscribeErr
	}
	sub := &memorySubscription{b: b, ch: make(chan []byte, 64)}
	b.subs[topic] = append(b.subs[topic], sub)
	b.opened++
	return sub, nil
}

func (b *memoryBroker) counts() (opened, closed int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened, b.closed
}

type memorySubscription struct {
	b         *memoryBroker
	ch        chan []byte
	pollErr   error
	closeOnce sync.Once
}

func (s *memorySubscription) deliver(payload []byte) {
	select {
	case s.ch <- payload:
	default:
	}
}

func (s *memorySubscription) Poll(ctx context.Context, maxWait time.Duration) ([][]byte, error) {
	if s.pollErr != nil {
		return nil, s.pollErr
	}

	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, nil
	case <-timer.C:
		return nil, nil
	case payload := <-s.ch:
		payloads := [][]byte{payload}
		for {
			select {
			case p := <-s.ch:
				payloads = append(payloads, p)
			default:
				return payloads, nil
			}
		}
	}
}

func (s *memorySubscription) Close() error {
	s.closeOnce.Do(func() {
		s.b.mu.Lock()
		s.b.closed++
		s.b.mu.Unlock()
	})
	return nil
}

func responseEnvelope(t *testing.T, correlationID string, extra map[string]any) []byte {
	t.Helper()
	fields := map[string]any{CorrelationField: correlationID}
	for k, v := range extra {
		fields[k] = v
	}
	payload, err := json.Marshal(fields)
	require.NoError(t, err)
	return payload
}

func TestTagGeneratesUniqueIDs(t *testing.T) {
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		envelope, id := Tag(map[string]any{"term": "graph theory"})

		require.NotEmpty(t, id)
		assert.Equal(t, id, envelope[CorrelationField])
		assert.Equal(t, "graph theory", envelope["term"])

		_, dup := seen[id]
		require.False(t, dup, "correlation id %q generated twice", id)
		seen[id] = struct{}{}
	}
}

func TestTagDoesNotMutateInput(t *testing.T) {
	fields := map[string]any{"n": 5}
	Tag(fields)
	assert.Len(t, fields, 1)
	assert.NotContains(t, fields, CorrelationField)
}

func TestAwaitMatchReturnsOnlyMatchingReply(t *testing.T) {
	ctx := context.Background()
	b := newMemoryBroker()
	sub, err := b.Subscribe(ctx, "responses")
	require.NoError(t, err)

	for _, id := range []string{"A", "B"} {
		require.NoError(t, b.Publish(ctx, "responses", responseEnvelope(t, id, nil)))
	}
	require.NoError(t, b.Publish(ctx, "responses", responseEnvelope(t, "X", map[string]any{"status": "ok"})))
	require.NoError(t, b.Publish(ctx, "responses", responseEnvelope(t, "C", nil)))

	raw, err := AwaitMatch(ctx, sub, "X", 2*time.Second, 20*time.Millisecond, zap.NewNop())
	require.NoError(t, err)

	var reply map[string]any
	require.NoError(t, json.Unmarshal(raw, &reply))
	assert.Equal(t, "X", reply[CorrelationField])
	assert.Equal(t, "ok", reply["status"])

	opened, closed := b.counts()
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, closed, "subscription must be released after a match")
}

func TestAwaitMatchDiscardsMalformedPayloads(t *testing.T) {
	ctx := context.Background()
	b := newMemoryBroker()
	sub, err := b.Subscribe(ctx, "responses")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "responses", []byte("not json at all")))
	require.NoError(t, b.Publish(ctx, "responses", []byte(`{"results":[]}`))) // no correlation_id
	require.NoError(t, b.Publish(ctx, "responses", []byte(`[1,2,3]`)))
	require.NoError(t, b.Publish(ctx, "responses", responseEnvelope(t, "X", nil)))

	raw, err := AwaitMatch(ctx, sub, "X", 2*time.Second, 20*time.Millisecond, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, raw)
}

func TestAwaitMatchTimesOut(t *testing.T) {
	ctx := context.Background()
	b := newMemoryBroker()
	sub, err := b.Subscribe(ctx, "responses")
	require.NoError(t, err)

	const (
		timeout   = 200 * time.Millisecond
		pollSlice = 50 * time.Millisecond
	)

	start := time.Now()
	raw, err := AwaitMatch(ctx, sub, "X", timeout, pollSlice, zap.NewNop())
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrTimedOut)
	assert.Nil(t, raw)
	assert.GreaterOrEqual(t, elapsed, timeout, "must not give up before the deadline")
	assert.Less(t, elapsed, timeout+pollSlice+150*time.Millisecond, "must give up within one poll slice of the deadline")

	_, closed := b.counts()
	assert.Equal(t, 1, closed, "subscription must be released after a timeout")
}

func TestAwaitMatchSurfacesBrokerError(t *testing.T) {
	ctx := context.Background()
	b := newMemoryBroker()
	sub, err := b.Subscribe(ctx, "responses")
	require.NoError(t, err)
	sub.(*memorySubscription).pollErr = errors.New("partition offline")

	_, err = AwaitMatch(ctx, sub, "X", time.Second, 20*time.Millisecond, zap.NewNop())

	var brokerErr *BrokerError
	require.ErrorAs(t, err, &brokerErr)
	assert.NotErrorIs(t, err, ErrTimedOut)

	_, closed := b.counts()
	assert.Equal(t, 1, closed, "subscription must be released after a broker error")
}

func TestAwaitMatchHonorsCallerCancellation(t *testing.T) {
	b := newMemoryBroker()
	sub, err := b.Subscribe(context.Background(), "responses")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err = AwaitMatch(ctx, sub, "X", 10*time.Second, 20*time.Millisecond, zap.NewNop())

	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)

	_, closed := b.counts()
	assert.Equal(t, 1, closed, "subscription must be released on cancellation")
}

func TestRepliesPublishedBeforeSubscribeAreInvisible(t *testing.T) {
	ctx := context.Background()
	b := newMemoryBroker()

	// Published before any subscription exists; read-latest semantics mean
	// no later subscriber may observe it.
	require.NoError(t, b.Publish(ctx, "responses", responseEnvelope(t, "X", nil)))

	sub, err := b.Subscribe(ctx, "responses")
	require.NoError(t, err)

	_, err = AwaitMatch(ctx, sub, "X", 150*time.Millisecond, 20*time.Millisecond, zap.NewNop())
	require.ErrorIs(t, err, ErrTimedOut)
}

func TestCallerPublishFailureClosesSubscription(t *testing.T) {
	b := newMemoryBroker()
	b.publishErr = errors.New("broker unreachable")

	caller := NewCaller(b, b, zap.NewNop(), WithPollSlice(20*time.Millisecond))
	topics := TopicPair{Request: "requests", Response: "responses"}

	_, err := caller.Call(context.Background(), topics, map[string]any{"term": "x"}, time.Second)

	var publishErr *PublishError
	require.ErrorAs(t, err, &publishErr)
	assert.Equal(t, "requests", publishErr.Topic)

	opened, closed := b.counts()
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, closed, "subscription must not leak when the publish fails")
}

func TestCallerSubscribeFailure(t *testing.T) {
	b := newMemoryBroker()
	b.subscribeErr = errors.New("no such topic")

	caller := NewCaller(b, b, zap.NewNop())

	_, err := caller.Call(context.Background(), TopicPair{Request: "requests", Response: "responses"}, nil, time.Second)

	var brokerErr *BrokerError
	require.ErrorAs(t, err, &brokerErr)
	assert.Equal(t, 0, b.publishCalls, "no request may be published without a response subscription")
}

// echoBackend replies to every request on requestTopic with an envelope
// carrying the request's correlation id plus an echo of the given field.
func echoBackend(t *testing.T, b *memoryBroker, requestTopic, responseTopic, echoField string) {
	t.Helper()
	b.onPublish = func(topic string, payload []byte) {
		if topic != requestTopic {
			return
		}
		var req map[string]any
		require.NoError(t, json.Unmarshal(payload, &req))
		reply := responseEnvelope(t, req[CorrelationField].(string), map[string]any{echoField: req[echoField]})
		require.NoError(t, b.Publish(context.Background(), responseTopic, reply))
	}
}

func TestCallerCatchesImmediateReply(t *testing.T) {
	b := newMemoryBroker()
	echoBackend(t, b, "requests", "responses", "term")

	caller := NewCaller(b, b, zap.NewNop(), WithPollSlice(20*time.Millisecond))
	topics := TopicPair{Request: "requests", Response: "responses"}

	// The backend replies synchronously inside Publish. The reply is still
	// observed because the subscription is opened before publishing.
	raw, err := caller.Call(context.Background(), topics, map[string]any{"term": "graph theory"}, time.Second)
	require.NoError(t, err)

	var reply map[string]any
	require.NoError(t, json.Unmarshal(raw, &reply))
	assert.Equal(t, "graph theory", reply["term"])
}

func TestConcurrentCallsDoNotCrossDeliver(t *testing.T) {
	b := newMemoryBroker()
	echoBackend(t, b, "requests", "responses", "who")

	caller := NewCaller(b, b, zap.NewNop(), WithPollSlice(20*time.Millisecond))
	topics := TopicPair{Request: "requests", Response: "responses"}

	const calls = 8
	var wg sync.WaitGroup
	results := make([]map[string]any, calls)
	callErrs := make([]error, calls)

	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			raw, err := caller.Call(context.Background(), topics, map[string]any{"who": callerName(i)}, 5*time.Second)
			if err != nil {
				callErrs[i] = err
				return
			}
			var reply map[string]any
			callErrs[i] = json.Unmarshal(raw, &reply)
			results[i] = reply
		}(i)
	}
	wg.Wait()

	for i := 0; i < calls; i++ {
		require.NoError(t, callErrs[i])
		assert.Equal(t, callerName(i), results[i]["who"], "call %d received another call's reply", i)
	}

	opened, closed := b.counts()
	assert.Equal(t, calls, opened)
	assert.Equal(t, calls, closed, "every call must release its subscription")
}

func callerName(i int) string {
	return "call-" + string(rune('a'+i))
}
