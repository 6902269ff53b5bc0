package kafka

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcHandler struct {
	topic string
	fn    func(context.Context, []byte) error
}

func (h funcHandler) Topic() string { return h.topic }

func (h funcHandler) Handle(ctx context.Context, b []byte) error { return h.fn(ctx, b) }

func newTestConsumer(t *testing.T, retries int) *Consumer {
	t.Helper()
	c, err := NewConsumer(
		WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerRetry(retries, time.Millisecond, 2*time.Millisecond),
	)
	require.NoError(t, err)
	return c
}

func TestNewConsumer_RequiresBrokers(t *testing.T) {
	_, err := NewConsumer()
	assert.Error(t, err)
}

func TestConsumer_StartWithoutHandlers(t *testing.T) {
	c := newTestConsumer(t, 0)
	assert.Error(t, c.Start())
	assert.NoError(t, c.Stop(context.Background()))
}

func TestConsumer_RetriesUntilSuccess(t *testing.T) {
	c := newTestConsumer(t, 3)
	var calls int32
	h := funcHandler{topic: "gateway.requests", fn: func(context.Context, []byte) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("not yet")
		}
		return nil
	}}

	n, err := c.attempt(h, kafka.Message{Topic: "gateway.requests"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestConsumer_GivesUpAfterRetries(t *testing.T) {
	c := newTestConsumer(t, 1)
	h := funcHandler{topic: "t", fn: func(context.Context, []byte) error { return errors.New("bad payload") }}

	n, err := c.attempt(h, kafka.Message{Topic: "t"})
	assert.EqualError(t, err, "bad payload")
	assert.Equal(t, 2, n)
}

func TestConsumer_PanicIsAFailure(t *testing.T) {
	c := newTestConsumer(t, 0)
	var afterErr error
	c.WithConsumerHook(HookFuncs{AfterFunc: func(_ context.Context, _ kafka.Message, err error) { afterErr = err }})
	h := funcHandler{topic: "t", fn: func(context.Context, []byte) error { panic("boom") }}

	_, err := c.attempt(h, kafka.Message{Topic: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, err, afterErr)
}

func TestConsumer_TraceHookReachesHandler(t *testing.T) {
	c := newTestConsumer(t, 0)
	c.WithConsumerHook(TraceHook())
	var got string
	h := funcHandler{topic: "t", fn: func(ctx context.Context, _ []byte) error {
		got = TraceIDFrom(ctx)
		_, ok := StartTimeFrom(ctx)
		assert.True(t, ok)
		return nil
	}}

	km := kafka.Message{Topic: "t", Headers: []kafka.Header{{Key: HeaderRequestID, Value: []byte("req-9")}}}
	_, err := c.attempt(h, km)
	require.NoError(t, err)
	assert.Equal(t, "req-9", got)
}

func TestConsumer_HookRejectSkipsHandler(t *testing.T) {
	c := newTestConsumer(t, 0)
	c.WithConsumerHook(HookFuncs{BeforeFunc: func(ctx context.Context, _ kafka.Message) (context.Context, error) {
		return ctx, errors.New("rejected")
	}})
	called := false
	h := funcHandler{topic: "t", fn: func(context.Context, []byte) error { called = true; return nil }}

	_, err := c.attempt(h, kafka.Message{Topic: "t"})
	assert.EqualError(t, err, "rejected")
	assert.False(t, called)
}

func TestWorkerFor_StablePerPartition(t *testing.T) {
	for p := 0; p < 16; p++ {
		w := workerFor("gateway.requests", p, 4)
		assert.GreaterOrEqual(t, w, 0)
		assert.Less(t, w, 4)
		assert.Equal(t, w, workerFor("gateway.requests", p, 4))
	}
	assert.Equal(t, 0, workerFor("any", 7, 1))
}

func TestBackoff_Bounded(t *testing.T) {
	for attempt := 1; attempt < 40; attempt++ {
		d := backoff(10*time.Millisecond, 80*time.Millisecond, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 80*time.Millisecond)
	}
}
