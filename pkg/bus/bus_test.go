package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type msg struct {
	topic string
	n     int
}

func (m msg) Topic() string { return m.topic }

func started(t *testing.T, cfg Config, opts ...Option) *Bus[msg] {
	t.Helper()
	b := New[msg](cfg, nil, opts...)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { _ = b.Close(context.Background()) })
	return b
}

func TestBus_FanOutIsolatesFailures(t *testing.T) {
	b := started(t, Config{})
	var got atomic.Int32
	var wg sync.WaitGroup
	wg.Add(2)

	ok := func(context.Context, msg) error {
		got.Add(1)
		wg.Done()
		return nil
	}
	b.Subscribe("price_update", ok)
	b.Subscribe("price_update", func(context.Context, msg) error { return errors.New("boom") })
	b.Subscribe("price_update", ok)

	require.NoError(t, b.Publish(context.Background(), msg{topic: "price_update"}))
	wg.Wait()

	assert.Equal(t, int32(2), got.Load())
	require.Eventually(t, func() bool { return b.Stats().Processed == 1 }, time.Second, 5*time.Millisecond)
	st := b.Stats()
	assert.Equal(t, uint64(1), st.Published)
	assert.Equal(t, uint64(1), st.Failed)
	assert.Equal(t, 3, st.Subscribers["price_update"])
}

func TestBus_RecoversPanics(t *testing.T) {
	b := started(t, Config{})
	done := make(chan struct{})
	b.Subscribe("t", func(context.Context, msg) error { panic("bad handler") })
	b.Subscribe("t", func(context.Context, msg) error {
		close(done)
		return nil
	})

	require.NoError(t, b.Publish(context.Background(), msg{topic: "t"}))
	<-done
	require.Eventually(t, func() bool { return b.Stats().Failed == 1 }, time.Second, 5*time.Millisecond)
}

func TestBus_PreservesOrder(t *testing.T) {
	b := started(t, Config{})
	var mu sync.Mutex
	var seen []int
	all := make(chan struct{})
	b.Subscribe("t", func(_ context.Context, m msg) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, m.n)
		if len(seen) == 50 {
			close(all)
		}
		return nil
	})

	for i := 0; i < 50; i++ {
		require.NoError(t, b.Publish(context.Background(), msg{topic: "t", n: i}))
	}
	<-all
	for i, n := range seen {
		assert.Equal(t, i, n)
	}
}

func TestBus_DropsWithoutSubscribers(t *testing.T) {
	b := started(t, Config{})
	require.NoError(t, b.Publish(context.Background(), msg{topic: "nobody"}))
	require.Eventually(t, func() bool { return b.Stats().Dropped == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(0), b.Stats().Processed)

	assert.ErrorIs(t, b.Publish(context.Background(), msg{}), ErrNoTopic)
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New[msg](Config{}, nil)
	unsub := b.SubscribeMultiple([]string{"a", "b"}, func(context.Context, msg) error { return nil })
	b.Subscribe("a", func(context.Context, msg) error { return nil })
	assert.Equal(t, []string{"a", "b"}, b.Topics())

	unsub()
	unsub()
	assert.Equal(t, map[string]int{"a": 1}, b.Stats().Subscribers)

	b.ClearSubscriptions()
	assert.Empty(t, b.Topics())
}

func TestBus_QueueLimitAndDrainOnClose(t *testing.T) {
	b := New[msg](Config{QueueSize: 2}, nil)
	var handled atomic.Int32
	b.Subscribe("t", func(context.Context, msg) error {
		handled.Add(1)
		return nil
	})

	// not started yet, so messages stay queued
	require.NoError(t, b.Publish(context.Background(), msg{topic: "t"}))
	require.NoError(t, b.Publish(context.Background(), msg{topic: "t"}))
	assert.ErrorIs(t, b.Publish(context.Background(), msg{topic: "t"}), ErrQueueFull)
	assert.Equal(t, 2, b.Stats().QueuedMessages)

	require.NoError(t, b.Start(context.Background()))
	require.NoError(t, b.Close(context.Background()))
	assert.Equal(t, int32(2), handled.Load())
	assert.ErrorIs(t, b.Publish(context.Background(), msg{topic: "t"}), ErrClosed)
	assert.ErrorIs(t, b.Start(context.Background()), ErrClosed)
}

func TestBus_CloseTimesOut(t *testing.T) {
	b := New[msg](Config{}, nil)
	release := make(chan struct{})
	b.Subscribe("t", func(ctx context.Context, _ msg) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	require.NoError(t, b.Start(context.Background()))
	require.NoError(t, b.Publish(context.Background(), msg{topic: "t"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := b.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

func TestBus_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	b := started(t, Config{Name: "test"}, WithRegisterer(reg))
	done := make(chan struct{})
	b.Subscribe("t", func(context.Context, msg) error {
		close(done)
		return nil
	})
	require.NoError(t, b.Publish(context.Background(), msg{topic: "t"}))
	<-done

	require.Eventually(t, func() bool {
		return counter(t, reg, "fingate_bus_messages_processed_total") == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1.0, counter(t, reg, "fingate_bus_messages_published_total"))
}

func counter(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}
