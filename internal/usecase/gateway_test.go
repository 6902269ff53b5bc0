package usecase

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinGate/internal/domain/models"
	drepo "FinGate/internal/domain/repository"
	"FinGate/internal/repository"
	"FinGate/internal/service/breaker"
	svccache "FinGate/internal/service/cache"
	"FinGate/internal/service/normalizer"
	pkgcache "FinGate/pkg/cache"
)

type fetchFunc func(call int, dt models.DataType, p models.FetchParams) ([]models.NormalizedData, error)

type fakeAdapter struct {
	name string
	fn   fetchFunc

	mu          sync.Mutex
	calls       int
	invalidated int
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) Fetch(ctx context.Context, dt models.DataType, p models.FetchParams) ([]models.NormalizedData, error) {
	a.mu.Lock()
	a.calls++
	n := a.calls
	fn := a.fn
	a.mu.Unlock()
	return fn(n, dt, p)
}

func (a *fakeAdapter) InvalidateCache() {
	a.mu.Lock()
	a.invalidated++
	a.mu.Unlock()
}

func (a *fakeAdapter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func (a *fakeAdapter) set(fn fetchFunc) {
	a.mu.Lock()
	a.fn = fn
	a.mu.Unlock()
}

func returning(source string, v float64) fetchFunc {
	return func(_ int, dt models.DataType, p models.FetchParams) ([]models.NormalizedData, error) {
		return []models.NormalizedData{
			models.NewNormalizedData(source, dt, models.Asset{Symbol: p.Symbol, Chain: p.Chain}, v, 0.9),
		}, nil
	}
}

func failing(err error) fetchFunc {
	return func(int, models.DataType, models.FetchParams) ([]models.NormalizedData, error) {
		return nil, err
	}
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	gw       *Gateway
	store    *svccache.Store
	breakers *breaker.Manager
	clk      *clock
}

func newHarness(t *testing.T, threshold int, adapters []drepo.Adapter, opts ...GatewayOption) *harness {
	t.Helper()
	clk := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	backend := pkgcache.NewMemoryCache(pkgcache.WithMemoryClock(clk.Now))
	store := svccache.NewStore(backend, nil, svccache.WithClock(clk.Now))
	breakers := breaker.NewManager(breaker.Config{FailureThreshold: threshold, SuccessThreshold: 2, Timeout: time.Minute})

	names := make([]string, 0, len(adapters))
	for _, a := range adapters {
		names = append(names, a.Name())
	}
	cfg := GatewayConfig{
		Name:                  "test",
		PriorityOrder:         names,
		UseCachedOnFailure:    true,
		MarkStaleWhenFallback: true,
		Defaults:              AdapterSettings{Timeout: time.Second, MaxRetries: 1, RetryDelay: time.Millisecond},
	}
	opts = append([]GatewayOption{WithGatewayClock(clk.Now)}, opts...)
	gw := NewGateway(cfg, adapters, breakers, store, normalizer.New(normalizer.Config{}), opts...)
	t.Cleanup(func() { _ = backend.Close() })
	return &harness{gw: gw, store: store, breakers: breakers, clk: clk}
}

func celo() models.FetchParams { return models.FetchParams{Symbol: "CELO", Chain: "celo"} }

func TestFetchWithFailover_FirstSuccessWins(t *testing.T) {
	a := &fakeAdapter{name: "a", fn: failing(errors.New("boom"))}
	b := &fakeAdapter{name: "b", fn: returning("b", 0.62)}
	c := &fakeAdapter{name: "c", fn: returning("c", 0.70)}
	h := newHarness(t, 5, []drepo.Adapter{a, b, c})

	res, err := h.gw.FetchWithFailover(context.Background(), models.DataTypePrice, celo())
	require.NoError(t, err)
	assert.Equal(t, "b", res.Source)
	assert.False(t, res.FromCache)
	require.Len(t, res.Data, 1)
	assert.Equal(t, 0.62, res.Data[0].Value)
	assert.Equal(t, 0, c.Calls())

	assert.Equal(t, 1, h.breakers.Get("a").Snapshot().FailureCount)
	assert.Equal(t, 0, h.breakers.Get("b").Snapshot().FailureCount)
}

func TestFetchWithFailover_AdapterPanicFailsOver(t *testing.T) {
	a := &fakeAdapter{name: "a", fn: func(int, models.DataType, models.FetchParams) ([]models.NormalizedData, error) {
		var m map[string]int
		m["x"] = 1
		return nil, nil
	}}
	b := &fakeAdapter{name: "b", fn: returning("b", 0.62)}
	h := newHarness(t, 5, []drepo.Adapter{a, b})

	res, err := h.gw.FetchWithFailover(context.Background(), models.DataTypePrice, celo())
	require.NoError(t, err)
	assert.Equal(t, "b", res.Source)
	assert.Equal(t, 1, a.Calls())
	assert.Equal(t, 1, h.breakers.Get("a").Snapshot().FailureCount)
}

func TestFetchWithFailover_CacheFirst(t *testing.T) {
	a := &fakeAdapter{name: "a", fn: returning("a", 1.25)}
	h := newHarness(t, 5, []drepo.Adapter{a})
	ctx := context.Background()

	_, err := h.gw.FetchWithFailover(ctx, models.DataTypePrice, celo())
	require.NoError(t, err)
	res, err := h.gw.FetchWithFailover(ctx, models.DataTypePrice, celo())
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, "a", res.Source)
	assert.Equal(t, 1, a.Calls())

	h.clk.Advance(61 * time.Second)
	_, err = h.gw.FetchWithFailover(ctx, models.DataTypePrice, celo())
	require.NoError(t, err)
	assert.Equal(t, 2, a.Calls())
}

func TestFetchWithFailover_SkipsOpenBreaker(t *testing.T) {
	a := &fakeAdapter{name: "a", fn: failing(errors.New("down"))}
	b := &fakeAdapter{name: "b", fn: returning("b", 2)}
	h := newHarness(t, 1, []drepo.Adapter{a, b})
	ctx := context.Background()

	_, err := h.gw.FetchWithFailover(ctx, models.DataTypePrice, celo())
	require.NoError(t, err)
	assert.Equal(t, breaker.StateOpen, h.breakers.Get("a").State())

	res, err := h.gw.FetchWithFailover(ctx, models.DataTypePrice, models.FetchParams{Symbol: "CUSD"})
	require.NoError(t, err)
	assert.Equal(t, "b", res.Source)
	assert.Equal(t, 1, a.Calls())
}

func TestFetchWithFailover_EmptyResultCountsAsFailure(t *testing.T) {
	a := &fakeAdapter{name: "a", fn: func(int, models.DataType, models.FetchParams) ([]models.NormalizedData, error) {
		return nil, nil
	}}
	b := &fakeAdapter{name: "b", fn: returning("b", 3)}
	h := newHarness(t, 5, []drepo.Adapter{a, b})

	res, err := h.gw.FetchWithFailover(context.Background(), models.DataTypePrice, celo())
	require.NoError(t, err)
	assert.Equal(t, "b", res.Source)
	assert.Equal(t, 1, h.breakers.Get("a").Snapshot().FailureCount)
}

func TestFetchWithFailover_ServesStaleWhenAllDown(t *testing.T) {
	a := &fakeAdapter{name: "a", fn: returning("a", 0.5)}
	b := &fakeAdapter{name: "b", fn: failing(errors.New("down"))}
	h := newHarness(t, 1, []drepo.Adapter{a, b})
	ctx := context.Background()

	_, err := h.gw.FetchWithFailover(ctx, models.DataTypePrice, celo())
	require.NoError(t, err)

	a.set(failing(errors.New("down")))
	h.clk.Advance(11 * time.Minute)

	// first pass trips both breakers, second finds them open
	for i := 0; i < 2; i++ {
		res, err := h.gw.FetchWithFailover(ctx, models.DataTypePrice, celo())
		require.NoError(t, err)
		assert.True(t, res.Stale)
		assert.True(t, res.FromCache)
		assert.Equal(t, "a", res.Source)
		require.Len(t, res.Data, 1)
		assert.Equal(t, 0.5, res.Data[0].Value)
		assert.True(t, res.Data[0].Stale)
		assert.Equal(t, true, res.Data[0].Metadata[models.MetaStale])
		assert.Equal(t, int64(660), res.Data[0].Metadata[models.MetaAge])
	}
	assert.Equal(t, 2, a.Calls())
	assert.Equal(t, 1, b.Calls())

	st := h.gw.GetStatus(ctx)
	assert.Equal(t, int64(2), st.Metrics.StaleDataReturned)
	assert.Equal(t, int64(0), st.Metrics.FailoverCount)
}

func TestFetchWithFailover_Exhausted(t *testing.T) {
	a := &fakeAdapter{name: "a", fn: failing(errors.New("down"))}
	b := &fakeAdapter{name: "b", fn: failing(errors.New("down"))}
	h := newHarness(t, 5, []drepo.Adapter{a, b})

	_, err := h.gw.FetchWithFailover(context.Background(), models.DataTypePrice, celo())
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrNoData))
	var ferr *models.ExhaustedFailoverError
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, "price:celo:celo", ferr.Key)
	assert.Equal(t, []string{"a", "b"}, ferr.Attempted)
	assert.Equal(t, int64(1), h.gw.GetStatus(context.Background()).Metrics.FailoverCount)
}

func TestFetchWithFailover_PreferredSourceFirst(t *testing.T) {
	a := &fakeAdapter{name: "a", fn: returning("a", 1)}
	b := &fakeAdapter{name: "b", fn: returning("b", 2)}
	h := newHarness(t, 5, []drepo.Adapter{a, b})

	p := celo()
	p.Source = "b"
	res, err := h.gw.FetchWithFailover(context.Background(), models.DataTypePrice, p)
	require.NoError(t, err)
	assert.Equal(t, "b", res.Source)
	assert.Equal(t, 0, a.Calls())
	assert.Equal(t, []string{"b", "a"}, names(h.gw.orderFor("b")))
	assert.Equal(t, []string{"a", "b"}, names(h.gw.orderFor("unknown")))
}

func names(as []drepo.Adapter) []string {
	out := make([]string, 0, len(as))
	for _, a := range as {
		out = append(out, a.Name())
	}
	return out
}

func TestCallAdapter_RetriesWithBackoff(t *testing.T) {
	unavailable := &models.AdapterError{Adapter: "a", DataType: models.DataTypePrice, StatusCode: http.StatusServiceUnavailable, Err: errors.New("unavailable")}
	a := &fakeAdapter{name: "a"}
	a.fn = func(call int, dt models.DataType, p models.FetchParams) ([]models.NormalizedData, error) {
		if call < 3 {
			return nil, unavailable
		}
		return returning("a", 4)(call, dt, p)
	}
	h := newHarness(t, 5, []drepo.Adapter{a})
	h.gw.cfg.Defaults = AdapterSettings{Timeout: time.Second, MaxRetries: 3, RetryDelay: 100 * time.Millisecond}

	var delays []time.Duration
	h.gw.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	res, err := h.gw.FetchWithFailover(context.Background(), models.DataTypePrice, celo())
	require.NoError(t, err)
	assert.Equal(t, "a", res.Source)
	assert.Equal(t, 3, a.Calls())
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, delays)
	// retries inside one item are one breaker outcome
	assert.Equal(t, 0, h.breakers.Get("a").Snapshot().FailureCount)
}

func TestCallAdapter_DoesNotRetryClientErrors(t *testing.T) {
	a := &fakeAdapter{name: "a", fn: failing(&models.AdapterError{Adapter: "a", StatusCode: http.StatusNotFound, Err: errors.New("not found")})}
	h := newHarness(t, 5, []drepo.Adapter{a})
	h.gw.cfg.Defaults.MaxRetries = 3
	h.gw.sleep = func(context.Context, time.Duration) error { return nil }

	_, err := h.gw.FetchWithFailover(context.Background(), models.DataTypePrice, celo())
	require.Error(t, err)
	assert.Equal(t, 1, a.Calls())
	assert.Equal(t, 1, h.breakers.Get("a").Snapshot().FailureCount)
}

func TestCallAdapter_TimeoutFailsOver(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	slow := &fakeAdapter{name: "slow", fn: func(int, models.DataType, models.FetchParams) ([]models.NormalizedData, error) {
		<-release
		return nil, nil
	}}
	fast := &fakeAdapter{name: "fast", fn: returning("fast", 9)}
	h := newHarness(t, 5, []drepo.Adapter{slow, fast})
	h.gw.cfg.Adapters = map[string]AdapterSettings{"slow": {Timeout: 20 * time.Millisecond, MaxRetries: 1}}

	res, err := h.gw.FetchWithFailover(context.Background(), models.DataTypePrice, celo())
	require.NoError(t, err)
	assert.Equal(t, "fast", res.Source)
	assert.Equal(t, 1, h.breakers.Get("slow").Snapshot().FailureCount)
}

func TestHandleMessage_PartialFailure(t *testing.T) {
	a := &fakeAdapter{name: "a"}
	a.fn = func(call int, dt models.DataType, p models.FetchParams) ([]models.NormalizedData, error) {
		if p.Symbol == "NOPE" {
			return nil, errors.New("unknown symbol")
		}
		return returning("a", 1.1)(call, dt, p)
	}
	h := newHarness(t, 5, []drepo.Adapter{a})

	req := models.NewRequest(models.MsgPriceRequest, "test", models.PriceRequest{Symbols: []string{"CELO", "NOPE", "CUSD"}})
	resp := h.gw.HandleMessage(context.Background(), req)

	assert.Equal(t, models.MsgPriceUpdate, resp.Type)
	assert.Equal(t, req.RequestID, resp.RequestID)
	require.NotNil(t, resp.Payload)
	assert.True(t, resp.Payload.Success)
	assert.Len(t, resp.Payload.Data, 2)
	require.Len(t, resp.Payload.Errors, 1)
	assert.Contains(t, resp.Payload.Errors, "price:NOPE")
}

func TestHandleMessage_AllItemsFail(t *testing.T) {
	a := &fakeAdapter{name: "a", fn: failing(errors.New("down"))}
	h := newHarness(t, 5, []drepo.Adapter{a})

	req := models.NewRequest(models.MsgRiskRequest, "test", models.RiskRequest{Protocols: []string{"moola", "ubeswap"}})
	resp := h.gw.HandleMessage(context.Background(), req)

	assert.Equal(t, models.MsgRiskUpdate, resp.Type)
	assert.False(t, resp.Payload.Success)
	assert.Contains(t, resp.Payload.Error, "all 2 items failed")
	assert.Len(t, resp.Payload.Errors, 2)

	st := h.gw.GetStatus(context.Background())
	assert.Equal(t, int64(1), st.Metrics.RequestsTotal)
	assert.Equal(t, int64(1), st.Metrics.RequestsFailed)
}

func TestHandleMessage_StatusAndInvalidate(t *testing.T) {
	a := &fakeAdapter{name: "a", fn: returning("a", 1)}
	h := newHarness(t, 5, []drepo.Adapter{a})
	ctx := context.Background()

	_, err := h.gw.FetchWithFailover(ctx, models.DataTypePrice, celo())
	require.NoError(t, err)

	resp := h.gw.HandleMessage(ctx, models.NewRequest(models.MsgStatus, "test", nil))
	assert.Equal(t, models.MsgStatus, resp.Type)
	require.NotNil(t, resp.Payload.Status)
	assert.True(t, resp.Payload.Success)
	assert.Equal(t, models.HealthHealthy, resp.Payload.Status.Health)
	require.Len(t, resp.Payload.Status.Adapters, 1)
	assert.Equal(t, "closed", resp.Payload.Status.Adapters[0].CircuitBreakerState)

	resp = h.gw.HandleMessage(ctx, models.NewRequest(models.MsgCacheInvalidate, "test", models.InvalidateRequest{Symbol: "celo"}))
	assert.True(t, resp.Payload.Success)
	assert.Equal(t, "1", resp.Metadata["invalidated"])
	assert.Equal(t, 1, a.invalidated)

	_, ok := h.store.Get(ctx, "price:celo:celo")
	assert.False(t, ok)
}

func TestHandleMessage_InvalidateRejectsForeignBody(t *testing.T) {
	a := &fakeAdapter{name: "a", fn: returning("a", 1)}
	h := newHarness(t, 5, []drepo.Adapter{a})
	ctx := context.Background()

	_, err := h.gw.FetchWithFailover(ctx, models.DataTypePrice, celo())
	require.NoError(t, err)

	resp := h.gw.HandleMessage(ctx, models.NewRequest(models.MsgCacheInvalidate, "test", models.PriceRequest{Symbols: []string{"CELO"}}))
	assert.False(t, resp.Payload.Success)
	assert.Contains(t, resp.Payload.Error, models.ErrInvalidRequest.Error())
	assert.Equal(t, 0, a.invalidated)

	_, ok := h.store.Get(ctx, "price:celo:celo")
	assert.True(t, ok)
}

func TestHandleMessage_TVLRequest(t *testing.T) {
	a := &fakeAdapter{name: "a", fn: func(_ int, dt models.DataType, p models.FetchParams) ([]models.NormalizedData, error) {
		if dt != models.DataTypeTVL {
			return nil, errors.New("unsupported")
		}
		return []models.NormalizedData{
			models.NewNormalizedData("a", dt, models.Asset{Symbol: p.Protocol, Chain: p.Chain}, 1234567.891, 0.85),
		}, nil
	}}
	h := newHarness(t, 5, []drepo.Adapter{a})

	req := models.NewRequest(models.MsgTVLRequest, "test", models.TVLRequest{Protocols: []string{"ubeswap"}, Chain: "celo"})
	resp := h.gw.HandleMessage(context.Background(), req)

	assert.Equal(t, models.MsgTVLUpdate, resp.Type)
	require.True(t, resp.Payload.Success, resp.Payload.Error)
	require.Len(t, resp.Payload.Data, 1)
	assert.Equal(t, 1234567.89, resp.Payload.Data[0].Value)

	_, ok := h.store.Get(context.Background(), "tvl:ubeswap:celo")
	assert.True(t, ok)
}

func TestHandleMessage_UnknownType(t *testing.T) {
	h := newHarness(t, 5, []drepo.Adapter{&fakeAdapter{name: "a", fn: returning("a", 1)}})
	resp := h.gw.HandleMessage(context.Background(), models.NewRequest(models.MsgPriceUpdate, "test", nil))
	assert.False(t, resp.Payload.Success)
	assert.Contains(t, resp.Payload.Error, models.ErrUnknownMessageType.Error())
}

func TestInvalidateCache_SourceOnlyClearsThatAdapter(t *testing.T) {
	a := &fakeAdapter{name: "a", fn: returning("a", 1)}
	b := &fakeAdapter{name: "b", fn: returning("b", 1)}
	h := newHarness(t, 5, []drepo.Adapter{a, b})

	_, err := h.gw.InvalidateCache(context.Background(), models.InvalidateRequest{Source: "b"})
	require.NoError(t, err)
	assert.Equal(t, 0, a.invalidated)
	assert.Equal(t, 1, b.invalidated)

	_, err = h.gw.InvalidateCache(context.Background(), models.InvalidateRequest{DataType: "bogus"})
	assert.ErrorIs(t, err, models.ErrUnsupportedDataType)
}

func TestGetStatus_Health(t *testing.T) {
	a := &fakeAdapter{name: "a", fn: failing(errors.New("down"))}
	b := &fakeAdapter{name: "b", fn: returning("b", 1)}
	h := newHarness(t, 1, []drepo.Adapter{a, b})
	ctx := context.Background()

	_, err := h.gw.FetchWithFailover(ctx, models.DataTypePrice, celo())
	require.NoError(t, err)
	st := h.gw.GetStatus(ctx)
	assert.Equal(t, models.HealthDegraded, st.Health)
	assert.Equal(t, models.HealthUnhealthy, st.Adapters[0].Status)
	require.NotNil(t, st.Adapters[0].NextCheckTime)
	assert.Nil(t, st.Adapters[1].NextCheckTime)

	b.set(failing(errors.New("down")))
	_, _ = h.gw.FetchWithFailover(ctx, models.DataTypePrice, models.FetchParams{Symbol: "CEUR"})
	assert.Equal(t, models.HealthUnhealthy, h.gw.GetStatus(ctx).Health)
}

func TestRegisterAdapter(t *testing.T) {
	a := &fakeAdapter{name: "a", fn: returning("a", 1)}
	h := newHarness(t, 5, []drepo.Adapter{a})

	require.NoError(t, h.gw.RegisterAdapter(&fakeAdapter{name: "z", fn: returning("z", 1)}))
	assert.Error(t, h.gw.RegisterAdapter(&fakeAdapter{name: "a"}))
	assert.Equal(t, []string{"a", "z"}, h.gw.Order())
}

func TestAnomalyFlagging(t *testing.T) {
	hist := repository.NewMemoryHistoryStore(100)
	base := time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC)
	var past []models.NormalizedData
	for i, v := range []float64{0.99, 1.01, 1.0, 0.98, 1.02, 1.0} {
		d := models.NewNormalizedData("a", models.DataTypePrice, models.Asset{Symbol: "CELO"}, v, 0.9)
		d.Timestamp = base.Add(time.Duration(i) * time.Minute)
		past = append(past, d)
	}
	require.NoError(t, hist.StoreBatch(context.Background(), past))

	a := &fakeAdapter{name: "a", fn: returning("a", 5)}
	h := newHarness(t, 5, []drepo.Adapter{a}, WithHistory(hist))

	res, err := h.gw.FetchWithFailover(context.Background(), models.DataTypePrice, celo())
	require.NoError(t, err)
	assert.Equal(t, true, res.Data[0].Metadata[models.MetaAnomaly])
	assert.Contains(t, res.Data[0].Metadata[models.MetaAnomalyMsg], "deviated")
}

type sinkRecorder struct {
	mu      sync.Mutex
	records []models.NormalizedData
}

func (s *sinkRecorder) Record(records ...models.NormalizedData) {
	s.mu.Lock()
	s.records = append(s.records, records...)
	s.mu.Unlock()
}

func TestLiveRecordsReachHistorySink(t *testing.T) {
	sink := &sinkRecorder{}
	a := &fakeAdapter{name: "a", fn: returning("a", 1)}
	h := newHarness(t, 5, []drepo.Adapter{a}, WithHistorySink(sink))
	ctx := context.Background()

	_, err := h.gw.FetchWithFailover(ctx, models.DataTypePrice, celo())
	require.NoError(t, err)
	_, err = h.gw.FetchWithFailover(ctx, models.DataTypePrice, celo())
	require.NoError(t, err)
	assert.Len(t, sink.records, 1)
}

func TestInterpolateAt(t *testing.T) {
	hist := repository.NewMemoryHistoryStore(100)
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	d1 := models.NewNormalizedData("a", models.DataTypePrice, models.Asset{Symbol: "CELO"}, 1.0, 0.9)
	d1.Timestamp = t0
	d2 := models.NewNormalizedData("a", models.DataTypePrice, models.Asset{Symbol: "CELO"}, 2.0, 0.7)
	d2.Timestamp = t0.Add(10 * time.Minute)
	require.NoError(t, hist.StoreBatch(context.Background(), []models.NormalizedData{d2, d1}))

	h := newHarness(t, 5, []drepo.Adapter{&fakeAdapter{name: "a", fn: returning("a", 1)}}, WithHistory(hist))

	got, err := h.gw.InterpolateAt(context.Background(), models.DataTypePrice, "celo", t0.Add(5*time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, "interpolated", got.Source)
	assert.Equal(t, "CELO", got.Asset.Symbol)
	assert.InDelta(t, 1.5, got.Value, 1e-9)
	assert.InDelta(t, 0.8, got.Confidence(), 1e-9)
	assert.Equal(t, 2, got.Metadata["samples"])

	_, err = h.gw.InterpolateAt(context.Background(), models.DataTypePrice, "cusd", t0, 10)
	assert.ErrorIs(t, err, models.ErrNoData)
}

func TestInterpolateAt_RequiresHistory(t *testing.T) {
	h := newHarness(t, 5, []drepo.Adapter{&fakeAdapter{name: "a", fn: returning("a", 1)}})
	_, err := h.gw.InterpolateAt(context.Background(), models.DataTypePrice, "celo", time.Now(), 10)
	assert.ErrorIs(t, err, models.ErrNotInitialized)
}
