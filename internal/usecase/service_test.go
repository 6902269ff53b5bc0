package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinGate/internal/domain/models"
	drepo "FinGate/internal/domain/repository"
	"FinGate/internal/repository"
	"FinGate/pkg/bus"
)

func newTestService(t *testing.T, cfg ServiceConfig, adapters []drepo.Adapter, opts ...GatewayOption) *Service {
	t.Helper()
	h := newHarness(t, 5, adapters, opts...)
	svc := NewService(cfg, h.gw, bus.New[models.GatewayMessage](bus.Config{Name: "test"}, nil), nil)
	return svc
}

func startService(t *testing.T, svc *Service) {
	t.Helper()
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
}

func TestService_CallBeforeStart(t *testing.T) {
	svc := newTestService(t, ServiceConfig{}, []drepo.Adapter{&fakeAdapter{name: "a", fn: returning("a", 1)}})
	_, err := svc.RequestPrices(context.Background(), models.PriceRequest{Symbols: []string{"CELO"}})
	assert.ErrorIs(t, err, models.ErrNotInitialized)
	assert.False(t, svc.IsHealthy(context.Background()))
}

func TestService_RequestPrices(t *testing.T) {
	svc := newTestService(t, ServiceConfig{Name: "svc"}, []drepo.Adapter{&fakeAdapter{name: "a", fn: returning("a", 0.61)}})
	startService(t, svc)

	resp, err := svc.RequestPrices(context.Background(), models.PriceRequest{Symbols: []string{"celo", "cusd"}, Chains: []string{"celo"}})
	require.NoError(t, err)
	assert.Equal(t, models.MsgPriceUpdate, resp.Type)
	require.NotNil(t, resp.Payload)
	assert.True(t, resp.Payload.Success)
	require.Len(t, resp.Payload.Data, 2)
	for _, d := range resp.Payload.Data {
		assert.Equal(t, "a", d.Source)
		assert.Equal(t, "celo", d.Asset.Chain)
	}
	assert.True(t, svc.IsHealthy(context.Background()))

	st := svc.Status(context.Background())
	assert.True(t, st.Initialized)
	assert.Equal(t, 1, st.AdaptersCount)
	assert.GreaterOrEqual(t, st.Bus.Published, uint64(2))
}

func TestService_RejectsInvalidRequests(t *testing.T) {
	svc := newTestService(t, ServiceConfig{}, []drepo.Adapter{&fakeAdapter{name: "a", fn: returning("a", 1)}})
	startService(t, svc)
	ctx := context.Background()

	_, err := svc.RequestPrices(ctx, models.PriceRequest{})
	assert.ErrorIs(t, err, models.ErrInvalidRequest)
	_, err = svc.RequestBalance(ctx, models.BalanceRequest{Address: "not-an-address"})
	assert.ErrorIs(t, err, models.ErrInvalidRequest)
	_, err = svc.InvalidateCache(ctx, models.InvalidateRequest{DataType: "volume"})
	assert.ErrorIs(t, err, models.ErrInvalidRequest)
}

func TestService_BoundsConcurrentWork(t *testing.T) {
	var inFlight, peak atomic.Int32
	a := &fakeAdapter{name: "a"}
	a.fn = func(call int, dt models.DataType, p models.FetchParams) ([]models.NormalizedData, error) {
		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return returning("a", 1)(call, dt, p)
	}
	svc := newTestService(t, ServiceConfig{MaxConcurrent: 2}, []drepo.Adapter{a})
	startService(t, svc)

	var wg sync.WaitGroup
	errs := make(chan error, 6)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := svc.RequestRisk(context.Background(), models.RiskRequest{Protocols: []string{fmt.Sprintf("p%d", i)}})
			if err == nil && !resp.Payload.Success {
				err = fmt.Errorf("request %d: %s", i, resp.Payload.Error)
			}
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	// each worker fans out to at most ItemConcurrency items, one item per request here
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestService_SubscribeResponses(t *testing.T) {
	svc := newTestService(t, ServiceConfig{}, []drepo.Adapter{&fakeAdapter{name: "a", fn: returning("a", 1)}})
	got := make(chan models.GatewayMessage, 4)
	svc.SubscribeResponses(func(_ context.Context, msg models.GatewayMessage) error {
		got <- msg
		return nil
	})
	startService(t, svc)

	resp, err := svc.Call(context.Background(), models.NewRequest(models.MsgStatus, "test", nil))
	require.NoError(t, err)
	require.NotNil(t, resp.Payload.Status)

	select {
	case msg := <-got:
		assert.Equal(t, resp.RequestID, msg.RequestID)
		assert.Equal(t, models.MsgStatus, msg.Type)
	case <-time.After(time.Second):
		t.Fatal("response not observed")
	}
}

func TestService_ShutdownFailsPendingCalls(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	a := &fakeAdapter{name: "a", fn: func(int, models.DataType, models.FetchParams) ([]models.NormalizedData, error) {
		entered <- struct{}{}
		<-release
		return nil, nil
	}}
	svc := newTestService(t, ServiceConfig{MaxConcurrent: 1}, []drepo.Adapter{a})
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { close(release) })

	result := make(chan models.GatewayMessage, 1)
	go func() {
		resp, _ := svc.RequestPrices(context.Background(), models.PriceRequest{Symbols: []string{"CELO"}})
		result <- resp
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := svc.Shutdown(ctx)
	assert.ErrorContains(t, err, "wait workers")

	select {
	case resp := <-result:
		require.NotNil(t, resp.Payload)
		assert.False(t, resp.Payload.Success)
		assert.Equal(t, models.ErrServiceClosed.Error(), resp.Payload.Error)
	case <-time.After(time.Second):
		t.Fatal("pending call not released")
	}

	_, err = svc.Call(context.Background(), models.NewRequest(models.MsgStatus, "test", nil))
	assert.ErrorIs(t, err, models.ErrServiceClosed)
	assert.ErrorIs(t, svc.Publish(context.Background(), models.NewRequest(models.MsgStatus, "test", nil)), models.ErrServiceClosed)
	assert.False(t, svc.IsHealthy(context.Background()))
	assert.NoError(t, svc.Shutdown(context.Background()))
}

func TestService_Interpolate(t *testing.T) {
	hist := repository.NewMemoryHistoryStore(0)
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	var recs []models.NormalizedData
	for i, v := range []float64{10, 20} {
		d := models.NewNormalizedData("a", models.DataTypePrice, models.Asset{Symbol: "CELO"}, v, 0.9)
		d.Timestamp = t0.Add(time.Duration(i) * time.Hour)
		recs = append(recs, d)
	}
	require.NoError(t, hist.StoreBatch(context.Background(), recs))

	svc := newTestService(t, ServiceConfig{}, []drepo.Adapter{&fakeAdapter{name: "a", fn: returning("a", 1)}}, WithHistory(hist))

	got, err := svc.Interpolate(context.Background(), models.InterpolateRequest{
		Symbol: "celo",
		At:     t0.Add(15 * time.Minute).Format(time.RFC3339),
	})
	require.NoError(t, err)
	assert.InDelta(t, 12.5, got.Value, 1e-9)
	assert.Equal(t, models.DataTypePrice, got.DataType)

	_, err = svc.Interpolate(context.Background(), models.InterpolateRequest{Symbol: "celo", At: "yesterday"})
	assert.ErrorIs(t, err, models.ErrInvalidRequest)
}
