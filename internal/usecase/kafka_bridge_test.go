package usecase

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinGate/internal/domain/models"
	drepo "FinGate/internal/domain/repository"
	pkgkafka "FinGate/pkg/kafka"
)

type capturePublisher struct {
	mu     sync.Mutex
	msgs   []models.GatewayMessage
	closed bool
}

func (p *capturePublisher) Publish(_ context.Context, msg models.GatewayMessage) error {
	p.mu.Lock()
	p.msgs = append(p.msgs, msg)
	p.mu.Unlock()
	return nil
}

func (p *capturePublisher) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *capturePublisher) published() []models.GatewayMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.GatewayMessage(nil), p.msgs...)
}

func TestKafkaBridge_RoundTrip(t *testing.T) {
	svc := newTestService(t, ServiceConfig{KafkaEnabled: true}, []drepo.Adapter{&fakeAdapter{name: "a", fn: returning("a", 0.5)}})
	pub := &capturePublisher{}
	bridge := NewKafkaBridge(svc, pub, "gateway.requests", nil)
	bridge.Start()
	startService(t, svc)

	raw := []byte(`{"type":"price_request","requestId":"req-1","request":{"symbols":["CELO"]}}`)
	km := kafka.Message{Headers: []kafka.Header{{Key: "trace_id", Value: []byte("trace-7")}}}
	ctx, err := pkgkafka.TraceHook().Before(context.Background(), km)
	require.NoError(t, err)
	require.NoError(t, bridge.Handle(ctx, raw))

	require.Eventually(t, func() bool { return len(pub.published()) == 1 }, time.Second, 5*time.Millisecond)
	out := pub.published()[0]
	assert.Equal(t, "req-1", out.RequestID)
	assert.Equal(t, models.MsgPriceUpdate, out.Type)
	require.NotNil(t, out.Payload)
	assert.True(t, out.Payload.Success)

	require.NoError(t, bridge.Close())
	assert.True(t, pub.closed)
}

func TestKafkaBridge_RejectsBadMessages(t *testing.T) {
	svc := newTestService(t, ServiceConfig{}, []drepo.Adapter{&fakeAdapter{name: "a", fn: returning("a", 1)}})
	startService(t, svc)
	bridge := NewKafkaBridge(svc, &capturePublisher{}, "gateway.requests", nil)
	ctx := context.Background()

	assert.Error(t, bridge.Handle(ctx, []byte(`{not json`)))

	update, err := json.Marshal(models.NewUpdate(models.NewRequest(models.MsgPriceRequest, "x", nil), "x", nil, nil))
	require.NoError(t, err)
	assert.ErrorIs(t, bridge.Handle(ctx, update), models.ErrUnknownMessageType)

	assert.ErrorIs(t, bridge.Handle(ctx, []byte(`{"type":"price_request","request":{"symbols":[]}}`)), models.ErrInvalidRequest)
	assert.NoError(t, bridge.Handle(ctx, []byte(`{"type":"status"}`)))
}

func TestPrepareBody_AppliesDefaults(t *testing.T) {
	body, err := prepareBody(context.Background(), models.BalanceRequest{Address: "0x" + "ab12" + "0000000000000000000000000000000000cd"})
	require.NoError(t, err)
	req, ok := body.(models.BalanceRequest)
	require.True(t, ok)
	assert.Equal(t, "celo", req.Chain)
	assert.Equal(t, 18, req.TokenDecimals)
}
