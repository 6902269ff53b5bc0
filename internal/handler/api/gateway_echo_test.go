package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinGate/internal/domain/models"
	drepo "FinGate/internal/domain/repository"
	"FinGate/internal/service/breaker"
	svccache "FinGate/internal/service/cache"
	"FinGate/internal/service/normalizer"
	"FinGate/internal/usecase"
	"FinGate/pkg/bus"
	pkgcache "FinGate/pkg/cache"
)

type stubAdapter struct {
	name  string
	value float64
	err   error
}

func (a stubAdapter) Name() string { return a.name }

func (a stubAdapter) Fetch(_ context.Context, dt models.DataType, p models.FetchParams) ([]models.NormalizedData, error) {
	if a.err != nil {
		return nil, a.err
	}
	if p.Symbol == "NOPE" {
		return nil, nil
	}
	return []models.NormalizedData{
		models.NewNormalizedData(a.name, dt, models.Asset{Symbol: p.Symbol, Chain: p.Chain}, a.value, 0.9),
	}, nil
}

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestEcho(t *testing.T, adapters ...drepo.Adapter) (*echo.Echo, *usecase.Service) {
	t.Helper()
	backend := pkgcache.NewMemoryCache()
	store := svccache.NewStore(backend, nil)
	breakers := breaker.NewManager(breaker.Config{FailureThreshold: 5, SuccessThreshold: 1, Timeout: time.Minute})
	names := make([]string, 0, len(adapters))
	for _, a := range adapters {
		names = append(names, a.Name())
	}
	gw := usecase.NewGateway(usecase.GatewayConfig{
		Name:          "api-test",
		PriorityOrder: names,
		Defaults:      usecase.AdapterSettings{Timeout: time.Second, MaxRetries: 1, RetryDelay: time.Millisecond},
	}, adapters, breakers, store, normalizer.New(normalizer.Config{}))
	svc := usecase.NewService(usecase.ServiceConfig{Name: "api"}, gw, bus.New[models.GatewayMessage](bus.Config{Name: "api-test"}, nil), nil)
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
		_ = backend.Close()
	})

	e := echo.New()
	NewGatewayEchoHandler(nil, svc).RegisterRoutes(e)
	return e, svc
}

func do(t *testing.T, e *echo.Echo, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func TestGatewayEcho_Prices(t *testing.T) {
	e, _ := newTestEcho(t, stubAdapter{name: "a", value: 0.61})

	rec, env := do(t, e, http.MethodPost, "/api/prices", `{"symbols":["CELO"],"chains":["celo"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusOK, env.Status)

	var payload models.ResponsePayload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.True(t, payload.Success)
	require.Len(t, payload.Data, 1)
	assert.Equal(t, "a", payload.Data[0].Source)
	assert.Equal(t, 0.61, payload.Data[0].Value)
}

func TestGatewayEcho_ValidationFailure(t *testing.T) {
	e, _ := newTestEcho(t, stubAdapter{name: "a", value: 1})

	rec, env := do(t, e, http.MethodPost, "/api/prices", `{"symbols":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, http.StatusBadRequest, env.Status)
}

func TestGatewayEcho_NoDataIsNotFound(t *testing.T) {
	e, _ := newTestEcho(t, stubAdapter{name: "a", value: 1})

	rec, env := do(t, e, http.MethodPost, "/api/prices", `{"symbols":["NOPE"]}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var payload models.ResponsePayload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.False(t, payload.Success)
	assert.NotEmpty(t, payload.Error)
}

func TestGatewayEcho_ClosedServiceIsUnavailable(t *testing.T) {
	e, svc := newTestEcho(t, stubAdapter{name: "a", value: 1})
	require.NoError(t, svc.Shutdown(context.Background()))

	rec, _ := do(t, e, http.MethodPost, "/api/prices", `{"symbols":["CELO"]}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec, _ = do(t, e, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGatewayEcho_StatusAndHealth(t *testing.T) {
	e, _ := newTestEcho(t, stubAdapter{name: "a", value: 1}, stubAdapter{name: "b", err: errors.New("down")})

	rec, env := do(t, e, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st usecase.ServiceStatus
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.True(t, st.Initialized)
	assert.Equal(t, 2, st.AdaptersCount)

	rec, env = do(t, e, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), models.HealthHealthy)
}

func TestGatewayEcho_InterpolateRejectsBadTime(t *testing.T) {
	e, _ := newTestEcho(t, stubAdapter{name: "a", value: 1})

	rec, _ := do(t, e, http.MethodGet, "/api/interpolate?symbol=CELO&at=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, e, http.MethodGet, "/api/interpolate?symbol=CELO", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGatewayEcho_InvalidateCache(t *testing.T) {
	e, _ := newTestEcho(t, stubAdapter{name: "a", value: 1})

	rec, _ := do(t, e, http.MethodPost, "/api/cache/invalidate", `{}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGatewayEcho_UpdatesStream(t *testing.T) {
	e, _ := newTestEcho(t, stubAdapter{name: "a", value: 2.5})
	srv := httptest.NewServer(e)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/updates?types=price_update"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	frames := make(chan models.GatewayMessage, 8)
	go func() {
		for {
			var msg models.GatewayMessage
			if err := conn.ReadJSON(&msg); err != nil {
				close(frames)
				return
			}
			frames <- msg
		}
	}()

	// the subscription is registered after the handshake completes, so keep
	// asking until a frame arrives
	deadline := time.After(3 * time.Second)
	for {
		resp, err := http.Post(srv.URL+"/api/prices", echo.MIMEApplicationJSON, strings.NewReader(`{"symbols":["CELO"]}`))
		require.NoError(t, err)
		_ = resp.Body.Close()

		select {
		case msg, ok := <-frames:
			require.True(t, ok, "stream closed")
			assert.Equal(t, models.MsgPriceUpdate, msg.Type)
			require.NotNil(t, msg.Payload)
			assert.True(t, msg.Payload.Success)
			return
		case <-time.After(100 * time.Millisecond):
		case <-deadline:
			t.Fatal("no update frame received")
		}
	}
}
