package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	models "FinGate/internal/domain/models"
	apimetrics "FinGate/internal/service/metrics"
	"FinGate/internal/usecase"
	xhttp "FinGate/pkg/http"
	xlogger "FinGate/pkg/logger"
	"FinGate/pkg/util"
)

const (
	wsSendBuffer   = 64
	wsWriteTimeout = 5 * time.Second
	wsPingInterval = 30 * time.Second
)

// GatewayEchoHandler exposes the gateway service over HTTP and streams
// update messages to websocket subscribers.
type GatewayEchoHandler struct {
	logger   *xlogger.Logger
	svc      *usecase.Service
	upgrader websocket.Upgrader
}

func NewGatewayEchoHandler(logger *xlogger.Logger, svc *usecase.Service) *GatewayEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &GatewayEchoHandler{
		logger: logger.With("api"),
		svc:    svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *GatewayEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.POST("/prices", h.Prices)
	g.POST("/liquidity", h.Liquidity)
	g.POST("/apy", h.APY)
	g.POST("/risk", h.Risk)
	g.POST("/tvl", h.TVL)
	g.POST("/balance", h.Balance)
	g.POST("/transaction", h.Transaction)
	g.POST("/cache/invalidate", h.InvalidateCache)
	g.GET("/status", h.Status)
	g.GET("/interpolate", h.Interpolate)
	e.GET("/healthz", h.Healthz)
	e.GET("/ws/updates", h.Updates)
}

func (h *GatewayEchoHandler) Prices(c echo.Context) error {
	return handleRequest(h, c, "prices", h.svc.RequestPrices)
}

func (h *GatewayEchoHandler) Liquidity(c echo.Context) error {
	return handleRequest(h, c, "liquidity", h.svc.RequestLiquidity)
}

func (h *GatewayEchoHandler) TVL(c echo.Context) error {
	return handleRequest(h, c, "tvl", h.svc.RequestTVL)
}

func (h *GatewayEchoHandler) APY(c echo.Context) error {
	return handleRequest(h, c, "apy", h.svc.RequestAPY)
}

func (h *GatewayEchoHandler) Risk(c echo.Context) error {
	return handleRequest(h, c, "risk", h.svc.RequestRisk)
}

func (h *GatewayEchoHandler) Balance(c echo.Context) error {
	return handleRequest(h, c, "balance", h.svc.RequestBalance)
}

func (h *GatewayEchoHandler) Transaction(c echo.Context) error {
	return handleRequest(h, c, "transaction", h.svc.RequestTransaction)
}

func (h *GatewayEchoHandler) InvalidateCache(c echo.Context) error {
	return handleRequest(h, c, "cache_invalidate", h.svc.InvalidateCache)
}

// handleRequest binds and validates T, runs it through the service and
// writes the response payload.
func handleRequest[T any](h *GatewayEchoHandler, c echo.Context, endpoint string, call func(context.Context, T) (models.GatewayMessage, error)) error {
	start := time.Now()
	req := new(T)
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		apimetrics.Observe(endpoint, start, models.ErrInvalidRequest)
		return xhttp.BadRequestResponse(c, verr)
	}

	resp, err := call(c.Request().Context(), *req)
	if err != nil {
		apimetrics.Observe(endpoint, start, err)
		return h.errorResponse(c, endpoint, err)
	}
	if resp.Payload == nil {
		apimetrics.Observe(endpoint, start, models.ErrNoData)
		return xhttp.InternalServerErrorResponse(c)
	}
	if !resp.Payload.Success {
		if resp.Payload.Error == models.ErrServiceClosed.Error() {
			apimetrics.Observe(endpoint, start, models.ErrServiceClosed)
			return xhttp.ServiceUnavailableResponse(c, resp.Payload)
		}
		apimetrics.Observe(endpoint, start, fmt.Errorf("%w: %s", models.ErrNoData, resp.Payload.Error))
		return xhttp.NotFoundResponse(c, resp.Payload)
	}
	apimetrics.Observe(endpoint, start, nil)
	return xhttp.SuccessResponse(c, resp.Payload)
}

func (h *GatewayEchoHandler) Status(c echo.Context) error {
	start := time.Now()
	st := h.svc.Status(c.Request().Context())
	apimetrics.Observe("status", start, nil)
	return xhttp.SuccessResponse(c, st)
}

func (h *GatewayEchoHandler) Interpolate(c echo.Context) error {
	start := time.Now()
	req := &models.InterpolateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		apimetrics.Observe("interpolate", start, models.ErrInvalidRequest)
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.svc.Interpolate(c.Request().Context(), *req)
	apimetrics.Observe("interpolate", start, err)
	if err != nil {
		return h.errorResponse(c, "interpolate", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *GatewayEchoHandler) Healthz(c echo.Context) error {
	ctx := c.Request().Context()
	if !h.svc.IsHealthy(ctx) {
		return xhttp.ServiceUnavailableResponse(c, map[string]string{"status": models.HealthUnhealthy})
	}
	return xhttp.SuccessResponse(c, map[string]string{"status": h.svc.Gateway().GetStatus(ctx).Health})
}

func (h *GatewayEchoHandler) errorResponse(c echo.Context, endpoint string, err error) error {
	var appErr *xhttp.AppError
	switch {
	case errors.Is(err, models.ErrInvalidRequest):
		appErr = xhttp.BadRequestError(err.Error())
	case errors.Is(err, models.ErrNoData):
		appErr = xhttp.NotFoundError(err.Error())
	case errors.Is(err, models.ErrServiceClosed), errors.Is(err, models.ErrNotInitialized):
		appErr = xhttp.ServiceUnavailableError(err.Error())
	default:
		h.logger.Error("gateway request failed", xlogger.String("endpoint", endpoint), xlogger.Error(err))
		appErr = xhttp.InternalError("gateway request failed")
	}
	return xhttp.AppErrorResponse(c, appErr.WithError(err))
}

// Updates streams update messages as JSON frames. The optional types query
// parameter restricts the stream to a comma separated list of message types.
// Frames for a client that cannot keep up are dropped.
func (h *GatewayEchoHandler) Updates(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", xlogger.Error(err))
		return nil
	}
	defer conn.Close()

	filter := make(map[models.MessageType]struct{})
	for _, t := range util.SplitCSV(c.QueryParam("types")) {
		filter[models.MessageType(strings.ToLower(t))] = struct{}{}
	}

	send := make(chan models.GatewayMessage, wsSendBuffer)
	unsubscribe := h.svc.SubscribeResponses(func(_ context.Context, msg models.GatewayMessage) error {
		if len(filter) > 0 {
			if _, ok := filter[msg.Type]; !ok {
				return nil
			}
		}
		select {
		case send <- msg:
		default:
			h.logger.Debug("websocket client lagging, update dropped", xlogger.String("requestId", msg.RequestID))
		}
		return nil
	})
	defer unsubscribe()

	apimetrics.WSClients.Inc()
	defer apimetrics.WSClients.Dec()
	h.logger.Debug("websocket client connected", xlogger.String("remote", c.RealIP()))

	// the read loop only watches for the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			return nil
		case <-c.Request().Context().Done():
			return nil
		case msg := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("websocket write failed", xlogger.Error(err))
				return nil
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return nil
			}
		}
	}
}
