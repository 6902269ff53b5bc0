package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"FinGate/internal/domain/models"
	drepo "FinGate/internal/domain/repository"
	"FinGate/pkg/bus"
	pkghttp "FinGate/pkg/http"
	"FinGate/pkg/logger"
	pkgmetrics "FinGate/pkg/metrics"
	"FinGate/pkg/util"
)

type ServiceConfig struct {
	Name          string
	MaxConcurrent int
	QueueSize     int
	KafkaEnabled  bool
}

type BridgeStatus struct {
	KafkaEnabled bool `json:"kafkaEnabled"`
}

type ServiceStatus struct {
	Initialized   bool                 `json:"initialized"`
	AdaptersCount int                  `json:"adaptersCount"`
	Bus           bus.Stats            `json:"bus"`
	Gateway       models.GatewayStatus `json:"gateway"`
	Bridge        BridgeStatus         `json:"bridge"`
}

// ResponseTopics lists every topic a response can be published on.
func ResponseTopics() []string {
	out := make([]string, 0, len(models.RequestTypes))
	for _, t := range models.RequestTypes {
		out = append(out, string(t.ResponseType()))
	}
	return out
}

func requestTopics() []string {
	out := make([]string, 0, len(models.RequestTypes))
	for _, t := range models.RequestTypes {
		out = append(out, string(t))
	}
	return out
}

// Service composes the gateway with the message bus. Requests published on
// the bus are admitted FIFO into a fixed pool of workers; responses are
// published back and delivered to waiting callers by request id.
type Service struct {
	cfg     ServiceConfig
	gateway *Gateway
	bus     *bus.Bus[models.GatewayMessage]
	metrics drepo.Metrics
	log     *logger.Logger

	admit   sync.RWMutex
	stopped bool
	jobs    chan models.GatewayMessage
	wg      sync.WaitGroup

	pending sync.Map // request id -> chan models.GatewayMessage

	ctx         context.Context
	cancel      context.CancelFunc
	initialized atomic.Bool
	closed      atomic.Bool
	unsubscribe []func()
}

type ServiceOption func(*Service)

func WithServiceMetrics(m drepo.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

func NewService(cfg ServiceConfig, gw *Gateway, b *bus.Bus[models.GatewayMessage], log *logger.Logger, opts ...ServiceOption) *Service {
	if cfg.Name == "" {
		cfg.Name = "gateway"
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 32
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if log == nil {
		log = logger.Nop()
	}
	s := &Service{
		cfg:     cfg,
		gateway: gw,
		bus:     b,
		metrics: pkgmetrics.Nop{},
		log:     log.With("service"),
		jobs:    make(chan models.GatewayMessage, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start subscribes the service to the bus and starts the workers, the bus
// loop and the adapters.
func (s *Service) Start(ctx context.Context) error {
	if s.closed.Load() {
		return models.ErrServiceClosed
	}
	if !s.initialized.CompareAndSwap(false, true) {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	s.unsubscribe = append(s.unsubscribe,
		s.bus.SubscribeMultiple(requestTopics(), s.enqueue),
		s.bus.SubscribeMultiple(requestTopics(), bus.LogHandler[models.GatewayMessage](s.log)),
		s.bus.SubscribeMultiple(ResponseTopics(), s.resolve),
	)

	for i := 0; i < s.cfg.MaxConcurrent; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	if err := s.bus.Start(s.ctx); err != nil {
		return fmt.Errorf("start bus: %w", err)
	}
	if err := s.gateway.Start(s.ctx); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}
	s.log.Info("service started",
		logger.Int("workers", s.cfg.MaxConcurrent),
		logger.Int("queue", s.cfg.QueueSize),
		logger.Strings("adapters", s.gateway.Order()))
	return nil
}

// enqueue admits a request. A full queue blocks the bus loop, which in turn
// keeps later requests queued on the bus.
func (s *Service) enqueue(ctx context.Context, msg models.GatewayMessage) error {
	if msg.Payload != nil {
		return nil
	}
	s.admit.RLock()
	defer s.admit.RUnlock()
	if s.stopped {
		s.deliver(models.NewUpdate(msg, s.cfg.Name, nil, models.ErrServiceClosed))
		return models.ErrServiceClosed
	}
	select {
	case s.jobs <- msg:
		return nil
	case <-ctx.Done():
		s.deliver(models.NewUpdate(msg, s.cfg.Name, nil, ctx.Err()))
		return ctx.Err()
	}
}

func (s *Service) worker() {
	defer s.wg.Done()
	for msg := range s.jobs {
		s.metrics.RecordInFlight(1)
		resp := s.gateway.HandleMessage(s.ctx, msg)
		s.metrics.RecordInFlight(-1)
		if err := s.bus.Publish(s.ctx, resp); err != nil {
			s.log.Debug("response not published", logger.String("requestId", resp.RequestID), logger.Error(err))
			s.deliver(resp)
		}
	}
}

func (s *Service) resolve(_ context.Context, msg models.GatewayMessage) error {
	if msg.Payload == nil {
		return nil
	}
	s.deliver(msg)
	return nil
}

func (s *Service) deliver(msg models.GatewayMessage) {
	if v, ok := s.pending.LoadAndDelete(msg.RequestID); ok {
		v.(chan models.GatewayMessage) <- msg
	}
}

// Publish hands a message to the bus without waiting for its response.
func (s *Service) Publish(ctx context.Context, msg models.GatewayMessage) error {
	if s.closed.Load() {
		return models.ErrServiceClosed
	}
	return s.bus.Publish(ctx, msg)
}

// Call publishes a request and waits for the response carrying its request id.
func (s *Service) Call(ctx context.Context, msg models.GatewayMessage) (models.GatewayMessage, error) {
	if !s.initialized.Load() {
		return models.GatewayMessage{}, models.ErrNotInitialized
	}
	if s.closed.Load() {
		return models.GatewayMessage{}, models.ErrServiceClosed
	}
	if msg.RequestID == "" {
		msg.RequestID = msg.ID
	}
	ch := make(chan models.GatewayMessage, 1)
	if _, loaded := s.pending.LoadOrStore(msg.RequestID, ch); loaded {
		return models.GatewayMessage{}, fmt.Errorf("request %s already in flight", msg.RequestID)
	}
	if err := s.bus.Publish(ctx, msg); err != nil {
		s.pending.Delete(msg.RequestID)
		if errors.Is(err, bus.ErrClosed) {
			err = models.ErrServiceClosed
		}
		return models.GatewayMessage{}, fmt.Errorf("publish %s: %w", msg.Type, err)
	}
	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		s.pending.Delete(msg.RequestID)
		return models.GatewayMessage{}, ctx.Err()
	}
}

func call[T any](ctx context.Context, s *Service, t models.MessageType, req T) (models.GatewayMessage, error) {
	if err := pkghttp.Prepare(ctx, &req); err != nil {
		return models.GatewayMessage{}, fmt.Errorf("%w %s: %w", models.ErrInvalidRequest, t, err)
	}
	return s.Call(ctx, models.NewRequest(t, s.cfg.Name, req))
}

func (s *Service) RequestPrices(ctx context.Context, req models.PriceRequest) (models.GatewayMessage, error) {
	return call(ctx, s, models.MsgPriceRequest, req)
}

func (s *Service) RequestLiquidity(ctx context.Context, req models.LiquidityRequest) (models.GatewayMessage, error) {
	return call(ctx, s, models.MsgLiquidityRequest, req)
}

func (s *Service) RequestAPY(ctx context.Context, req models.APYRequest) (models.GatewayMessage, error) {
	return call(ctx, s, models.MsgAPYRequest, req)
}

func (s *Service) RequestRisk(ctx context.Context, req models.RiskRequest) (models.GatewayMessage, error) {
	return call(ctx, s, models.MsgRiskRequest, req)
}

func (s *Service) RequestTVL(ctx context.Context, req models.TVLRequest) (models.GatewayMessage, error) {
	return call(ctx, s, models.MsgTVLRequest, req)
}

func (s *Service) RequestBalance(ctx context.Context, req models.BalanceRequest) (models.GatewayMessage, error) {
	return call(ctx, s, models.MsgBalanceRequest, req)
}

func (s *Service) RequestTransaction(ctx context.Context, req models.TransactionRequest) (models.GatewayMessage, error) {
	return call(ctx, s, models.MsgTransactionRequest, req)
}

func (s *Service) InvalidateCache(ctx context.Context, req models.InvalidateRequest) (models.GatewayMessage, error) {
	return call(ctx, s, models.MsgCacheInvalidate, req)
}

// Interpolate answers directly from history; it does not go through the bus.
func (s *Service) Interpolate(ctx context.Context, req models.InterpolateRequest) (models.NormalizedData, error) {
	if err := pkghttp.Prepare(ctx, &req); err != nil {
		return models.NormalizedData{}, fmt.Errorf("%w interpolate: %w", models.ErrInvalidRequest, err)
	}
	dt, _ := models.ParseDataType(req.DataType)
	at, ok := util.ParseTime(req.At)
	if !ok {
		return models.NormalizedData{}, fmt.Errorf("%w interpolate: at %q is neither RFC3339 nor a unix timestamp", models.ErrInvalidRequest, req.At)
	}
	return s.gateway.InterpolateAt(ctx, dt, req.Symbol, at, req.Window)
}

func (s *Service) Status(ctx context.Context) ServiceStatus {
	return ServiceStatus{
		Initialized:   s.initialized.Load() && !s.closed.Load(),
		AdaptersCount: len(s.gateway.Order()),
		Bus:           s.bus.Stats(),
		Gateway:       s.gateway.GetStatus(ctx),
		Bridge:        BridgeStatus{KafkaEnabled: s.cfg.KafkaEnabled},
	}
}

// IsHealthy is false before Start, after Shutdown and when every adapter is
// unavailable.
func (s *Service) IsHealthy(ctx context.Context) bool {
	if !s.initialized.Load() || s.closed.Load() {
		return false
	}
	return s.gateway.GetStatus(ctx).Health != models.HealthUnhealthy
}

// Subscribe registers h for topic on the service bus.
func (s *Service) Subscribe(topic string, h bus.Handler[models.GatewayMessage]) func() {
	return s.bus.Subscribe(topic, h)
}

// SubscribeResponses registers h for every response message.
func (s *Service) SubscribeResponses(h bus.Handler[models.GatewayMessage]) func() {
	return s.bus.SubscribeMultiple(ResponseTopics(), func(ctx context.Context, msg models.GatewayMessage) error {
		if msg.Payload == nil {
			return nil
		}
		return h(ctx, msg)
	})
}

func (s *Service) Gateway() *Gateway { return s.gateway }

// Shutdown stops admission, drains the bus and the workers, fails callers
// still waiting and shuts the gateway down.
func (s *Service) Shutdown(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	if err := s.bus.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close bus: %w", err))
	}

	s.admit.Lock()
	s.stopped = true
	close(s.jobs)
	s.admit.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("wait workers: %w", ctx.Err()))
	}

	s.pending.Range(func(k, _ any) bool {
		v, ok := s.pending.LoadAndDelete(k)
		if !ok {
			return true
		}
		v.(chan models.GatewayMessage) <- models.GatewayMessage{
			RequestID: k.(string),
			Payload:   &models.ResponsePayload{Error: models.ErrServiceClosed.Error(), RequestID: k.(string)},
		}
		return true
	})
	for _, u := range s.unsubscribe {
		u()
	}
	if s.cancel != nil {
		s.cancel()
	}
	if err := s.gateway.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	s.log.Info("service shut down")
	return errors.Join(errs...)
}
