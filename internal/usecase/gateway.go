package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"FinGate/internal/domain/models"
	drepo "FinGate/internal/domain/repository"
	"FinGate/internal/service/breaker"
	svccache "FinGate/internal/service/cache"
	"FinGate/internal/service/normalizer"
	"FinGate/internal/service/ratelimit"
	"FinGate/pkg/config"
	pkghttp "FinGate/pkg/http"
	"FinGate/pkg/logger"
	pkgmetrics "FinGate/pkg/metrics"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
	outcomeSkipped = "skipped"
	outcomeEmpty   = "empty"

	sideLookupTimeout = 500 * time.Millisecond
	// longer Retry-After hints are left to the next request
	maxRetryAfter = 10 * time.Second
)

// AdapterSettings tunes calls to one adapter.
type AdapterSettings struct {
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

type GatewayConfig struct {
	Name                  string
	PriorityOrder         []string
	RequestTimeout        time.Duration
	ItemConcurrency       int
	UseCachedOnFailure    bool
	MarkStaleWhenFallback bool
	AnomalyThreshold      float64
	AnomalyWindow         int
	Defaults              AdapterSettings
	Adapters              map[string]AdapterSettings
}

func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		Name:                  "gateway",
		RequestTimeout:        10 * time.Second,
		ItemConcurrency:       4,
		UseCachedOnFailure:    true,
		MarkStaleWhenFallback: true,
		AnomalyThreshold:      normalizer.DefaultAnomalyThreshold,
		AnomalyWindow:         50,
		Defaults:              AdapterSettings{Timeout: 5 * time.Second, MaxRetries: 3, RetryDelay: time.Second},
	}
}

// GatewayConfigFrom maps the file configuration onto the orchestrator.
func GatewayConfigFrom(cfg *config.Config) GatewayConfig {
	g := cfg.Gateway
	gc := DefaultGatewayConfig()
	gc.Name = cfg.ServiceName
	gc.PriorityOrder = cfg.EnabledAdapters()
	gc.RequestTimeout = g.RequestTimeout
	gc.ItemConcurrency = g.ItemConcurrency
	gc.UseCachedOnFailure = g.UseCachedOnFailure
	gc.MarkStaleWhenFallback = g.MarkStaleWhenFallback
	gc.AnomalyThreshold = g.AnomalyThreshold
	gc.AnomalyWindow = g.AnomalyWindow
	gc.Defaults = AdapterSettings{Timeout: g.AdapterTimeout, MaxRetries: g.MaxRetries, RetryDelay: g.RetryDelay}
	gc.Adapters = make(map[string]AdapterSettings, len(cfg.Adapters))
	for name, a := range cfg.Adapters {
		gc.Adapters[name] = AdapterSettings{Timeout: a.Timeout, MaxRetries: a.MaxRetries, RetryDelay: a.RetryDelay}
	}
	return gc
}

func (c GatewayConfig) settingsFor(name string) AdapterSettings {
	s, ok := c.Adapters[name]
	if !ok {
		s = c.Defaults
	}
	if s.Timeout <= 0 {
		s.Timeout = c.Defaults.Timeout
	}
	if s.MaxRetries <= 0 {
		s.MaxRetries = max(1, c.Defaults.MaxRetries)
	}
	if s.RetryDelay <= 0 {
		s.RetryDelay = c.Defaults.RetryDelay
	}
	return s
}

// HistorySink receives every live record after it has been served.
type HistorySink interface {
	Record(records ...models.NormalizedData)
}

// ItemResult is the outcome of one successful failover walk.
type ItemResult struct {
	Key       string
	Data      []models.NormalizedData
	Source    string
	FromCache bool
	Stale     bool
}

// Gateway walks adapters in priority order behind per adapter circuit
// breakers, normalizes and caches the first success and falls back to
// stale cache entries when every live source fails.
type Gateway struct {
	cfg      GatewayConfig
	breakers *breaker.Manager
	cache    drepo.CacheStore
	norm     *normalizer.Normalizer
	limiter  *ratelimit.Limiter
	history  drepo.HistoryStore
	sink     HistorySink
	metrics  drepo.Metrics
	log      *logger.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	mu       sync.RWMutex
	adapters map[string]drepo.Adapter
	order    []string

	startedAt      time.Time
	requestsTotal  atomic.Int64
	requestsFailed atomic.Int64
	failovers      atomic.Int64
	staleReturned  atomic.Int64
	latency        *latencyWindow
	closed         atomic.Bool
}

type GatewayOption func(*Gateway)

func WithLimiter(l *ratelimit.Limiter) GatewayOption {
	return func(g *Gateway) { g.limiter = l }
}

func WithHistory(h drepo.HistoryStore) GatewayOption {
	return func(g *Gateway) { g.history = h }
}

func WithHistorySink(s HistorySink) GatewayOption {
	return func(g *Gateway) { g.sink = s }
}

func WithGatewayMetrics(m drepo.Metrics) GatewayOption {
	return func(g *Gateway) { g.metrics = m }
}

func WithGatewayLogger(l *logger.Logger) GatewayOption {
	return func(g *Gateway) { g.log = l }
}

func WithGatewayClock(now func() time.Time) GatewayOption {
	return func(g *Gateway) { g.now = now }
}

func NewGateway(
	cfg GatewayConfig,
	adapters []drepo.Adapter,
	breakers *breaker.Manager,
	cache drepo.CacheStore,
	norm *normalizer.Normalizer,
	opts ...GatewayOption,
) *Gateway {
	d := DefaultGatewayConfig()
	if cfg.Name == "" {
		cfg.Name = d.Name
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = d.RequestTimeout
	}
	if cfg.ItemConcurrency <= 0 {
		cfg.ItemConcurrency = d.ItemConcurrency
	}
	if cfg.AnomalyWindow <= 0 {
		cfg.AnomalyWindow = d.AnomalyWindow
	}
	if cfg.Defaults.Timeout <= 0 {
		cfg.Defaults.Timeout = d.Defaults.Timeout
	}
	if cfg.Defaults.MaxRetries <= 0 {
		cfg.Defaults.MaxRetries = d.Defaults.MaxRetries
	}
	if cfg.Defaults.RetryDelay <= 0 {
		cfg.Defaults.RetryDelay = d.Defaults.RetryDelay
	}

	g := &Gateway{
		cfg:       cfg,
		breakers:  breakers,
		cache:     cache,
		norm:      norm,
		metrics:   pkgmetrics.Nop{},
		log:       logger.Nop(),
		now:       time.Now,
		sleep:     sleepCtx,
		adapters:  make(map[string]drepo.Adapter),
		startedAt: time.Now().UTC(),
		latency:   newLatencyWindow(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.log = g.log.With("gateway")

	byName := make(map[string]drepo.Adapter, len(adapters))
	for _, a := range adapters {
		byName[a.Name()] = a
	}
	// configured order first, then anything else in registration order
	for _, name := range cfg.PriorityOrder {
		if a, ok := byName[name]; ok {
			g.register(a)
		}
	}
	for _, a := range adapters {
		g.register(a)
	}
	return g
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (g *Gateway) register(a drepo.Adapter) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	name := a.Name()
	if _, ok := g.adapters[name]; ok {
		return false
	}
	g.adapters[name] = a
	g.order = append(g.order, name)
	g.breakers.Get(name)
	return true
}

// RegisterAdapter adds an adapter at the end of the priority order.
func (g *Gateway) RegisterAdapter(a drepo.Adapter) error {
	if !g.register(a) {
		return fmt.Errorf("adapter %s already registered", a.Name())
	}
	g.log.Info("adapter registered", logger.String("adapter", a.Name()))
	return nil
}

// Start brings up adapters that own background connections.
func (g *Gateway) Start(ctx context.Context) error {
	for _, a := range g.snapshotAdapters() {
		if s, ok := a.(interface{ Start(context.Context) error }); ok {
			if err := s.Start(ctx); err != nil {
				return fmt.Errorf("start adapter %s: %w", a.Name(), err)
			}
		}
	}
	return nil
}

func (g *Gateway) snapshotAdapters() []drepo.Adapter {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]drepo.Adapter, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.adapters[name])
	}
	return out
}

// Order returns the adapter names in the order they are tried.
func (g *Gateway) Order() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.order...)
}

// orderFor puts a preferred, registered source in front of the priority order.
func (g *Gateway) orderFor(preferred string) []drepo.Adapter {
	all := g.snapshotAdapters()
	if preferred == "" {
		return all
	}
	for i, a := range all {
		if a.Name() == preferred {
			out := make([]drepo.Adapter, 0, len(all))
			out = append(out, a)
			out = append(out, all[:i]...)
			return append(out, all[i+1:]...)
		}
	}
	return all
}

// FetchWithFailover resolves one item: cache first, then adapters strictly
// in order, then a stale cache entry.
func (g *Gateway) FetchWithFailover(ctx context.Context, dt models.DataType, params models.FetchParams) (*ItemResult, error) {
	key := svccache.BuildKey(dt, params)
	if e, ok := g.cache.Get(ctx, key); ok {
		return &ItemResult{Key: key, Data: e.Data, Source: e.Source, FromCache: true}, nil
	}

	var attempted, skipped []string
	for _, a := range g.orderFor(params.Source) {
		name := a.Name()
		done, err := g.breakers.Get(name).Allow()
		if err != nil {
			skipped = append(skipped, name)
			g.metrics.RecordAdapterCall(name, string(dt), outcomeSkipped, 0)
			g.log.Debug("adapter skipped",
				logger.String("adapter", name),
				logger.String("key", key),
				logger.Error(err))
			continue
		}
		attempted = append(attempted, name)

		start := time.Now()
		data, err := g.callAdapter(ctx, a, dt, params)
		if err == nil {
			var nerrs []error
			data, nerrs = g.norm.NormalizeMultiple(data)
			for _, nerr := range nerrs {
				g.log.Warn("record dropped", logger.String("adapter", name), logger.Error(nerr))
			}
			if len(data) == 0 {
				err = models.NewAdapterError(name, dt, fmt.Errorf("%w: every record failed normalization", models.ErrNoData))
			}
		}
		elapsed := time.Since(start).Seconds()

		if err != nil {
			done(false)
			outcome := outcomeFailure
			if errors.Is(err, models.ErrNoData) {
				outcome = outcomeEmpty
			}
			g.metrics.RecordAdapterCall(name, string(dt), outcome, elapsed)
			g.log.Warn("adapter failed",
				logger.String("adapter", name),
				logger.String("key", key),
				logger.Error(err))
			if ctx.Err() != nil {
				break
			}
			continue
		}

		done(true)
		g.metrics.RecordAdapterCall(name, string(dt), outcomeSuccess, elapsed)
		g.flagAnomalies(ctx, data)
		if err := g.cache.Set(ctx, key, data, 0); err != nil {
			g.log.Debug("cache write skipped", logger.String("key", key), logger.Error(err))
		}
		if g.sink != nil {
			g.sink.Record(data...)
		}
		return &ItemResult{Key: key, Data: data, Source: name}, nil
	}

	if g.cfg.UseCachedOnFailure {
		if res, ok := g.serveStale(ctx, dt, key); ok {
			return res, nil
		}
	}

	g.failovers.Add(1)
	g.metrics.RecordFailover(string(dt))
	ferr := &models.ExhaustedFailoverError{Key: key, Attempted: attempted, Skipped: skipped}
	g.log.Warn("failover exhausted", logger.String("key", key), logger.Error(ferr))
	return nil, ferr
}

func (g *Gateway) serveStale(ctx context.Context, dt models.DataType, key string) (*ItemResult, bool) {
	// the request deadline may already be gone, the stale lookup gets its own
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideLookupTimeout)
	defer cancel()
	e, ok := g.cache.GetStale(sctx, key)
	if !ok || len(e.Data) == 0 {
		return nil, false
	}
	age := e.Age(g.now())
	data := make([]models.NormalizedData, len(e.Data))
	for i, d := range e.Data {
		if g.cfg.MarkStaleWhenFallback {
			d.Stale = true
			d.Metadata = d.Metadata.Clone()
			d.Metadata[models.MetaStale] = true
			d.Metadata[models.MetaAge] = int64(age / time.Second)
		}
		data[i] = d
	}
	g.staleReturned.Add(1)
	g.metrics.RecordStaleServed(string(dt))
	g.log.Warn("serving stale data",
		logger.String("key", key),
		logger.String("source", e.Source),
		logger.Duration("age", age))
	return &ItemResult{Key: key, Data: data, Source: e.Source, FromCache: true, Stale: true}, true
}

// callAdapter runs one adapter with rate limiting, a per call timeout and
// exponential backoff between retriable failures. An empty result is a
// failure that is not retried.
func (g *Gateway) callAdapter(ctx context.Context, a drepo.Adapter, dt models.DataType, params models.FetchParams) ([]models.NormalizedData, error) {
	name := a.Name()
	s := g.cfg.settingsFor(name)

	var lastErr error
	for attempt := 0; attempt < s.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := s.RetryDelay * time.Duration(1<<(attempt-1))
			if ra := retryAfter(lastErr); ra > delay && ra <= maxRetryAfter {
				delay = ra
			}
			g.log.Debug("retrying adapter",
				logger.String("adapter", name),
				logger.Int("attempt", attempt+1),
				logger.Duration("delay", delay))
			if err := g.sleep(ctx, delay); err != nil {
				return nil, lastErr
			}
		}
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx, name); err != nil {
				return nil, models.NewAdapterError(name, dt, fmt.Errorf("rate limit wait: %w", err))
			}
		}

		data, err := fetchWithTimeout(ctx, a, dt, params, s.Timeout)
		if err == nil {
			if len(data) == 0 {
				return nil, models.NewAdapterError(name, dt, models.ErrNoData)
			}
			return data, nil
		}
		ae := models.NewAdapterError(name, dt, err)
		lastErr = ae
		if !ae.Retriable() || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// retryAfter returns the wait an upstream asked for on its last rejection.
func retryAfter(err error) time.Duration {
	var se *pkghttp.StatusError
	if errors.As(err, &se) {
		return se.RetryAfter
	}
	return 0
}

// fetchWithTimeout bounds the call even for adapters that ignore their context.
func fetchWithTimeout(ctx context.Context, a drepo.Adapter, dt models.DataType, params models.FetchParams, timeout time.Duration) ([]models.NormalizedData, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		data []models.NormalizedData
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("adapter panic: %v", r)}
			}
		}()
		data, err := a.Fetch(callCtx, dt, params)
		ch <- result{data, err}
	}()
	select {
	case r := <-ch:
		return r.data, r.err
	case <-callCtx.Done():
		return nil, fmt.Errorf("adapter call: %w", callCtx.Err())
	}
}

// flagAnomalies scores each numeric record against recent history.
func (g *Gateway) flagAnomalies(ctx context.Context, data []models.NormalizedData) {
	if g.history == nil {
		return
	}
	hctx, cancel := context.WithTimeout(ctx, sideLookupTimeout)
	defer cancel()

	seen := make(map[string][]float64)
	for i := range data {
		d := &data[i]
		v, ok := d.Float()
		if !ok || d.DataType == models.DataTypeTransaction {
			continue
		}
		hkey := string(d.DataType) + ":" + d.Asset.Symbol
		hist, ok := seen[hkey]
		if !ok {
			recent, err := g.history.Recent(hctx, d.DataType, d.Asset.Symbol, g.cfg.AnomalyWindow)
			if err != nil {
				g.log.Debug("history lookup failed", logger.String("key", hkey), logger.Error(err))
			}
			for _, r := range recent {
				if f, ok := r.Float(); ok {
					hist = append(hist, f)
				}
			}
			seen[hkey] = hist
		}
		an := g.norm.DetectAnomaly(v, hist, g.cfg.AnomalyThreshold)
		if an.IsAnomaly {
			d.Metadata[models.MetaAnomaly] = true
			d.Metadata[models.MetaAnomalyMsg] = an.Reason
			g.log.Warn("anomalous value",
				logger.String("source", d.Source),
				logger.String("symbol", d.Asset.Symbol),
				logger.Float64("value", v),
				logger.String("reason", an.Reason))
		}
	}
}

// FetchItems resolves independent items in parallel. Failed items are
// reported by label and never abort their siblings.
func (g *Gateway) FetchItems(ctx context.Context, items []models.Item) ([]models.NormalizedData, map[string]string) {
	results := make([]*ItemResult, len(items))
	errs := make([]error, len(items))

	var eg errgroup.Group
	eg.SetLimit(g.cfg.ItemConcurrency)
	for i, it := range items {
		i, it := i, it
		eg.Go(func() error {
			results[i], errs[i] = g.FetchWithFailover(ctx, it.DataType, it.Params)
			return nil
		})
	}
	_ = eg.Wait()

	var data []models.NormalizedData
	var failed map[string]string
	for i, r := range results {
		if errs[i] != nil {
			if failed == nil {
				failed = make(map[string]string)
			}
			failed[string(items[i].DataType)+":"+items[i].Params.Label()] = errs[i].Error()
			continue
		}
		data = append(data, r.Data...)
	}
	return data, failed
}

// HandleMessage answers one request message. Every failure mode becomes a
// response payload; it never returns an error.
func (g *Gateway) HandleMessage(ctx context.Context, msg models.GatewayMessage) models.GatewayMessage {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
	defer cancel()

	resp := g.handle(ctx, msg)
	ok := resp.Payload != nil && resp.Payload.Success
	g.observe(msg.Type, ok, time.Since(start))
	return resp
}

func (g *Gateway) handle(ctx context.Context, msg models.GatewayMessage) models.GatewayMessage {
	if g.closed.Load() {
		return models.NewUpdate(msg, g.cfg.Name, nil, models.ErrServiceClosed)
	}
	switch msg.Type {
	case models.MsgCacheInvalidate:
		req, ok := requestBody[models.InvalidateRequest](msg.Request)
		if !ok && msg.Request != nil {
			return models.NewAck(msg, g.cfg.Name, fmt.Errorf("%w: cache_invalidate body %T", models.ErrInvalidRequest, msg.Request))
		}
		n, err := g.InvalidateCache(ctx, req)
		resp := models.NewAck(msg, g.cfg.Name, err)
		resp.Metadata = map[string]string{"invalidated": fmt.Sprint(n)}
		return resp
	case models.MsgStatus:
		st := g.GetStatus(ctx)
		resp := models.NewAck(msg, g.cfg.Name, nil)
		resp.Payload.Status = &st
		return resp
	}
	if !msg.Type.IsRequest() {
		return models.NewUpdate(msg, g.cfg.Name, nil, fmt.Errorf("%w: %s", models.ErrUnknownMessageType, msg.Type))
	}
	ir, ok := msg.Request.(models.ItemRequest)
	if !ok {
		return models.NewUpdate(msg, g.cfg.Name, nil, fmt.Errorf("invalid %s body %T", msg.Type, msg.Request))
	}
	items := ir.Items()
	if len(items) == 0 {
		return models.NewUpdate(msg, g.cfg.Name, nil, fmt.Errorf("%s carries no items", msg.Type))
	}

	data, failed := g.FetchItems(ctx, items)
	var err error
	if len(data) == 0 && len(failed) > 0 {
		err = summarize(failed)
	}
	resp := models.NewUpdate(msg, g.cfg.Name, data, err)
	resp.Payload.Errors = failed
	return resp
}

func summarize(failed map[string]string) error {
	if len(failed) == 1 {
		for label, e := range failed {
			return fmt.Errorf("%s: %s", label, e)
		}
	}
	return fmt.Errorf("%w: all %d items failed", models.ErrNoData, len(failed))
}

// requestBody accepts both value and pointer request bodies.
func requestBody[T any](body any) (T, bool) {
	switch v := body.(type) {
	case T:
		return v, true
	case *T:
		if v != nil {
			return *v, true
		}
	}
	var zero T
	return zero, false
}

func (g *Gateway) observe(t models.MessageType, success bool, d time.Duration) {
	g.requestsTotal.Add(1)
	if !success {
		g.requestsFailed.Add(1)
	}
	g.latency.observe(d)
	g.metrics.RecordRequest(string(t), success, d.Seconds())
}

// InvalidateCache applies the first criterion present: pattern, data type,
// source, then symbol. With none it clears everything. Adapter caches are
// cleared as well, limited to the source adapter when one is named.
func (g *Gateway) InvalidateCache(ctx context.Context, req models.InvalidateRequest) (int, error) {
	var (
		n   int
		err error
	)
	switch {
	case req.Pattern != "":
		n, err = g.cache.Invalidate(ctx, req.Pattern)
	case req.DataType != "":
		dt, ok := models.ParseDataType(req.DataType)
		if !ok {
			return 0, fmt.Errorf("%w: %s", models.ErrUnsupportedDataType, req.DataType)
		}
		n, err = g.cache.InvalidateByType(ctx, dt)
	case req.Source != "":
		n, err = g.cache.InvalidateBySource(ctx, req.Source)
	case req.Symbol != "":
		n, err = g.cache.InvalidateByAsset(ctx, req.Symbol)
	default:
		err = g.cache.Clear(ctx)
	}

	for _, a := range g.snapshotAdapters() {
		if req.Source != "" && a.Name() != req.Source {
			continue
		}
		if ci, ok := a.(drepo.CacheInvalidator); ok {
			ci.InvalidateCache()
		}
	}
	g.log.Info("cache invalidated",
		logger.String("pattern", req.Pattern),
		logger.String("dataType", req.DataType),
		logger.String("source", req.Source),
		logger.String("symbol", req.Symbol),
		logger.Int("removed", n))
	return n, err
}

// GetStatus reports per adapter health, cache stats and aggregate metrics.
func (g *Gateway) GetStatus(ctx context.Context) models.GatewayStatus {
	now := g.now().UTC()
	names := g.Order()
	adapters := make([]models.AdapterStatus, 0, len(names))
	open := 0
	for _, name := range names {
		s := g.breakers.Get(name).Snapshot()
		as := models.AdapterStatus{
			Name:                name,
			Status:              adapterHealth(s.State),
			CircuitBreakerState: string(s.State),
			FailureCount:        s.FailureCount,
			SuccessCount:        s.SuccessCount,
			LastCheck:           now,
			LastFailure:         timePtr(s.LastFailureTime),
			LastSuccess:         timePtr(s.LastSuccessTime),
			NextCheckTime:       timePtr(s.NextAttempt),
		}
		if s.State == breaker.StateOpen {
			open++
		}
		adapters = append(adapters, as)
	}

	avg, maxMs, p95 := g.latency.snapshot()
	st := models.GatewayStatus{
		Name:          g.cfg.Name,
		Health:        models.HealthHealthy,
		StartedAt:     g.startedAt,
		UptimeSeconds: round2(now.Sub(g.startedAt).Seconds()),
		Adapters:      adapters,
		Cache:         g.cache.Stats(ctx),
		Metrics: models.GatewayMetrics{
			RequestsTotal:     g.requestsTotal.Load(),
			RequestsFailed:    g.requestsFailed.Load(),
			AvgLatencyMs:      avg,
			MaxLatencyMs:      maxMs,
			P95LatencyMs:      p95,
			FailoverCount:     g.failovers.Load(),
			StaleDataReturned: g.staleReturned.Load(),
		},
	}
	switch {
	case len(names) > 0 && open == len(names):
		st.Health = models.HealthUnhealthy
	case open > 0 || !g.cache.IsHealthy(ctx):
		st.Health = models.HealthDegraded
	}
	return st
}

func adapterHealth(s breaker.State) string {
	switch s {
	case breaker.StateOpen:
		return models.HealthUnhealthy
	case breaker.StateHalfOpen:
		return models.HealthDegraded
	}
	return models.HealthHealthy
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

// InterpolateAt estimates the value at time at from the n most recent
// history samples.
func (g *Gateway) InterpolateAt(ctx context.Context, dt models.DataType, symbol string, at time.Time, n int) (models.NormalizedData, error) {
	if g.history == nil {
		return models.NormalizedData{}, fmt.Errorf("history store: %w", models.ErrNotInitialized)
	}
	if n < 2 {
		n = g.cfg.AnomalyWindow
	}
	symbol = strings.ToUpper(symbol)
	records, err := g.history.Recent(ctx, dt, symbol, n)
	if err != nil {
		return models.NormalizedData{}, fmt.Errorf("history lookup: %w", err)
	}
	samples := make([]normalizer.Sample, 0, len(records))
	var conf float64
	for _, r := range records {
		if v, ok := r.Float(); ok {
			samples = append(samples, normalizer.Sample{Timestamp: r.Timestamp, Value: v})
			conf += r.Confidence()
		}
	}
	if len(samples) == 0 {
		return models.NormalizedData{}, fmt.Errorf("%w: no %s history for %s", models.ErrNoData, dt, symbol)
	}

	rec := models.NewNormalizedData("interpolated", dt, models.Asset{Symbol: symbol}, g.norm.Interpolate(samples, at), conf/float64(len(samples)))
	rec.Timestamp = at.UTC()
	rec.Metadata["samples"] = len(samples)
	rec.Metadata["interpolated"] = true
	return g.norm.Normalize(rec)
}

// Shutdown rejects further requests and releases adapters and the cache.
func (g *Gateway) Shutdown(ctx context.Context) error {
	if !g.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	for _, a := range g.snapshotAdapters() {
		if c, ok := a.(drepo.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close adapter %s: %w", a.Name(), err))
			}
		}
	}
	if c, ok := g.sink.(interface{ Close(context.Context) error }); ok {
		if err := c.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush history: %w", err))
		}
	}
	if err := g.cache.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close cache: %w", err))
	}
	g.log.Info("gateway shut down")
	return errors.Join(errs...)
}

// Breakers exposes the breaker manager for operator resets.
func (g *Gateway) Breakers() *breaker.Manager { return g.breakers }
