package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"FinGate/internal/domain/models"
	"FinGate/internal/domain/repository"
	"FinGate/internal/handler/api"
	internalrepo "FinGate/internal/repository"
	"FinGate/internal/service/adapters"
	"FinGate/internal/service/breaker"
	svccache "FinGate/internal/service/cache"
	apimetrics "FinGate/internal/service/metrics"
	"FinGate/internal/service/normalizer"
	"FinGate/internal/service/ratelimit"
	"FinGate/internal/usecase"
	"FinGate/pkg/bus"
	pkgcache "FinGate/pkg/cache"
	pkgch "FinGate/pkg/clickhouse"
	"FinGate/pkg/config"
	xhttp "FinGate/pkg/http"
	pkgkafka "FinGate/pkg/kafka"
	"FinGate/pkg/logger"
	"FinGate/pkg/metrics"
	"FinGate/pkg/server"
)

// ProvideRegisterer returns the process wide Prometheus registry.
func ProvideRegisterer() prometheus.Registerer {
	return prometheus.DefaultRegisterer
}

func ProvideGatherer() prometheus.Gatherer {
	return prometheus.DefaultGatherer
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config, reg prometheus.Registerer) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithAutoCreateTopics(cfg.Kafka.AutoCreate),
		pkgkafka.WithProducerRegisterer(reg),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideLogger builds the root logger. With a producer, repeated warn and
// error entries are aggregated and shipped to the logs topic.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if producer != nil {
		l.AddCollector(&logger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          cfg.Kafka.LogsTopic,
			Service:        cfg.ServiceName,
			Publisher:      producer,
		})
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg prometheus.Registerer) repository.Metrics {
	apimetrics.Register(reg)
	return metrics.New(reg)
}

// ProvideCacheBackend selects the key-value backend named by cache.backend.
func ProvideCacheBackend(cfg *config.Config) (pkgcache.Service, error) {
	switch cfg.Cache.Backend {
	case "redis", "layered":
		rc, err := pkgcache.NewRedisCache(
			pkgcache.WithRedisAddr(cfg.Redis.Addr),
			pkgcache.WithRedisPassword(cfg.Redis.Password),
			pkgcache.WithRedisDB(cfg.Redis.DB),
			pkgcache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.PoolSize/2, 30*time.Second),
			pkgcache.WithRedisPrefix(cfg.Cache.KeyPrefix),
			pkgcache.WithRedisDialTimeout(cfg.Redis.DialTimeout),
		)
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		if cfg.Cache.Backend == "layered" {
			return pkgcache.NewLayeredCache(rc,
				pkgcache.WithLayeredMemorySize(cfg.Cache.MaxItems),
				pkgcache.WithLayeredMemoryTTL(cfg.Cache.L1TTL),
			), nil
		}
		return rc, nil
	default:
		return pkgcache.NewMemoryCache(pkgcache.WithMemoryMaxSize(cfg.Cache.MaxItems)), nil
	}
}

func ProvideCacheStore(cfg *config.Config, backend pkgcache.Service, m repository.Metrics, l *logger.Logger) *svccache.Store {
	return svccache.NewStore(backend, l,
		svccache.WithTTLPolicy(svccache.DefaultTTLPolicy().Merge(cfg.CacheTTLs())),
		svccache.WithStaleRetention(cfg.Cache.StaleRetention),
		svccache.WithMetrics(m),
	)
}

// ProvideBreakers creates the breaker manager with per-adapter overrides.
// Transitions are logged and exported as a gauge.
func ProvideBreakers(cfg *config.Config, m repository.Metrics, l *logger.Logger) *breaker.Manager {
	bl := l.With("breaker")
	opts := []breaker.Option{
		breaker.WithListener(func(name string, from, to breaker.State) {
			m.RecordBreakerState(name, to.Gauge())
			if to == breaker.StateOpen {
				bl.Warn("circuit opened", logger.String("adapter", name), logger.String("from", string(from)))
				return
			}
			bl.Info("circuit state changed",
				logger.String("adapter", name),
				logger.String("from", string(from)),
				logger.String("to", string(to)))
		}),
	}
	for name, a := range cfg.Adapters {
		if a.Breaker != nil {
			opts = append(opts, breaker.WithOverride(name, breakerConfig(*a.Breaker)))
		}
	}
	return breaker.NewManager(breakerConfig(cfg.CircuitBreaker), opts...)
}

func breakerConfig(c config.BreakerConfig) breaker.Config {
	return breaker.Config{
		FailureThreshold: c.FailureThreshold,
		SuccessThreshold: c.SuccessThreshold,
		Timeout:          c.Timeout,
	}
}

func ProvideLimiter(cfg *config.Config) *ratelimit.Limiter {
	limits := make(map[string]ratelimit.Limit)
	for name, a := range cfg.Adapters {
		if a.RateLimitRPS > 0 {
			limits[name] = ratelimit.Limit{RPS: a.RateLimitRPS, Burst: a.Burst}
		}
	}
	return ratelimit.New(limits)
}

func ProvideNormalizer() *normalizer.Normalizer {
	return normalizer.New(normalizer.DefaultConfig())
}

func ProvideAdapters(cfg *config.Config, l *logger.Logger) ([]repository.Adapter, error) {
	return adapters.Build(cfg, l)
}

// ProvideClickHouseClient connects to ClickHouse, or returns nil when the
// history sink is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := pkgch.NewClient(ctx,
		pkgch.WithAddr(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithPool(cfg.ClickHouse.MaxOpenConns, cfg.ClickHouse.MaxOpenConns/2, cfg.ClickHouse.ConnMaxLifetime),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideHistoryStore uses ClickHouse when connected and an in-memory ring
// otherwise.
func ProvideHistoryStore(client *pkgch.Client, cfg *config.Config, l *logger.Logger) (repository.HistoryStore, error) {
	var store repository.HistoryStore
	if client != nil {
		store = internalrepo.NewCHHistoryStore(client, cfg.ClickHouse.Database+".gateway_history", 0, l)
	} else {
		store = internalrepo.NewMemoryHistoryStore(cfg.Gateway.AnomalyWindow * 4)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("history schema: %w", err)
	}
	return store, nil
}

func ProvideHistoryRecorder(store repository.HistoryStore, cfg *config.Config, l *logger.Logger) *usecase.HistoryRecorder {
	return usecase.NewHistoryRecorder(store, l,
		usecase.WithBatch(cfg.ClickHouse.BatchSize, cfg.ClickHouse.BatchTimeout),
	)
}

// ProvideGatewayConfig maps the gateway and adapter sections onto the
// orchestrator configuration.
func ProvideGatewayConfig(cfg *config.Config) usecase.GatewayConfig {
	g := cfg.Gateway
	out := usecase.GatewayConfig{
		Name:                  cfg.ServiceName,
		PriorityOrder:         cfg.EnabledAdapters(),
		RequestTimeout:        g.RequestTimeout,
		ItemConcurrency:       g.ItemConcurrency,
		UseCachedOnFailure:    g.UseCachedOnFailure,
		MarkStaleWhenFallback: g.MarkStaleWhenFallback,
		AnomalyThreshold:      g.AnomalyThreshold,
		AnomalyWindow:         g.AnomalyWindow,
		Defaults: usecase.AdapterSettings{
			Timeout:    g.AdapterTimeout,
			MaxRetries: g.MaxRetries,
			RetryDelay: g.RetryDelay,
		},
		Adapters: make(map[string]usecase.AdapterSettings, len(cfg.Adapters)),
	}
	for name, a := range cfg.Adapters {
		out.Adapters[name] = usecase.AdapterSettings{
			Timeout:    a.Timeout,
			MaxRetries: a.MaxRetries,
			RetryDelay: a.RetryDelay,
		}
	}
	return out
}

func ProvideGateway(
	gcfg usecase.GatewayConfig,
	list []repository.Adapter,
	breakers *breaker.Manager,
	store *svccache.Store,
	norm *normalizer.Normalizer,
	limiter *ratelimit.Limiter,
	history repository.HistoryStore,
	recorder *usecase.HistoryRecorder,
	m repository.Metrics,
	l *logger.Logger,
) *usecase.Gateway {
	return usecase.NewGateway(gcfg, list, breakers, store, norm,
		usecase.WithLimiter(limiter),
		usecase.WithHistory(history),
		usecase.WithHistorySink(recorder),
		usecase.WithGatewayMetrics(m),
		usecase.WithGatewayLogger(l),
	)
}

func ProvideBus(cfg *config.Config, reg prometheus.Registerer, l *logger.Logger) *bus.Bus[models.GatewayMessage] {
	return bus.New[models.GatewayMessage](bus.Config{Name: cfg.ServiceName}, l, bus.WithRegisterer(reg))
}

func ProvideService(
	cfg *config.Config,
	gw *usecase.Gateway,
	b *bus.Bus[models.GatewayMessage],
	m repository.Metrics,
	l *logger.Logger,
) *usecase.Service {
	return usecase.NewService(usecase.ServiceConfig{
		Name:          cfg.ServiceName,
		MaxConcurrent: cfg.Gateway.MaxConcurrentRequests,
		QueueSize:     cfg.Gateway.QueueSize,
		KafkaEnabled:  cfg.Kafka.Enabled,
	}, gw, b, l, usecase.WithServiceMetrics(m))
}

// ProvideKafkaBridge mirrors updates to Kafka and feeds consumed requests to
// the service. Nil when Kafka is disabled.
func ProvideKafkaBridge(cfg *config.Config, svc *usecase.Service, producer *pkgkafka.Producer, l *logger.Logger) *usecase.KafkaBridge {
	if producer == nil {
		return nil
	}
	pub := internalrepo.NewKafkaPublisher(producer, cfg.Kafka.UpdatesTopic)
	return usecase.NewKafkaBridge(svc, pub, cfg.Kafka.RequestsTopic, l)
}

// ProvideKafkaConsumer creates the requests consumer with the bridge and
// trace hook registered, or nil when Kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, bridge *usecase.KafkaBridge, reg prometheus.Registerer, l *logger.Logger) (*pkgkafka.Consumer, error) {
	if bridge == nil {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
		pkgkafka.WithConsumerRegisterer(reg),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.TraceHook())
	consumer.RegisterHandler(bridge)
	return consumer, nil
}

func ProvideHTTPHandler(svc *usecase.Service, l *logger.Logger) xhttp.Handler {
	return api.NewGatewayEchoHandler(l, svc)
}

func ProvideHTTPServer(
	cfg *config.Config,
	h xhttp.Handler,
	reg prometheus.Registerer,
	gatherer prometheus.Gatherer,
	l *logger.Logger,
) *xhttp.Server {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	opts := []xhttp.ServerOption{
		xhttp.WithAddr(cfg.Server.Host, cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithLogger(l),
		xhttp.WithMetrics(reg, gatherer, metricsPath),
	}
	if cfg.Server.SlowThreshold > 0 {
		opts = append(opts, xhttp.WithSlowThreshold(cfg.Server.SlowThreshold))
	}
	if cfg.Server.BodyLimit != "" {
		opts = append(opts, xhttp.WithBodyLimit(cfg.Server.BodyLimit))
	}
	if cfg.Server.CORSOrigins != nil {
		opts = append(opts, xhttp.WithCORSOrigins(cfg.Server.CORSOrigins))
	}
	return xhttp.NewServer(h, opts...)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *logger.Logger,
	svc *usecase.Service,
	recorder *usecase.HistoryRecorder,
	history repository.HistoryStore,
	httpServer *xhttp.Server,
	bridge *usecase.KafkaBridge,
	consumer *pkgkafka.Consumer,
) *server.App {
	return server.New(cfg, l, svc,
		server.WithHistory(recorder, history),
		server.WithHTTPServer(httpServer),
		server.WithKafka(bridge, consumer),
	)
}
