package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"FinGate/internal/domain/models"
	"FinGate/pkg/util"
)

// Adapter kinds understood by the adapter registry.
const (
	KindCoinGecko = "coingecko"
	KindDefiLlama = "defillama"
	KindSubgraph  = "subgraph"
	KindRPC       = "rpc"
	KindStream    = "stream"
)

type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

type AdapterConfig struct {
	Kind           string            `yaml:"kind"`
	Protocol       string            `yaml:"protocol"`
	Enabled        bool              `yaml:"enabled"`
	BaseURL        string            `yaml:"base_url"`
	SecondaryURL   string            `yaml:"secondary_url"`
	APIKey         string            `yaml:"api_key"`
	RPCURLs        map[string]string `yaml:"rpc_urls"`
	WSURL          string            `yaml:"ws_url"`
	Symbols        []string          `yaml:"symbols"`
	SymbolIDs      map[string]string `yaml:"symbol_ids"`
	Confidence     float64           `yaml:"confidence"`
	Timeout        time.Duration     `yaml:"timeout"`
	MaxRetries     int               `yaml:"max_retries"`
	RetryDelay     time.Duration     `yaml:"retry_delay"`
	CacheTTL       time.Duration     `yaml:"cache_ttl"`
	RateLimitRPS   float64           `yaml:"rate_limit_rps"`
	Burst          int               `yaml:"burst"`
	ReconnectDelay time.Duration     `yaml:"reconnect_delay"`
	PingInterval   time.Duration     `yaml:"ping_interval"`
	MaxAge         time.Duration     `yaml:"max_age"`
	Breaker        *BreakerConfig    `yaml:"circuit_breaker"`
}

type Config struct {
	Environment string `yaml:"environment"`
	ServiceName string `yaml:"service_name"`
	Server      struct {
		Host            string        `yaml:"host"`
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		SlowThreshold   time.Duration `yaml:"slow_threshold"`
		BodyLimit       string        `yaml:"body_limit"`
		CORSOrigins     []string      `yaml:"cors_origins"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Log struct {
		Level      string `yaml:"level"`
		Format     string `yaml:"format"`
		Output     string `yaml:"output"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"log"`
	Gateway struct {
		PriorityOrder         []string      `yaml:"priority_order"`
		MaxConcurrentRequests int           `yaml:"max_concurrent_requests"`
		QueueSize             int           `yaml:"queue_size"`
		RequestTimeout        time.Duration `yaml:"request_timeout"`
		AdapterTimeout        time.Duration `yaml:"adapter_timeout"`
		MaxRetries            int           `yaml:"max_retries"`
		RetryDelay            time.Duration `yaml:"retry_delay"`
		ItemConcurrency       int           `yaml:"item_concurrency"`
		UseCachedOnFailure    bool          `yaml:"use_cached_on_failure"`
		MarkStaleWhenFallback bool          `yaml:"mark_stale_when_fallback"`
		AnomalyThreshold      float64       `yaml:"anomaly_threshold"`
		AnomalyWindow         int           `yaml:"anomaly_window"`
	} `yaml:"gateway"`
	CircuitBreaker BreakerConfig `yaml:"circuit_breaker"`
	Cache          struct {
		Backend        string                   `yaml:"backend"`
		MaxItems       int                      `yaml:"max_items"`
		KeyPrefix      string                   `yaml:"key_prefix"`
		StaleRetention time.Duration            `yaml:"stale_retention"`
		L1TTL          time.Duration            `yaml:"l1_ttl"`
		TTL            map[string]time.Duration `yaml:"ttl"`
	} `yaml:"cache"`
	Redis struct {
		Addr        string        `yaml:"addr"`
		Password    string        `yaml:"password"`
		DB          int           `yaml:"db"`
		PoolSize    int           `yaml:"pool_size"`
		DialTimeout time.Duration `yaml:"dial_timeout"`
	} `yaml:"redis"`
	Kafka struct {
		Enabled       bool     `yaml:"enabled"`
		Brokers       []string `yaml:"brokers"`
		UpdatesTopic  string   `yaml:"updates_topic"`
		RequestsTopic string   `yaml:"requests_topic"`
		LogsTopic     string   `yaml:"logs_topic"`
		RequiredAcks  int      `yaml:"required_acks"`
		Compression   string   `yaml:"compression"`
		AutoCreate    bool     `yaml:"auto_create_topics"`
		Producer      struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id"`
			Workers    int           `yaml:"workers"`
			BufferSize int           `yaml:"buffer_size"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes"`
			MaxBytes   int           `yaml:"max_bytes"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		MaxOpenConns     int           `yaml:"max_open_conns"`
		ConnMaxLifetime  time.Duration `yaml:"conn_max_lifetime"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
		BatchSize        int           `yaml:"batch_size"`
		BatchTimeout     time.Duration `yaml:"batch_timeout"`
	} `yaml:"clickhouse"`
	Adapters map[string]AdapterConfig `yaml:"adapters"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	c, err := parse(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Parse decodes YAML and applies defaults without validating.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.applyDefaults()
	return &c, nil
}

func parse(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// LoadWithEnv loads config from YAML, overrides with environment variables,
// then validates the result.
func LoadWithEnv(path string) (*Config, error) {
	c, err := parse(path)
	if err != nil {
		return nil, err
	}
	if err := c.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// ApplyEnv overrides fields from lookup (os.LookupEnv in production).
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		if !ok || strings.TrimSpace(v) == "" {
			return "", false
		}
		return strings.TrimSpace(v), true
	}
	atoi := func(k string, dst *int) error {
		if v, ok := get(k); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return models.NewConfigError(k, "not an integer: %q", v)
			}
			*dst = n
		}
		return nil
	}
	boolean := func(k string, dst *bool) error {
		if v, ok := get(k); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return models.NewConfigError(k, "not a boolean: %q", v)
			}
			*dst = b
		}
		return nil
	}

	for dt := range knownTTLKeys {
		k := "CACHE_TTL_" + strings.ToUpper(dt)
		var secs int
		if err := atoi(k, &secs); err != nil {
			return err
		}
		if secs > 0 {
			if c.Cache.TTL == nil {
				c.Cache.TTL = make(map[string]time.Duration)
			}
			c.Cache.TTL[dt] = time.Duration(secs) * time.Second
		}
	}

	if err := atoi("CB_FAILURE_THRESHOLD", &c.CircuitBreaker.FailureThreshold); err != nil {
		return err
	}
	if err := atoi("CB_SUCCESS_THRESHOLD", &c.CircuitBreaker.SuccessThreshold); err != nil {
		return err
	}
	var timeoutMs int
	if err := atoi("CB_TIMEOUT_MS", &timeoutMs); err != nil {
		return err
	}
	if timeoutMs > 0 {
		c.CircuitBreaker.Timeout = time.Duration(timeoutMs) * time.Millisecond
	}
	if err := atoi("MAX_CONCURRENT_REQUESTS", &c.Gateway.MaxConcurrentRequests); err != nil {
		return err
	}
	if err := boolean("USE_CACHED_ON_FAILURE", &c.Gateway.UseCachedOnFailure); err != nil {
		return err
	}
	if err := boolean("MARK_STALE_WHEN_FALLBACK", &c.Gateway.MarkStaleWhenFallback); err != nil {
		return err
	}
	if v, ok := get("ADAPTER_PRIORITY_ORDER"); ok {
		c.Gateway.PriorityOrder = util.SplitCSV(v)
	}
	if v, ok := get("ENABLED_ADAPTERS"); ok {
		enabled := make(map[string]bool)
		for _, n := range util.SplitCSV(v) {
			enabled[n] = true
		}
		for name, a := range c.Adapters {
			a.Enabled = enabled[name]
			c.Adapters[name] = a
		}
	}
	if v, ok := get("REDIS_ADDR"); ok {
		c.Redis.Addr = v
	}
	if v, ok := get("KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = util.SplitCSV(v)
	}
	for name, a := range c.Adapters {
		prefix := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		if v, ok := get(prefix + "_API_KEY"); ok {
			a.APIKey = v
		}
		if v, ok := get(prefix + "_RPC_URL"); ok {
			if a.RPCURLs == nil {
				a.RPCURLs = make(map[string]string)
			}
			a.RPCURLs["celo"] = v
		}
		c.Adapters[name] = a
	}
	return nil
}

var knownTTLKeys = map[string]struct{}{
	"price": {}, "liquidity": {}, "apy": {}, "risk": {}, "tvl": {}, "balance": {}, "transaction": {},
}

func (c *Config) applyDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.ServiceName == "" {
		c.ServiceName = "fingate"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	g := &c.Gateway
	if g.MaxConcurrentRequests == 0 {
		g.MaxConcurrentRequests = 32
	}
	if g.QueueSize == 0 {
		g.QueueSize = 1024
	}
	if g.RequestTimeout == 0 {
		g.RequestTimeout = 10 * time.Second
	}
	if g.AdapterTimeout == 0 {
		g.AdapterTimeout = 5 * time.Second
	}
	if g.MaxRetries == 0 {
		g.MaxRetries = 3
	}
	if g.RetryDelay == 0 {
		g.RetryDelay = time.Second
	}
	if g.ItemConcurrency == 0 {
		g.ItemConcurrency = 4
	}
	if g.AnomalyThreshold == 0 {
		g.AnomalyThreshold = 2
	}
	if g.AnomalyWindow == 0 {
		g.AnomalyWindow = 50
	}

	if c.CircuitBreaker.FailureThreshold == 0 {
		c.CircuitBreaker.FailureThreshold = 5
	}
	if c.CircuitBreaker.SuccessThreshold == 0 {
		c.CircuitBreaker.SuccessThreshold = 2
	}
	if c.CircuitBreaker.Timeout == 0 {
		c.CircuitBreaker.Timeout = 30 * time.Second
	}

	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.Cache.MaxItems == 0 {
		c.Cache.MaxItems = 10000
	}
	if c.Cache.KeyPrefix == "" {
		c.Cache.KeyPrefix = "gateway"
	}
	if c.Cache.StaleRetention == 0 {
		c.Cache.StaleRetention = 24 * time.Hour
	}
	if c.Cache.L1TTL == 0 {
		c.Cache.L1TTL = 30 * time.Second
	}

	if c.Kafka.UpdatesTopic == "" {
		c.Kafka.UpdatesTopic = "gateway.updates"
	}
	if c.Kafka.RequestsTopic == "" {
		c.Kafka.RequestsTopic = "gateway.requests"
	}
	if c.Kafka.LogsTopic == "" {
		c.Kafka.LogsTopic = "gateway.logs"
	}
	if c.Kafka.Consumer.GroupID == "" {
		c.Kafka.Consumer.GroupID = "fingate"
	}
	if c.ClickHouse.BatchSize == 0 {
		c.ClickHouse.BatchSize = 500
	}
	if c.ClickHouse.BatchTimeout == 0 {
		c.ClickHouse.BatchTimeout = 2 * time.Second
	}

	for name, a := range c.Adapters {
		if a.Kind == "" {
			a.Kind = name
		}
		if a.Timeout == 0 {
			a.Timeout = g.AdapterTimeout
		}
		if a.MaxRetries == 0 {
			a.MaxRetries = g.MaxRetries
		}
		if a.RetryDelay == 0 {
			a.RetryDelay = g.RetryDelay
		}
		c.Adapters[name] = a
	}
}

// CacheTTLs converts the ttl section into typed durations.
func (c *Config) CacheTTLs() map[models.DataType]time.Duration {
	out := make(map[models.DataType]time.Duration, len(c.Cache.TTL))
	for k, v := range c.Cache.TTL {
		if dt, ok := models.ParseDataType(k); ok {
			out[dt] = v
		}
	}
	return out
}

// EnabledAdapters returns the enabled adapter names in priority order.
// Enabled adapters missing from the priority list follow in name order.
func (c *Config) EnabledAdapters() []string {
	seen := make(map[string]bool)
	var out []string
	for _, n := range c.Gateway.PriorityOrder {
		if a, ok := c.Adapters[n]; ok && a.Enabled && !seen[n] {
			out = append(out, n)
			seen[n] = true
		}
	}
	var rest []string
	for n, a := range c.Adapters {
		if a.Enabled && !seen[n] {
			rest = append(rest, n)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// Validate checks if the configuration is valid. Every failure is a
// *models.ConfigurationError.
func (c *Config) Validate() error {
	if len(c.Gateway.PriorityOrder) == 0 {
		return models.NewConfigError("gateway.priority_order", "must list at least one adapter")
	}
	for _, n := range c.Gateway.PriorityOrder {
		if _, ok := c.Adapters[n]; !ok {
			return models.NewConfigError("gateway.priority_order", "unknown adapter %q", n)
		}
	}
	if len(c.EnabledAdapters()) == 0 {
		return models.NewConfigError("adapters", "no adapter is enabled")
	}
	if c.CircuitBreaker.FailureThreshold < 1 || c.CircuitBreaker.SuccessThreshold < 1 {
		return models.NewConfigError("circuit_breaker", "thresholds must be >= 1")
	}
	if c.Gateway.MaxConcurrentRequests < 1 {
		return models.NewConfigError("gateway.max_concurrent_requests", "must be >= 1")
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis", "layered":
		if c.Redis.Addr == "" {
			return models.NewConfigError("redis.addr", "required for cache backend %q", c.Cache.Backend)
		}
	default:
		return models.NewConfigError("cache.backend", "must be memory, redis or layered, got %q", c.Cache.Backend)
	}
	for k := range c.Cache.TTL {
		if _, ok := models.ParseDataType(k); !ok {
			return models.NewConfigError("cache.ttl", "unknown data type %q", k)
		}
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return models.NewConfigError("kafka.brokers", "required when kafka is enabled")
	}
	for name, a := range c.Adapters {
		switch a.Kind {
		case KindCoinGecko, KindDefiLlama, KindSubgraph, KindRPC, KindStream:
		default:
			return models.NewConfigError("adapters."+name+".kind", "unknown kind %q", a.Kind)
		}
	}
	return nil
}
