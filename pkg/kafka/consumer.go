package kafka

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"

	"FinGate/pkg/logger"
)

// MessageHandler handles the records of one topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

type ConsumerOption func(*ConsumerConfig)

type ConsumerConfig struct {
	Brokers     []string
	GroupID     string
	StartLatest bool // without a committed offset, skip the backlog
	WorkerCount int
	BufferSize  int // per worker
	RetryMax    int
	BackoffMin  time.Duration
	BackoffMax  time.Duration
	DLQTopic    string
	MinBytes    int
	MaxBytes    int
	Logger      *logger.Logger
	Registerer  prometheus.Registerer
}

func WithConsumerBrokers(brokers []string) ConsumerOption {
	return func(c *ConsumerConfig) { c.Brokers = brokers }
}

func WithConsumerGroupID(groupID string) ConsumerOption {
	return func(c *ConsumerConfig) {
		if groupID != "" {
			c.GroupID = groupID
		}
	}
}

func WithConsumerStartLatest(latest bool) ConsumerOption {
	return func(c *ConsumerConfig) { c.StartLatest = latest }
}

func WithConsumerWorkers(n int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if n > 0 {
			c.WorkerCount = n
		}
	}
}

func WithConsumerBufferSize(n int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if n > 0 {
			c.BufferSize = n
		}
	}
}

// WithConsumerRetry sets how often a failing record is retried and the
// backoff range between attempts.
func WithConsumerRetry(max int, backoffMin, backoffMax time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		if max >= 0 {
			c.RetryMax = max
		}
		if backoffMin > 0 {
			c.BackoffMin = backoffMin
		}
		if backoffMax > 0 {
			c.BackoffMax = backoffMax
		}
	}
}

// WithConsumerDLQ names the topic that receives records still failing after
// all retries. Without one, such records are left uncommitted.
func WithConsumerDLQ(topic string) ConsumerOption {
	return func(c *ConsumerConfig) { c.DLQTopic = topic }
}

func WithConsumerFetch(minBytes, maxBytes int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if minBytes > 0 {
			c.MinBytes = minBytes
		}
		if maxBytes > 0 {
			c.MaxBytes = maxBytes
		}
	}
}

func WithConsumerLogger(l *logger.Logger) ConsumerOption {
	return func(c *ConsumerConfig) { c.Logger = l }
}

func WithConsumerRegisterer(reg prometheus.Registerer) ConsumerOption {
	return func(c *ConsumerConfig) { c.Registerer = reg }
}

// Consumer reads topics with a consumer group and hands records to a fixed
// pool of workers. Every (topic, partition) maps to one worker, so records
// of a partition are handled in order.
type Consumer struct {
	cfg      *ConsumerConfig
	log      *logger.Logger
	handlers map[string]MessageHandler
	hook     ConsumerHook
	readers  map[string]*kafka.Reader
	dlq      *kafka.Writer
	queues   []chan kafka.Message

	ctx       context.Context
	cancel    context.CancelFunc
	readersWG sync.WaitGroup
	workersWG sync.WaitGroup
	stopOnce  sync.Once
}

func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := &ConsumerConfig{
		GroupID:     "fingate",
		WorkerCount: 1,
		BufferSize:  64,
		RetryMax:    3,
		BackoffMin:  50 * time.Millisecond,
		BackoffMax:  2 * time.Second,
		MinBytes:    1,
		MaxBytes:    10 << 20,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka consumer: no brokers configured")
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Consumer{
		cfg:      cfg,
		log:      cfg.Logger.With("kafka.consumer"),
		handlers: make(map[string]MessageHandler),
		hook:     noopHook{},
		readers:  make(map[string]*kafka.Reader),
		ctx:      ctx,
		cancel:   cancel,
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		}
	}
	initConsumerMetrics(cfg.Registerer)
	return c, nil
}

// RegisterHandler must be called before Start. A second handler for the
// same topic is ignored.
func (c *Consumer) RegisterHandler(h MessageHandler) {
	topic := h.Topic()
	if _, ok := c.handlers[topic]; ok {
		c.log.Warn("handler already registered", logger.String("topic", topic))
		return
	}
	c.handlers[topic] = h
}

// WithConsumerHook installs h around every handler attempt.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// Start launches the readers and workers and returns immediately.
func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return errors.New("kafka consumer: no handlers registered")
	}
	start := kafka.FirstOffset
	if c.cfg.StartLatest {
		start = kafka.LastOffset
	}

	c.queues = make([]chan kafka.Message, c.cfg.WorkerCount)
	for i := range c.queues {
		c.queues[i] = make(chan kafka.Message, c.cfg.BufferSize)
		c.workersWG.Add(1)
		go c.work(c.queues[i])
	}

	for topic := range c.handlers {
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:     c.cfg.Brokers,
			Topic:       topic,
			GroupID:     c.cfg.GroupID,
			MinBytes:    c.cfg.MinBytes,
			MaxBytes:    c.cfg.MaxBytes,
			StartOffset: start,
		})
		c.readers[topic] = r
		c.readersWG.Add(1)
		go c.read(topic, r)
	}
	go func() {
		c.readersWG.Wait()
		for _, q := range c.queues {
			close(q)
		}
	}()

	c.log.Info("consumer started",
		logger.String("group", c.cfg.GroupID),
		logger.Int("topics", len(c.readers)),
		logger.Int("workers", c.cfg.WorkerCount))
	return nil
}

// Stop stops fetching, lets workers finish what is queued and closes the
// readers. It returns ctx's error if the workers do not finish in time.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		c.cancel()

		done := make(chan struct{})
		go func() {
			c.workersWG.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("kafka consumer stop: %w", ctx.Err())
		}

		for topic, r := range c.readers {
			if cerr := r.Close(); cerr != nil {
				c.log.Warn("close reader failed", logger.String("topic", topic), logger.Error(cerr))
			}
		}
		if c.dlq != nil {
			if cerr := c.dlq.Close(); cerr != nil {
				c.log.Warn("close dlq writer failed", logger.Error(cerr))
			}
		}
		if err == nil {
			c.log.Info("consumer stopped")
		}
	})
	return err
}

func (c *Consumer) read(topic string, r *kafka.Reader) {
	defer c.readersWG.Done()
	for {
		km, err := r.FetchMessage(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.log.Warn("fetch failed", logger.String("topic", topic), logger.Error(err))
			if !sleepCtx(c.ctx, c.cfg.BackoffMin) {
				return
			}
			continue
		}
		q := c.queues[workerFor(km.Topic, km.Partition, len(c.queues))]
		// a full queue slows the reader down instead of dropping
		select {
		case q <- km:
			consumerQueueDepth.WithLabelValues(topic).Set(float64(len(q)))
		case <-c.ctx.Done():
			return
		}
	}
}

func workerFor(topic string, partition, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(topic))
	return int((h.Sum32() + uint32(partition)) % uint32(n))
}

func (c *Consumer) work(q <-chan kafka.Message) {
	defer c.workersWG.Done()
	for km := range q {
		if h, ok := c.handlers[km.Topic]; ok {
			c.process(h, km)
		}
	}
}

func (c *Consumer) process(h MessageHandler, km kafka.Message) {
	start := time.Now()
	attempts, err := c.attempt(h, km)

	outcome := "ok"
	commit := err == nil
	if err != nil {
		outcome = "failed"
		c.log.Error("message handling failed",
			logger.String("topic", km.Topic),
			logger.Int("partition", km.Partition),
			logger.Int64("offset", km.Offset),
			logger.Int("attempts", attempts),
			logger.Error(err))
		if c.dlq != nil && c.ctx.Err() == nil {
			if derr := c.deadLetter(km, attempts, err); derr != nil {
				c.log.Error("dlq write failed", logger.String("topic", c.cfg.DLQTopic), logger.Error(derr))
			} else {
				outcome = "dead_lettered"
				// committing past a dead lettered record avoids a poison loop
				commit = true
			}
		}
	}
	if commit {
		c.commit(km)
	}
	consumerMessages.WithLabelValues(km.Topic, outcome).Inc()
	consumerLatency.WithLabelValues(km.Topic).Observe(time.Since(start).Seconds())
}

// attempt runs the handler up to RetryMax+1 times. A panic counts as a
// failed attempt.
func (c *Consumer) attempt(h MessageHandler, km kafka.Message) (int, error) {
	var err error
	n := 0
	for n <= c.cfg.RetryMax {
		n++
		err = c.handleOnce(h, km)
		if err == nil {
			return n, nil
		}
		if n > c.cfg.RetryMax {
			break
		}
		// once stopping, leave the record uncommitted for the next owner
		if !sleepCtx(c.ctx, backoff(c.cfg.BackoffMin, c.cfg.BackoffMax, n)) {
			return n, err
		}
	}
	return n, err
}

func (c *Consumer) handleOnce(h MessageHandler, km kafka.Message) (err error) {
	ctx, err := c.hook.Before(context.Background(), km)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
		c.hook.After(ctx, km, err)
	}()
	return h.Handle(ctx, km.Value)
}

func (c *Consumer) deadLetter(km kafka.Message, attempts int, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	headers := append([]kafka.Header(nil), km.Headers...)
	headers = append(headers,
		kafka.Header{Key: HeaderSourceTopic, Value: []byte(km.Topic)},
		kafka.Header{Key: HeaderError, Value: []byte(cause.Error())},
		kafka.Header{Key: HeaderAttempts, Value: []byte(strconv.Itoa(attempts))},
	)
	return c.dlq.WriteMessages(ctx, kafka.Message{
		Topic:   c.cfg.DLQTopic,
		Key:     km.Key,
		Value:   km.Value,
		Headers: headers,
		Time:    time.Now(),
	})
}

func (c *Consumer) commit(km kafka.Message) {
	r := c.readers[km.Topic]
	if r == nil {
		return
	}
	var err error
	for i := 1; i <= 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = r.CommitMessages(ctx, km)
		cancel()
		if err == nil {
			return
		}
		time.Sleep(backoff(50*time.Millisecond, 500*time.Millisecond, i))
	}
	c.log.Warn("commit failed",
		logger.String("topic", km.Topic),
		logger.Int64("offset", km.Offset),
		logger.Error(err))
}

// backoff doubles from min per attempt up to max, minus up to half as jitter.
func backoff(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	d := max
	if attempt < 32 {
		if exp := min << uint(attempt-1); exp > 0 && exp < max {
			d = exp
		}
	}
	return d - time.Duration(rand.Int63n(int64(d)/2+1))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

var (
	consumerMessages   *prometheus.CounterVec
	consumerLatency    *prometheus.HistogramVec
	consumerQueueDepth *prometheus.GaugeVec
	consumerOnce       sync.Once
)

func initConsumerMetrics(reg prometheus.Registerer) {
	consumerOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		f := promauto.With(reg)
		consumerMessages = f.NewCounterVec(prometheus.CounterOpts{
			Name: "fingate_kafka_consumer_messages_total",
			Help: "Consumed records by outcome (ok, failed, dead_lettered).",
		}, []string{"topic", "outcome"})
		consumerLatency = f.NewHistogramVec(prometheus.HistogramOpts{
			Name: "fingate_kafka_consumer_handle_seconds",
			Help: "Time from first attempt to final outcome per record.",
		}, []string{"topic"})
		consumerQueueDepth = f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fingate_kafka_consumer_queue_depth",
			Help: "Records waiting for the worker that owns the partition.",
		}, []string{"topic"})
	})
}
