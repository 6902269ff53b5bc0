package bus

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"FinGate/pkg/logger"
)

var (
	ErrClosed       = errors.New("bus closed")
	ErrQueueFull    = errors.New("bus queue full")
	ErrNoTopic      = errors.New("message has no topic")
	errHandlerPanic = errors.New("handler panic")
)

// Message is anything routable by topic.
type Message interface {
	Topic() string
}

// Handler processes one message. Returned errors are counted and logged,
// they never reach the publisher.
type Handler[T Message] func(ctx context.Context, msg T) error

// Config contains the configuration for the bus.
type Config struct {
	Name      string // metrics label
	QueueSize int    // max queued messages, 0 = unbounded
}

// Stats is a point-in-time view of the bus counters.
type Stats struct {
	Published      uint64         `json:"published"`
	Processed      uint64         `json:"processed"`
	Failed         uint64         `json:"failed"`
	Dropped        uint64         `json:"dropped"`
	QueuedMessages int            `json:"queuedMessages"`
	Subscribers    map[string]int `json:"subscribers"`
}

type subscription[T Message] struct {
	id uint64
	h  Handler[T]
}

// Bus is an in-process FIFO publish/subscribe queue. Messages are processed
// one at a time in publish order; every handler subscribed to a message's
// topic runs concurrently and failures are isolated per handler.
type Bus[T Message] struct {
	cfg     Config
	log     *logger.Logger
	metrics *collector

	mu     sync.RWMutex
	subs   map[string][]subscription[T]
	nextID uint64

	qmu    sync.Mutex
	queue  []T
	notify chan struct{}

	published atomic.Uint64
	processed atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64

	stateMu sync.Mutex
	running bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures Bus.
type Option func(*options)

type options struct {
	reg prometheus.Registerer
}

// WithRegisterer exposes the bus counters on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.reg = reg }
}

func New[T Message](cfg Config, log *logger.Logger, opts ...Option) *Bus[T] {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Name == "" {
		cfg.Name = "bus"
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	return &Bus[T]{
		cfg:     cfg,
		log:     log.With("bus"),
		metrics: newCollector(o.reg),
		subs:    make(map[string][]subscription[T]),
		notify:  make(chan struct{}, 1),
	}
}

// Subscribe registers h on topic and returns a function that removes it.
func (b *Bus[T]) Subscribe(topic string, h Handler[T]) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscription[T]{id: id, h: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(topic, id) })
	}
}

// SubscribeMultiple registers h on every topic.
func (b *Bus[T]) SubscribeMultiple(topics []string, h Handler[T]) func() {
	unsubs := make([]func(), 0, len(topics))
	for _, t := range topics {
		unsubs = append(unsubs, b.Subscribe(t, h))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (b *Bus[T]) unsubscribe(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[topic]
	for i, s := range list {
		if s.id == id {
			b.subs[topic] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[topic]) == 0 {
		delete(b.subs, topic)
	}
}

func (b *Bus[T]) ClearSubscriptions() {
	b.mu.Lock()
	b.subs = make(map[string][]subscription[T])
	b.mu.Unlock()
}

// Publish appends msg to the queue. It does not wait for delivery.
func (b *Bus[T]) Publish(_ context.Context, msg T) error {
	topic := msg.Topic()
	if topic == "" {
		return ErrNoTopic
	}
	b.stateMu.Lock()
	closed := b.closed
	b.stateMu.Unlock()
	if closed {
		return ErrClosed
	}

	b.qmu.Lock()
	if b.cfg.QueueSize > 0 && len(b.queue) >= b.cfg.QueueSize {
		b.qmu.Unlock()
		b.dropped.Add(1)
		b.metrics.dropped.WithLabelValues(b.cfg.Name, topic).Inc()
		return fmt.Errorf("%w: %d queued", ErrQueueFull, b.cfg.QueueSize)
	}
	b.queue = append(b.queue, msg)
	b.qmu.Unlock()

	b.published.Add(1)
	b.metrics.published.WithLabelValues(b.cfg.Name, topic).Inc()
	b.signal()
	return nil
}

// PublishMultiple publishes every message and joins the failures.
func (b *Bus[T]) PublishMultiple(ctx context.Context, msgs ...T) error {
	var errs []error
	for _, m := range msgs {
		if err := b.Publish(ctx, m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Bus[T]) signal() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Start launches the queue draining loop.
func (b *Bus[T]) Start(ctx context.Context) error {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.running {
		return fmt.Errorf("bus already running")
	}
	ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})
	b.running = true
	go b.loop(ctx)
	b.log.Info("message bus started", logger.String("name", b.cfg.Name))
	return nil
}

func (b *Bus[T]) loop(ctx context.Context) {
	defer close(b.done)
	for {
		msg, ok := b.pop()
		if ok {
			b.dispatch(ctx, msg)
			continue
		}
		b.stateMu.Lock()
		closed := b.closed
		b.stateMu.Unlock()
		if closed {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-b.notify:
		}
	}
}

func (b *Bus[T]) pop() (T, bool) {
	b.qmu.Lock()
	defer b.qmu.Unlock()
	var zero T
	if len(b.queue) == 0 {
		return zero, false
	}
	msg := b.queue[0]
	b.queue[0] = zero
	b.queue = b.queue[1:]
	return msg, true
}

func (b *Bus[T]) dispatch(ctx context.Context, msg T) {
	topic := msg.Topic()
	b.mu.RLock()
	handlers := make([]Handler[T], 0, len(b.subs[topic]))
	for _, s := range b.subs[topic] {
		handlers = append(handlers, s.h)
	}
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.dropped.Add(1)
		b.metrics.dropped.WithLabelValues(b.cfg.Name, topic).Inc()
		b.log.Debug("no subscribers, message dropped", logger.String("topic", topic))
		return
	}

	start := time.Now()
	var wg sync.WaitGroup
	for _, h := range handlers {
		wg.Add(1)
		go func(h Handler[T]) {
			defer wg.Done()
			if err := b.invoke(ctx, h, msg); err != nil {
				b.failed.Add(1)
				b.metrics.failed.WithLabelValues(b.cfg.Name, topic).Inc()
				b.log.Warn("message handler failed", logger.String("topic", topic), logger.Error(err))
			}
		}(h)
	}
	wg.Wait()

	b.processed.Add(1)
	b.metrics.processed.WithLabelValues(b.cfg.Name, topic).Inc()
	b.metrics.duration.WithLabelValues(b.cfg.Name, topic).Observe(time.Since(start).Seconds())
}

func (b *Bus[T]) invoke(ctx context.Context, h Handler[T], msg T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", errHandlerPanic, r, debug.Stack())
		}
	}()
	return h(ctx, msg)
}

// Close stops accepting messages and drains what is already queued. When ctx
// expires first the loop is cancelled and the remaining messages are lost.
func (b *Bus[T]) Close(ctx context.Context) error {
	b.stateMu.Lock()
	if b.closed {
		b.stateMu.Unlock()
		return nil
	}
	b.closed = true
	running, done, cancel := b.running, b.done, b.cancel
	b.stateMu.Unlock()

	if !running {
		return nil
	}
	b.signal()

	select {
	case <-done:
		b.log.Info("message bus stopped gracefully", logger.String("name", b.cfg.Name))
		return nil
	case <-ctx.Done():
		cancel()
		<-done
		b.log.Warn("message bus drain timed out", logger.Int("queued", b.queued()))
		return fmt.Errorf("drain: %w", ctx.Err())
	}
}

func (b *Bus[T]) queued() int {
	b.qmu.Lock()
	defer b.qmu.Unlock()
	return len(b.queue)
}

func (b *Bus[T]) Stats() Stats {
	b.mu.RLock()
	subs := make(map[string]int, len(b.subs))
	for t, list := range b.subs {
		subs[t] = len(list)
	}
	b.mu.RUnlock()
	return Stats{
		Published:      b.published.Load(),
		Processed:      b.processed.Load(),
		Failed:         b.failed.Load(),
		Dropped:        b.dropped.Load(),
		QueuedMessages: b.queued(),
		Subscribers:    subs,
	}
}

// Topics lists the topics that currently have subscribers.
func (b *Bus[T]) Topics() []string {
	b.mu.RLock()
	out := make([]string, 0, len(b.subs))
	for t := range b.subs {
		out = append(out, t)
	}
	b.mu.RUnlock()
	sort.Strings(out)
	return out
}

// LogHandler returns a subscriber that logs every message at debug level.
func LogHandler[T Message](log *logger.Logger) Handler[T] {
	return func(_ context.Context, msg T) error {
		log.Debug("bus message", logger.String("topic", msg.Topic()), logger.Any("message", msg))
		return nil
	}
}
