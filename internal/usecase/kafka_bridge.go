package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"

	"FinGate/internal/domain/models"
	drepo "FinGate/internal/domain/repository"
	pkghttp "FinGate/pkg/http"
	pkgkafka "FinGate/pkg/kafka"
	"FinGate/pkg/logger"
)

// KafkaBridge connects the service bus to Kafka: requests consumed from the
// requests topic are published on the bus, and every response on the bus is
// mirrored to the updates topic.
type KafkaBridge struct {
	svc   *Service
	pub   drepo.Publisher
	topic string
	log   *logger.Logger

	mu    sync.Mutex
	unsub func()
}

var _ pkgkafka.MessageHandler = (*KafkaBridge)(nil)

func NewKafkaBridge(svc *Service, pub drepo.Publisher, requestsTopic string, log *logger.Logger) *KafkaBridge {
	if log == nil {
		log = logger.Nop()
	}
	return &KafkaBridge{svc: svc, pub: pub, topic: requestsTopic, log: log.With("bridge.kafka")}
}

func (b *KafkaBridge) Topic() string { return b.topic }

// Handle decodes one request. Malformed or invalid messages return an error
// so the consumer can retry and dead letter them.
func (b *KafkaBridge) Handle(ctx context.Context, data []byte) error {
	var msg models.GatewayMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decode gateway message: %w", err)
	}
	if !msg.Type.IsRequest() || msg.Payload != nil {
		return fmt.Errorf("%w: %q is not a request", models.ErrUnknownMessageType, msg.Type)
	}
	body, err := prepareBody(ctx, msg.Request)
	if err != nil {
		return fmt.Errorf("%w %s: %w", models.ErrInvalidRequest, msg.Type, err)
	}
	msg.Request = body
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.RequestID == "" {
		msg.RequestID = msg.ID
	}
	if msg.From == "" {
		msg.From = "kafka"
	}
	if tid := pkgkafka.TraceIDFrom(ctx); tid != "" {
		if msg.Metadata == nil {
			msg.Metadata = make(map[string]string, 1)
		}
		msg.Metadata["traceId"] = tid
	}
	b.log.Debug("request received",
		logger.String("type", string(msg.Type)),
		logger.String("requestId", msg.RequestID))
	return b.svc.Publish(ctx, msg)
}

// prepareBody applies defaults and validation to a decoded request body.
func prepareBody(ctx context.Context, body any) (any, error) {
	if body == nil {
		return nil, nil
	}
	ptr := reflect.New(reflect.TypeOf(body))
	ptr.Elem().Set(reflect.ValueOf(body))
	if err := pkghttp.Prepare(ctx, ptr.Interface()); err != nil {
		return nil, err
	}
	return ptr.Elem().Interface(), nil
}

// Start mirrors responses to Kafka.
func (b *KafkaBridge) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unsub != nil {
		return
	}
	b.unsub = b.svc.SubscribeResponses(func(ctx context.Context, msg models.GatewayMessage) error {
		if err := b.pub.Publish(ctx, msg); err != nil {
			b.log.Warn("mirror failed",
				logger.String("type", string(msg.Type)),
				logger.String("requestId", msg.RequestID),
				logger.Error(err))
			return err
		}
		return nil
	})
}

// Close stops mirroring and closes the publisher.
func (b *KafkaBridge) Close() error {
	b.mu.Lock()
	if b.unsub != nil {
		b.unsub()
		b.unsub = nil
	}
	b.mu.Unlock()
	return b.pub.Close()
}
