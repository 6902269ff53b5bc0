package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// Header keys shared by producer and consumer.
const (
	HeaderType        = "type"
	HeaderTraceID     = "trace_id"
	HeaderRequestID   = "request_id"
	HeaderSourceTopic = "source_topic"
	HeaderError       = "error"
	HeaderAttempts    = "attempts"
)

// ConsumerHook wraps every handler attempt. An error from Before skips the
// handler and is treated like a handler failure.
type ConsumerHook interface {
	Before(ctx context.Context, km kafka.Message) (context.Context, error)
	After(ctx context.Context, km kafka.Message, err error)
}

// HookFuncs builds a ConsumerHook from optional functions.
type HookFuncs struct {
	BeforeFunc func(context.Context, kafka.Message) (context.Context, error)
	AfterFunc  func(context.Context, kafka.Message, error)
}

func (h HookFuncs) Before(ctx context.Context, km kafka.Message) (context.Context, error) {
	if h.BeforeFunc == nil {
		return ctx, nil
	}
	return h.BeforeFunc(ctx, km)
}

func (h HookFuncs) After(ctx context.Context, km kafka.Message, err error) {
	if h.AfterFunc != nil {
		h.AfterFunc(ctx, km, err)
	}
}

type ctxKey int

const (
	traceIDKey ctxKey = iota
	startTimeKey
)

// HeaderValue returns the first header named key, or "".
func HeaderValue(km kafka.Message, key string) string {
	for _, h := range km.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func WithTraceID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, traceIDKey, id)
}

func TraceIDFrom(ctx context.Context) string {
	s, _ := ctx.Value(traceIDKey).(string)
	return s
}

// StartTimeFrom returns when the current attempt began, if a TraceHook ran.
func StartTimeFrom(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(startTimeKey).(time.Time)
	return t, ok
}

// TraceHook carries the trace id header, falling back to request_id, into
// the handler context and stamps the attempt start time.
func TraceHook() ConsumerHook {
	return HookFuncs{
		BeforeFunc: func(ctx context.Context, km kafka.Message) (context.Context, error) {
			id := HeaderValue(km, HeaderTraceID)
			if id == "" {
				id = HeaderValue(km, HeaderRequestID)
			}
			ctx = context.WithValue(ctx, startTimeKey, time.Now())
			return WithTraceID(ctx, id), nil
		},
	}
}

type noopHook struct{}

func (noopHook) Before(ctx context.Context, _ kafka.Message) (context.Context, error) { return ctx, nil }

func (noopHook) After(context.Context, kafka.Message, error) {}
