package models

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

var (
	// ErrCircuitOpen marks an adapter skipped because its breaker refuses calls.
	ErrCircuitOpen         = errors.New("circuit breaker open")
	// ErrNoData is returned when every adapter failed and no stale entry exists.
	ErrNoData              = errors.New("no data")
	ErrUnknownMessageType  = errors.New("unknown message type")
	ErrUnsupportedDataType = errors.New("unsupported data type")
	ErrServiceClosed       = errors.New("service closed")
	ErrNotInitialized      = errors.New("service not initialized")
	ErrInvalidRequest      = errors.New("invalid request")
)

// AdapterError wraps an upstream failure of a single adapter call.
type AdapterError struct {
	Adapter    string
	DataType   DataType
	StatusCode int
	Err        error
}

func (e *AdapterError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("adapter %s (%s): status %d: %v", e.Adapter, e.DataType, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("adapter %s (%s): %v", e.Adapter, e.DataType, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// Retriable reports whether another attempt against the same adapter may succeed.
func (e *AdapterError) Retriable() bool {
	if errors.Is(e.Err, context.Canceled) {
		return false
	}
	if e.StatusCode != 0 {
		return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
	}
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(e.Err, &netErr) {
		return true
	}
	return false
}

func NewAdapterError(adapter string, dt DataType, err error) *AdapterError {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae
	}
	return &AdapterError{Adapter: adapter, DataType: dt, Err: err}
}

type CacheError struct {
	Op  string
	Key string
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

type NormalizationError struct {
	DataType DataType
	ID       string
	Reason   string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %s record %s: %s", e.DataType, e.ID, e.Reason)
}

// ExhaustedFailoverError reports the adapters that were tried for one key.
type ExhaustedFailoverError struct {
	Key       string
	Attempted []string
	Skipped   []string
}

func (e *ExhaustedFailoverError) Error() string {
	return fmt.Sprintf("no data for %s (attempted: [%s], skipped: [%s])",
		e.Key, strings.Join(e.Attempted, ","), strings.Join(e.Skipped, ","))
}

func (e *ExhaustedFailoverError) Is(target error) bool { return target == ErrNoData }

// ConfigurationError is fatal and only produced at startup.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

func NewConfigError(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
