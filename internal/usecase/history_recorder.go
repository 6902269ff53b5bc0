package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"FinGate/internal/domain/models"
	drepo "FinGate/internal/domain/repository"
	"FinGate/pkg/logger"
)

// HistoryRecorder buffers served records and writes them to the history
// store in batches, by size or on a timer. Record never blocks the request
// path: when the buffer is full the record is dropped and counted.
type HistoryRecorder struct {
	store    drepo.HistoryStore
	log      *logger.Logger
	batchSz  int
	batchTO  time.Duration
	maxRetry int

	in      chan models.NormalizedData
	stopCh  chan struct{}
	done    chan struct{}
	once    sync.Once
	started atomic.Bool

	written atomic.Int64
	dropped atomic.Int64
}

type RecorderOption func(*HistoryRecorder)

func WithBatch(size int, timeout time.Duration) RecorderOption {
	return func(r *HistoryRecorder) {
		if size > 0 {
			r.batchSz = size
		}
		if timeout > 0 {
			r.batchTO = timeout
		}
	}
}

func WithBufferSize(n int) RecorderOption {
	return func(r *HistoryRecorder) {
		if n > 0 {
			r.in = make(chan models.NormalizedData, n)
		}
	}
}

func NewHistoryRecorder(store drepo.HistoryStore, log *logger.Logger, opts ...RecorderOption) *HistoryRecorder {
	if log == nil {
		log = logger.Nop()
	}
	r := &HistoryRecorder{
		store:    store,
		log:      log.With("history"),
		batchSz:  500,
		batchTO:  2 * time.Second,
		maxRetry: 3,
		in:       make(chan models.NormalizedData, 10000),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record enqueues records for the next batch.
func (r *HistoryRecorder) Record(records ...models.NormalizedData) {
	for _, d := range records {
		if d.Stale {
			continue
		}
		select {
		case r.in <- d:
		default:
			if r.dropped.Add(1)%1000 == 1 {
				r.log.Warn("history buffer full, dropping records", logger.Int64("dropped", r.dropped.Load()))
			}
		}
	}
}

// Start launches the flushing loop.
func (r *HistoryRecorder) Start(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return nil
	}
	go r.loop(context.WithoutCancel(ctx))
	return nil
}

func (r *HistoryRecorder) loop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.batchTO)
	defer ticker.Stop()

	batch := make([]models.NormalizedData, 0, r.batchSz)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		r.flush(ctx, batch)
		batch = make([]models.NormalizedData, 0, r.batchSz)
	}
	for {
		select {
		case <-r.stopCh:
			for {
				select {
				case d := <-r.in:
					batch = append(batch, d)
					if len(batch) >= r.batchSz {
						flush()
					}
				default:
					flush()
					return
				}
			}
		case d := <-r.in:
			batch = append(batch, d)
			if len(batch) >= r.batchSz {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (r *HistoryRecorder) flush(ctx context.Context, batch []models.NormalizedData) {
	backoff := 50 * time.Millisecond
	var err error
	for attempt := 0; attempt < r.maxRetry; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}
		wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = r.store.StoreBatch(wctx, batch)
		cancel()
		if err == nil {
			r.written.Add(int64(len(batch)))
			return
		}
	}
	r.dropped.Add(int64(len(batch)))
	r.log.Error("history batch lost", logger.Int("records", len(batch)), logger.Error(err))
}

// Close flushes what is buffered. It waits at most until ctx is done.
func (r *HistoryRecorder) Close(ctx context.Context) error {
	if !r.started.Load() {
		return nil
	}
	r.once.Do(func() { close(r.stopCh) })
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("history flush: %w", ctx.Err())
	}
}

// Written and Dropped report record counters.
func (r *HistoryRecorder) Written() int64 { return r.written.Load() }

func (r *HistoryRecorder) Dropped() int64 { return r.dropped.Load() }
