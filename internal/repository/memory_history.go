package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"FinGate/internal/domain/models"
	domrepo "FinGate/internal/domain/repository"
)

// MemoryHistoryStore keeps a bounded ring of records per data type and
// symbol. It backs anomaly scoring when ClickHouse is disabled.
type MemoryHistoryStore struct {
	mu     sync.RWMutex
	limit  int
	series map[string][]models.NormalizedData
}

var _ domrepo.HistoryStore = (*MemoryHistoryStore)(nil)

func NewMemoryHistoryStore(limit int) *MemoryHistoryStore {
	if limit <= 0 {
		limit = 1000
	}
	return &MemoryHistoryStore{limit: limit, series: make(map[string][]models.NormalizedData)}
}

func seriesKey(dt models.DataType, symbol string) string {
	return string(dt) + ":" + strings.ToUpper(symbol)
}

func (s *MemoryHistoryStore) Init(context.Context) error { return nil }

func (s *MemoryHistoryStore) StoreBatch(_ context.Context, records []models.NormalizedData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	touched := make(map[string]struct{})
	for _, d := range records {
		k := seriesKey(d.DataType, d.Asset.Symbol)
		s.series[k] = append(s.series[k], d)
		touched[k] = struct{}{}
	}
	for k := range touched {
		list := s.series[k]
		sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp.Before(list[j].Timestamp) })
		if len(list) > s.limit {
			list = append([]models.NormalizedData(nil), list[len(list)-s.limit:]...)
		}
		s.series[k] = list
	}
	return nil
}

// Recent returns the n latest records, newest first.
func (s *MemoryHistoryStore) Recent(_ context.Context, dt models.DataType, symbol string, n int) ([]models.NormalizedData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.series[seriesKey(dt, symbol)]
	if n <= 0 || n > len(list) {
		n = len(list)
	}
	out := make([]models.NormalizedData, 0, n)
	for i := len(list) - 1; i >= len(list)-n; i-- {
		out = append(out, list[i])
	}
	return out, nil
}

// Range returns records within [from, to], oldest first.
func (s *MemoryHistoryStore) Range(_ context.Context, dt models.DataType, symbol string, from, to time.Time) ([]models.NormalizedData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.NormalizedData
	for _, d := range s.series[seriesKey(dt, symbol)] {
		if d.Timestamp.Before(from) || d.Timestamp.After(to) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *MemoryHistoryStore) Health(context.Context) error { return nil }

func (s *MemoryHistoryStore) Close() error {
	s.mu.Lock()
	s.series = make(map[string][]models.NormalizedData)
	s.mu.Unlock()
	return nil
}
