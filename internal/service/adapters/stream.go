package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"FinGate/internal/domain/models"
	"FinGate/pkg/config"
	"FinGate/pkg/logger"
)

type tick struct {
	price  float64
	volume float64
	at     time.Time
}

type streamTrade struct {
	S string  `json:"s"`
	P float64 `json:"p"`
	V float64 `json:"v"`
	T int64   `json:"t"` // ms
}

type streamMessage struct {
	Type string        `json:"type"`
	Data []streamTrade `json:"data"`
}

// Stream keeps the last traded price per symbol from a websocket trade feed
// and serves it as a price adapter while it is younger than maxAge.
type Stream struct {
	name           string
	wsURL          string
	apiKey         string
	symbols        []string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	maxAge         time.Duration
	confidence     float64
	log            *logger.Logger
	now            func() time.Time

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	latest    map[string]tick

	cancel context.CancelFunc
	done   chan struct{}
}

func NewStream(name string, cfg config.AdapterConfig, log *logger.Logger) *Stream {
	if log == nil {
		log = logger.Nop()
	}
	s := &Stream{
		name:           name,
		wsURL:          cfg.WSURL,
		apiKey:         cfg.APIKey,
		symbols:        cfg.Symbols,
		reconnectDelay: cfg.ReconnectDelay,
		pingInterval:   cfg.PingInterval,
		maxAge:         cfg.MaxAge,
		confidence:     cfg.Confidence,
		log:            log.With("adapter." + name),
		now:            time.Now,
		latest:         make(map[string]tick),
	}
	if s.reconnectDelay <= 0 {
		s.reconnectDelay = 5 * time.Second
	}
	if s.pingInterval <= 0 {
		s.pingInterval = 30 * time.Second
	}
	if s.maxAge <= 0 {
		s.maxAge = time.Minute
	}
	if s.confidence <= 0 {
		s.confidence = 0.97
	}
	return s
}

func (s *Stream) Name() string { return s.name }

// Start runs the connect, subscribe and read loop in the background until
// ctx is cancelled or Close is called.
func (s *Stream) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
	return nil
}

func (s *Stream) run(ctx context.Context) {
	defer close(s.done)
	for {
		if err := s.connect(ctx); err != nil {
			s.log.Warn("stream connect failed", logger.Error(err))
		} else if err := s.subscribe(); err != nil {
			s.log.Warn("stream subscribe failed", logger.Error(err))
		} else {
			err := s.read(ctx)
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("stream read stopped, reconnecting", logger.Error(err))
		}
		s.closeConn()
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.reconnectDelay):
		}
	}
}

func (s *Stream) connect(ctx context.Context) error {
	u, err := url.Parse(s.wsURL)
	if err != nil {
		return fmt.Errorf("stream url: %w", err)
	}
	if s.apiKey != "" {
		q := u.Query()
		q.Set("token", s.apiKey)
		u.RawQuery = q.Encode()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("stream connect: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()
	s.log.Info("stream connected", logger.String("url", s.wsURL))
	return nil
}

func (s *Stream) subscribe() error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("stream not connected")
	}
	for _, sym := range s.symbols {
		if err := conn.WriteJSON(map[string]string{"type": "subscribe", "symbol": sym}); err != nil {
			return fmt.Errorf("subscribe %s: %w", sym, err)
		}
	}
	s.log.Info("stream subscribed", logger.Strings("symbols", s.symbols))
	return nil
}

func (s *Stream) read(ctx context.Context) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go func() {
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}()
	go func() {
		<-pingCtx.Done()
		// unblock ReadMessage on shutdown
		if ctx.Err() != nil {
			_ = conn.Close()
		}
	}()

	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("stream read: %w", err)
		}
		s.handle(b)
	}
}

func (s *Stream) handle(b []byte) {
	var m streamMessage
	if err := json.Unmarshal(b, &m); err != nil || m.Type != "trade" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range m.Data {
		at := time.UnixMilli(t.T).UTC()
		key := strings.ToUpper(t.S)
		if prev, ok := s.latest[key]; ok && prev.at.After(at) {
			continue
		}
		s.latest[key] = tick{price: t.P, volume: t.V, at: at}
	}
}

// Fetch serves the last trade for the symbol. Feed symbols such as
// "BINANCE:CELOUSDT" are matched by their configured name or by the
// symbol with a quote suffix.
func (s *Stream) Fetch(_ context.Context, dt models.DataType, p models.FetchParams) ([]models.NormalizedData, error) {
	if dt != models.DataTypePrice {
		return nil, models.NewAdapterError(s.name, dt, fmt.Errorf("%w: %s", models.ErrUnsupportedDataType, dt))
	}
	t, feedSymbol, ok := s.lookup(p.Symbol)
	if !ok {
		return nil, models.NewAdapterError(s.name, dt, fmt.Errorf("%w: no trades for %s", models.ErrNoData, p.Symbol))
	}
	age := s.now().Sub(t.at)
	if age > s.maxAge {
		return nil, models.NewAdapterError(s.name, dt, fmt.Errorf("%w: last trade for %s is %s old", models.ErrNoData, p.Symbol, age.Truncate(time.Second)))
	}
	rec := models.NewNormalizedData(s.name, dt, models.Asset{Symbol: p.Symbol, Chain: p.Chain}, t.price, s.confidence)
	rec.Timestamp = t.at
	rec.Metadata["feedSymbol"] = feedSymbol
	rec.Metadata["volume"] = t.volume
	return []models.NormalizedData{rec}, nil
}

func (s *Stream) lookup(symbol string) (tick, string, bool) {
	want := strings.ToUpper(symbol)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.latest[want]; ok {
		return t, want, true
	}
	for key, t := range s.latest {
		base := key
		if i := strings.LastIndex(base, ":"); i >= 0 {
			base = base[i+1:]
		}
		for _, quote := range []string{"USDT", "USDC", "USD"} {
			if base == want+quote {
				return t, key, true
			}
		}
	}
	return tick{}, "", false
}

func (s *Stream) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// InvalidateCache forgets every buffered trade.
func (s *Stream) InvalidateCache() {
	s.mu.Lock()
	s.latest = make(map[string]tick)
	s.mu.Unlock()
}

func (s *Stream) closeConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

// Close stops the background loop and closes the connection.
func (s *Stream) Close() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	s.closeConn()
	return nil
}
