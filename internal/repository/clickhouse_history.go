package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"FinGate/internal/domain/models"
	domrepo "FinGate/internal/domain/repository"
	pkgch "FinGate/pkg/clickhouse"
	applogger "FinGate/pkg/logger"
)

const historyColumns = "ts, id, data_type, symbol, chain, source, value, value_text, confidence, metadata"

// CHHistoryStore keeps normalized records in a MergeTree table ordered by
// data type, symbol and time.
type CHHistoryStore struct {
	client    *pkgch.Client
	db        *sql.DB
	table     string
	retention time.Duration
	l         *applogger.Logger
}

var _ domrepo.HistoryStore = (*CHHistoryStore)(nil)

func NewCHHistoryStore(ch *pkgch.Client, table string, retention time.Duration, l *applogger.Logger) *CHHistoryStore {
	if table == "" {
		table = "gateway_history"
	}
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &CHHistoryStore{client: ch, db: ch.DB(), table: table, retention: retention, l: l.With("history.clickhouse")}
}

func (s *CHHistoryStore) Init(ctx context.Context) error {
	days := int(s.retention / (24 * time.Hour))
	if days < 1 {
		days = 1
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    ts DateTime64(3, 'UTC'),
    id String,
    data_type LowCardinality(String),
    symbol LowCardinality(String),
    chain LowCardinality(String),
    source LowCardinality(String),
    value Float64,
    value_text String,
    confidence Float32,
    metadata String
) ENGINE = MergeTree
ORDER BY (data_type, symbol, ts)
TTL toDateTime(ts) + INTERVAL %d DAY`, s.table, days)
	return s.client.InitSchema(ctx, []string{ddl})
}

// StoreBatch inserts records with multi-row VALUES, chunked to bound the statement size.
func (s *CHHistoryStore) StoreBatch(ctx context.Context, records []models.NormalizedData) error {
	const chunkSize = 1000
	for start := 0; start < len(records); start += chunkSize {
		end := min(start+chunkSize, len(records))
		values := make([]string, 0, end-start)
		args := make([]any, 0, (end-start)*10)
		for _, d := range records[start:end] {
			if d.Asset.Symbol == "" || d.DataType == "" {
				continue
			}
			num, text := splitValue(d.Value)
			meta, err := json.Marshal(d.Metadata)
			if err != nil {
				return fmt.Errorf("encode metadata of %s: %w", d.ID, err)
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				d.Timestamp.UTC(),
				d.ID,
				string(d.DataType),
				d.Asset.Symbol,
				d.Asset.Chain,
				d.Source,
				num,
				text,
				float32(d.Confidence()),
				string(meta),
			)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", s.table, historyColumns, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			s.l.Error("clickhouse history insert error",
				applogger.String("table", s.table),
				applogger.Int("rows", len(values)),
				applogger.Error(err))
			return fmt.Errorf("insert history: %w", err)
		}
	}
	return nil
}

// Recent returns the n latest records, newest first.
func (s *CHHistoryStore) Recent(ctx context.Context, dt models.DataType, symbol string, n int) ([]models.NormalizedData, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE data_type = ? AND symbol = ? ORDER BY ts DESC LIMIT ?", historyColumns, s.table)
	return s.query(ctx, q, string(dt), strings.ToUpper(symbol), n)
}

// Range returns records within [from, to], oldest first.
func (s *CHHistoryStore) Range(ctx context.Context, dt models.DataType, symbol string, from, to time.Time) ([]models.NormalizedData, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE data_type = ? AND symbol = ? AND ts >= ? AND ts <= ? ORDER BY ts ASC", historyColumns, s.table)
	return s.query(ctx, q, string(dt), strings.ToUpper(symbol), from.UTC(), to.UTC())
}

func (s *CHHistoryStore) query(ctx context.Context, q string, args ...any) ([]models.NormalizedData, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []models.NormalizedData
	for rows.Next() {
		var (
			d          models.NormalizedData
			dt         string
			num        float64
			text, meta string
			conf       float32
		)
		if err := rows.Scan(&d.Timestamp, &d.ID, &dt, &d.Asset.Symbol, &d.Asset.Chain, &d.Source, &num, &text, &conf, &meta); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		d.DataType = models.DataType(dt)
		d.Value = num
		if text != "" {
			d.Value = text
		}
		d.Metadata = models.Metadata{}
		if meta != "" {
			if err := json.Unmarshal([]byte(meta), &d.Metadata); err != nil {
				s.l.Warn("history metadata unreadable", applogger.String("id", d.ID), applogger.Error(err))
			}
		}
		d.Metadata[models.MetaConfidence] = float64(conf)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *CHHistoryStore) Health(ctx context.Context) error {
	return s.client.Health(ctx)
}

func (s *CHHistoryStore) Close() error {
	return s.client.Close()
}

// splitValue keeps numeric values queryable and string values (wei
// balances, transaction amounts) exact.
func splitValue(v any) (float64, string) {
	switch x := v.(type) {
	case float64:
		return x, ""
	case float32:
		return float64(x), ""
	case int:
		return float64(x), ""
	case int64:
		return float64(x), ""
	case string:
		return 0, x
	case nil:
		return 0, ""
	}
	return 0, fmt.Sprint(v)
}
