package models

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DataType names the kind of market data a record carries.
type DataType string

const (
	DataTypePrice       DataType = "price"
	DataTypeLiquidity   DataType = "liquidity"
	DataTypeAPY         DataType = "apy"
	DataTypeTVL         DataType = "tvl"
	DataTypeBalance     DataType = "balance"
	DataTypeRisk        DataType = "risk"
	DataTypeTransaction DataType = "transaction"
)

// DefaultConfidence is attached to records that arrive without one.
const DefaultConfidence = 0.85

var knownDataTypes = map[DataType]struct{}{
	DataTypePrice:       {},
	DataTypeLiquidity:   {},
	DataTypeAPY:         {},
	DataTypeTVL:         {},
	DataTypeBalance:     {},
	DataTypeRisk:        {},
	DataTypeTransaction: {},
}

func (d DataType) Valid() bool {
	_, ok := knownDataTypes[d]
	return ok
}

// DataTypes lists every known data type in a stable order.
func DataTypes() []DataType {
	return []DataType{
		DataTypePrice, DataTypeLiquidity, DataTypeAPY, DataTypeTVL,
		DataTypeBalance, DataTypeRisk, DataTypeTransaction,
	}
}

func ParseDataType(s string) (DataType, bool) {
	d := DataType(strings.ToLower(strings.TrimSpace(s)))
	return d, d.Valid()
}

type Asset struct {
	Symbol  string `json:"symbol"`
	Chain   string `json:"chain,omitempty"`
	Address string `json:"address,omitempty"`
}

// Metadata is an open map. "confidence" is always present on a valid record.
//
// Type specific keys:
//   - price: tokenDecimals, normalizedDecimals
//   - apy: normalizedFormat, supplyAPY, borrowAPY, utilizationRate
//   - liquidity/tvl: normalizedFormat
//   - balance: rawBalance, tokenDecimals, humanReadable
//   - risk: riskLevel, normalizedFormat
//   - transaction: transactionTimestamp
type Metadata map[string]any

const (
	MetaConfidence = "confidence"
	MetaNormalized = "normalized"
	MetaStale      = "isStale"
	MetaAge        = "age"
	MetaAnomaly    = "anomaly"
	MetaAnomalyMsg = "anomalyReason"
)

func (m Metadata) Float(key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint8:
		return float64(v), true
	}
	return 0, false
}

func (m Metadata) Int(key string, def int) int {
	if f, ok := m.Float(key); ok {
		return int(f)
	}
	return def
}

func (m Metadata) Bool(key string) bool {
	b, _ := m[key].(bool)
	return b
}

func (m Metadata) String(key string) string {
	s, _ := m[key].(string)
	return s
}

func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m)+2)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// NormalizedData is the canonical record handed out by the gateway.
// Value is a float64 for every type except transaction, where it is a decimal string.
type NormalizedData struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	DataType  DataType  `json:"dataType"`
	Asset     Asset     `json:"asset"`
	Value     any       `json:"value"`
	Metadata  Metadata  `json:"metadata"`
	Stale     bool      `json:"stale,omitempty"`
}

func NewNormalizedData(source string, dt DataType, asset Asset, value any, confidence float64) NormalizedData {
	return NormalizedData{
		ID:        uuid.NewString(),
		Source:    source,
		Timestamp: time.Now().UTC(),
		DataType:  dt,
		Asset:     asset,
		Value:     value,
		Metadata:  Metadata{MetaConfidence: ClampConfidence(confidence)},
	}
}

func (d NormalizedData) Confidence() float64 {
	c, ok := d.Metadata.Float(MetaConfidence)
	if !ok {
		return 0
	}
	return c
}

// Float returns the numeric value of the record. Transaction strings report false.
func (d NormalizedData) Float() (float64, bool) {
	switch v := d.Value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Validate enforces the required subset: a value and a confidence inside [0,1].
func (d NormalizedData) Validate() error {
	if d.Value == nil {
		return &NormalizationError{DataType: d.DataType, ID: d.ID, Reason: "missing value"}
	}
	if d.DataType == DataTypeTransaction {
		if _, ok := d.Value.(string); !ok {
			return &NormalizationError{DataType: d.DataType, ID: d.ID, Reason: "transaction value must be a decimal string"}
		}
	}
	if v, ok := d.Float(); ok && (math.IsNaN(v) || math.IsInf(v, 0)) {
		return &NormalizationError{DataType: d.DataType, ID: d.ID, Reason: "value is not a finite number"}
	}
	c, ok := d.Metadata.Float(MetaConfidence)
	if !ok {
		return &NormalizationError{DataType: d.DataType, ID: d.ID, Reason: "missing confidence"}
	}
	if math.IsNaN(c) || c < 0 || c > 1 {
		return &NormalizationError{DataType: d.DataType, ID: d.ID, Reason: "confidence out of range"}
	}
	return nil
}

// ClampConfidence bounds c to [0,1]. NaN carries no confidence and maps to 0.
func ClampConfidence(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// CacheEntry is written once per key and replaced wholesale on update. One
// item may yield several records (every pool of a protocol, for instance).
type CacheEntry struct {
	Data       []NormalizedData `json:"data"`
	Timestamp  time.Time        `json:"timestamp"`
	TTLSeconds int              `json:"ttlSeconds"`
	Source     string           `json:"source"`
}

func (e CacheEntry) Fresh(now time.Time) bool {
	return now.Sub(e.Timestamp) < time.Duration(e.TTLSeconds)*time.Second
}

func (e CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.Timestamp)
}
