package normalizer

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"FinGate/internal/domain/models"
)

const (
	riskVeryLow  = "very-low"
	riskLow      = "low"
	riskMedium   = "medium"
	riskHigh     = "high"
	riskVeryHigh = "very-high"
)

const (
	// MetaAPYFormat lets an adapter declare the unit of an apy value.
	MetaAPYFormat    = "apyFormat"
	FormatPercentage = "percentage"
)

var (
	rayThreshold = 1e20
	rayDivisor   = decimal.New(1, 25)
)

type Config struct {
	PriceDecimals     int32   `yaml:"price_decimals"`
	APYDecimals       int32   `yaml:"apy_decimals"`
	TVLDecimals       int32   `yaml:"tvl_decimals"`
	BalanceDecimals   int32   `yaml:"balance_decimals"`
	DefaultConfidence float64 `yaml:"default_confidence"`
}

func DefaultConfig() Config {
	return Config{
		PriceDecimals:     8,
		APYDecimals:       4,
		TVLDecimals:       2,
		BalanceDecimals:   18,
		DefaultConfidence: models.DefaultConfidence,
	}
}

// Normalizer converts adapter output into canonical units. It holds no state
// beyond its configuration and is safe for concurrent use.
type Normalizer struct {
	cfg Config
}

func New(cfg Config) *Normalizer {
	d := DefaultConfig()
	if cfg.PriceDecimals <= 0 {
		cfg.PriceDecimals = d.PriceDecimals
	}
	if cfg.APYDecimals <= 0 {
		cfg.APYDecimals = d.APYDecimals
	}
	if cfg.TVLDecimals <= 0 {
		cfg.TVLDecimals = d.TVLDecimals
	}
	if cfg.BalanceDecimals <= 0 {
		cfg.BalanceDecimals = d.BalanceDecimals
	}
	if cfg.DefaultConfidence <= 0 {
		cfg.DefaultConfidence = d.DefaultConfidence
	}
	return &Normalizer{cfg: cfg}
}

// Normalize returns a copy of d in canonical form. Records already marked
// normalized are only re-rounded, so Normalize(Normalize(x)) == Normalize(x).
func (n *Normalizer) Normalize(d models.NormalizedData) (models.NormalizedData, error) {
	out := d
	out.Metadata = d.Metadata.Clone()
	if out.Timestamp.IsZero() {
		out.Timestamp = time.Now().UTC()
	}
	out.Asset.Symbol = strings.ToUpper(out.Asset.Symbol)
	out.Asset.Chain = strings.ToLower(out.Asset.Chain)

	conf, ok := out.Metadata.Float(models.MetaConfidence)
	if !ok || math.IsNaN(conf) {
		conf = n.cfg.DefaultConfidence
	}
	out.Metadata[models.MetaConfidence] = models.ClampConfidence(conf)

	already := d.Metadata.Bool(models.MetaNormalized)

	var err error
	switch d.DataType {
	case models.DataTypePrice:
		err = n.price(&out)
	case models.DataTypeAPY:
		err = n.apy(&out, already)
	case models.DataTypeLiquidity, models.DataTypeTVL:
		err = n.usd(&out)
	case models.DataTypeBalance:
		err = n.balance(&out, already)
	case models.DataTypeRisk:
		err = n.risk(&out, already)
	case models.DataTypeTransaction:
		err = n.transaction(&out)
	default:
		out.Metadata[models.MetaNormalized] = false
		return out, nil
	}
	if err != nil {
		return models.NormalizedData{}, err
	}
	out.Metadata[models.MetaNormalized] = true
	return out, out.Validate()
}

// NormalizeMultiple normalizes every record and drops the ones that fail.
func (n *Normalizer) NormalizeMultiple(items []models.NormalizedData) ([]models.NormalizedData, []error) {
	out := make([]models.NormalizedData, 0, len(items))
	var errs []error
	for _, it := range items {
		v, err := n.Normalize(it)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, v)
	}
	return out, errs
}

func (n *Normalizer) price(d *models.NormalizedData) error {
	v, err := numeric(d)
	if err != nil {
		return err
	}
	d.Value = round(v, n.cfg.PriceDecimals)
	d.Metadata["tokenDecimals"] = d.Metadata.Int("tokenDecimals", int(n.cfg.BalanceDecimals))
	d.Metadata["normalizedDecimals"] = int(n.cfg.PriceDecimals)
	return nil
}

func (n *Normalizer) apy(d *models.NormalizedData, already bool) error {
	v, err := numeric(d)
	if err != nil {
		return err
	}
	// Upstreams that already report percentages opt out of the heuristics.
	scale := !already && d.Metadata.String(MetaAPYFormat) != FormatPercentage
	if scale {
		v = scaleAPY(v)
	}
	d.Value = round(v, n.cfg.APYDecimals)
	for _, k := range []string{"supplyAPY", "borrowAPY"} {
		if x, ok := d.Metadata.Float(k); ok {
			xd := decimal.NewFromFloat(x)
			if scale {
				xd = scaleAPY(xd)
			}
			d.Metadata[k] = round(xd, n.cfg.APYDecimals)
		}
	}
	d.Metadata["normalizedFormat"] = FormatPercentage
	return nil
}

func scaleAPY(v decimal.Decimal) decimal.Decimal {
	f := v.InexactFloat64()
	switch {
	case f > 0 && f < 1:
		return v.Mul(decimal.NewFromInt(100))
	case f > rayThreshold:
		return v.Div(rayDivisor)
	}
	return v
}

func (n *Normalizer) usd(d *models.NormalizedData) error {
	v, err := numeric(d)
	if err != nil {
		return err
	}
	d.Value = round(v, n.cfg.TVLDecimals)
	d.Metadata["normalizedFormat"] = "usd"
	return nil
}

func (n *Normalizer) balance(d *models.NormalizedData, already bool) error {
	v, err := numeric(d)
	if err != nil {
		return err
	}
	decimals := int32(d.Metadata.Int("tokenDecimals", int(n.cfg.BalanceDecimals)))
	if decimals < 0 {
		return &models.NormalizationError{DataType: d.DataType, ID: d.ID, Reason: "negative token decimals"}
	}
	if !already {
		d.Metadata["rawBalance"] = v.String()
		v = v.Shift(-decimals)
	}
	d.Value = round(v, decimals)
	d.Metadata["tokenDecimals"] = int(decimals)
	d.Metadata["humanReadable"] = true
	return nil
}

func (n *Normalizer) risk(d *models.NormalizedData, already bool) error {
	v, err := numeric(d)
	if err != nil {
		return err
	}
	if !already && v.GreaterThanOrEqual(decimal.Zero) && v.LessThanOrEqual(decimal.NewFromInt(1)) {
		v = v.Mul(decimal.NewFromInt(100))
	}
	score := round(v, 2)
	d.Value = score
	d.Metadata["riskLevel"] = RiskLevel(score)
	d.Metadata["normalizedFormat"] = "0-100"
	return nil
}

func (n *Normalizer) transaction(d *models.NormalizedData) error {
	var s string
	switch v := d.Value.(type) {
	case string:
		dec, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return &models.NormalizationError{DataType: d.DataType, ID: d.ID, Reason: fmt.Sprintf("value %q is not a decimal", v)}
		}
		s = dec.String()
	default:
		dec, err := numeric(d)
		if err != nil {
			return err
		}
		s = dec.String()
	}
	d.Value = s
	if _, ok := d.Metadata["transactionTimestamp"]; !ok {
		d.Metadata["transactionTimestamp"] = d.Timestamp.UTC().Format(time.RFC3339)
	}
	return nil
}

// RiskLevel places a 0-100 score into its band.
func RiskLevel(score float64) string {
	switch {
	case score < 20:
		return riskVeryLow
	case score < 40:
		return riskLow
	case score < 60:
		return riskMedium
	case score < 80:
		return riskHigh
	}
	return riskVeryHigh
}

func numeric(d *models.NormalizedData) (decimal.Decimal, error) {
	bad := func(reason string) error {
		return &models.NormalizationError{DataType: d.DataType, ID: d.ID, Reason: reason}
	}
	switch v := d.Value.(type) {
	case float64:
		return numericFloat(v, bad)
	case float32:
		return numericFloat(float64(v), bad)
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case decimal.Decimal:
		return v, nil
	case string:
		dec, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return decimal.Zero, bad(fmt.Sprintf("value %q is not numeric", v))
		}
		return dec, nil
	case nil:
		return decimal.Zero, bad("missing value")
	}
	return decimal.Zero, bad(fmt.Sprintf("unexpected value type %T", d.Value))
}

func numericFloat(v float64, bad func(string) error) (decimal.Decimal, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero, bad("value is not finite")
	}
	return decimal.NewFromFloat(v), nil
}

func round(v decimal.Decimal, places int32) float64 {
	return v.Round(places).InexactFloat64()
}
