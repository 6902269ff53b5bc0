package normalizer

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Sample is a timestamped value used by Interpolate.
type Sample struct {
	Timestamp time.Time
	Value     float64
}

type Anomaly struct {
	IsAnomaly bool
	ZScore    float64
	Reason    string
}

// DefaultAnomalyThreshold is expressed in standard deviations.
const DefaultAnomalyThreshold = 2.0

// APRToAPY compounds an APR percentage compoundingPerDay times a day and
// returns the APY percentage.
func (n *Normalizer) APRToAPY(apr float64, compoundingPerDay float64) float64 {
	if compoundingPerDay <= 0 {
		compoundingPerDay = 1
	}
	daily := apr / 365 / 100
	apy := (math.Pow(1+daily, 365*compoundingPerDay) - 1) * 100
	return round(decimal.NewFromFloat(apy), n.cfg.APYDecimals)
}

// NetAPY deducts a performance fee (share of gross) and a flat management fee.
func (n *Normalizer) NetAPY(gross, performanceFeePct, managementFeePct float64) float64 {
	g := decimal.NewFromFloat(gross)
	perf := g.Mul(decimal.NewFromFloat(performanceFeePct)).Div(decimal.NewFromInt(100))
	net := g.Sub(perf).Sub(decimal.NewFromFloat(managementFeePct))
	return round(net, n.cfg.APYDecimals)
}

// Interpolate estimates the value at target from the two samples around it.
// Outside the sampled range the nearest edge segment is extrapolated.
func (n *Normalizer) Interpolate(samples []Sample, target time.Time) float64 {
	switch len(samples) {
	case 0:
		return 0
	case 1:
		return samples[0].Value
	}
	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	last := len(sorted) - 1
	before, after := sorted[0], sorted[1]
	if target.After(sorted[last].Timestamp) {
		before, after = sorted[last-1], sorted[last]
	}
	for i := 0; i < last; i++ {
		if !sorted[i].Timestamp.After(target) && !sorted[i+1].Timestamp.Before(target) {
			before, after = sorted[i], sorted[i+1]
			break
		}
	}
	total := after.Timestamp.Sub(before.Timestamp)
	if total <= 0 {
		return before.Value
	}
	weight := float64(target.Sub(before.Timestamp)) / float64(total)
	return before.Value + (after.Value-before.Value)*weight
}

// DetectAnomaly scores current against the population standard deviation of
// historical. A flat history cannot be scored and never flags.
func (n *Normalizer) DetectAnomaly(current float64, historical []float64, threshold float64) Anomaly {
	if len(historical) == 0 {
		return Anomaly{}
	}
	if threshold <= 0 {
		threshold = DefaultAnomalyThreshold
	}
	var sum float64
	for _, v := range historical {
		sum += v
	}
	mean := sum / float64(len(historical))
	var variance float64
	for _, v := range historical {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(historical))
	std := math.Sqrt(variance)
	if std == 0 {
		return Anomaly{}
	}
	z := math.Abs(current-mean) / std
	if z <= threshold {
		return Anomaly{ZScore: z}
	}
	change := 0.0
	if mean != 0 {
		change = (current - mean) / mean * 100
	}
	return Anomaly{
		IsAnomaly: true,
		ZScore:    z,
		Reason:    fmt.Sprintf("Value deviated %.2f%% from mean (%d sigma)", change, int(math.Round(z))),
	}
}
