package cache

import (
	"strings"
	"time"

	"FinGate/internal/domain/models"
	pkgcache "FinGate/pkg/cache"
)

// DefaultTTL applies to data types missing from the policy.
const DefaultTTL = 300 * time.Second

// TTLPolicy resolves the freshness window of a data type.
type TTLPolicy map[models.DataType]time.Duration

func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		models.DataTypePrice:       60 * time.Second,
		models.DataTypeLiquidity:   300 * time.Second,
		models.DataTypeAPY:         3600 * time.Second,
		models.DataTypeRisk:        7200 * time.Second,
		models.DataTypeTVL:         600 * time.Second,
		models.DataTypeBalance:     120 * time.Second,
		models.DataTypeTransaction: 3600 * time.Second,
	}
}

// Merge returns a copy of p with overrides applied. Non-positive overrides are ignored.
func (p TTLPolicy) Merge(overrides map[models.DataType]time.Duration) TTLPolicy {
	out := make(TTLPolicy, len(p)+len(overrides))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range overrides {
		if v > 0 {
			out[k] = v
		}
	}
	return out
}

func (p TTLPolicy) For(dt models.DataType) time.Duration {
	if ttl, ok := p[dt]; ok && ttl > 0 {
		return ttl
	}
	return DefaultTTL
}

// Max is the longest window in the policy, never below DefaultTTL.
func (p TTLPolicy) Max() time.Duration {
	m := DefaultTTL
	for _, v := range p {
		if v > m {
			m = v
		}
	}
	return m
}

// BuildKey renders dataType:symbol:protocol:chain:poolAddress in lower case,
// skipping absent parts.
func BuildKey(dt models.DataType, p models.FetchParams) string {
	return pkgcache.GenerateKey(string(dt), p.Symbol, p.Protocol, p.Chain, p.PoolAddress)
}

func typePattern(dt models.DataType) string {
	return pkgcache.BuildPattern(strings.ToLower(string(dt)) + ":")
}

// assetPatterns matches symbol only in the segment right after the data
// type, so "celo" never hits a key whose chain is celo.
func assetPatterns(symbol string) []string {
	s := pkgcache.EscapeGlob(strings.ToLower(strings.TrimSpace(symbol)))
	if s == "" {
		return nil
	}
	types := models.DataTypes()
	out := make([]string, 0, 2*len(types))
	for _, dt := range types {
		exact := string(dt) + ":" + s
		out = append(out, exact, pkgcache.BuildPattern(exact+":"))
	}
	return out
}
