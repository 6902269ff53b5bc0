package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"FinGate/internal/domain/models"
	"FinGate/internal/service/normalizer"
	"FinGate/pkg/config"
	pkghttp "FinGate/pkg/http"
	"FinGate/pkg/logger"
)

const (
	defiLlamaBaseURL   = "https://api.llama.fi"
	defiLlamaYieldsURL = "https://yields.llama.fi"
	poolsCacheKey      = "yields:pools"
)

type llamaPool struct {
	Pool      string   `json:"pool"`
	Chain     string   `json:"chain"`
	Project   string   `json:"project"`
	Symbol    string   `json:"symbol"`
	TVLUsd    float64  `json:"tvlUsd"`
	APY       *float64 `json:"apy"`
	APYBase   *float64 `json:"apyBase"`
	APYReward *float64 `json:"apyReward"`
}

type llamaPools struct {
	Status string      `json:"status"`
	Data   []llamaPool `json:"data"`
}

type llamaProtocol struct {
	Name             string             `json:"name"`
	Category         string             `json:"category"`
	Audits           string             `json:"audits"`
	AuditLinks       []string           `json:"audit_links"`
	CurrentChainTVLs map[string]float64 `json:"currentChainTvls"`
}

// DefiLlama covers protocol TVL, pool liquidity, pool yields and a
// heuristic protocol risk score.
type DefiLlama struct {
	base
	baseURL   string
	yieldsURL string
}

func NewDefiLlama(name string, cfg config.AdapterConfig, log *logger.Logger, hc *pkghttp.Client) *DefiLlama {
	baseURL, yieldsURL := cfg.BaseURL, cfg.SecondaryURL
	if baseURL == "" {
		baseURL = defiLlamaBaseURL
	}
	if yieldsURL == "" {
		yieldsURL = defiLlamaYieldsURL
	}
	return &DefiLlama{
		base:      newBase(name, cfg, 0.85, log, hc),
		baseURL:   strings.TrimRight(baseURL, "/"),
		yieldsURL: strings.TrimRight(yieldsURL, "/"),
	}
}

func (d *DefiLlama) Fetch(ctx context.Context, dt models.DataType, p models.FetchParams) ([]models.NormalizedData, error) {
	switch dt {
	case models.DataTypeTVL:
		return d.tvl(ctx, p)
	case models.DataTypeLiquidity, models.DataTypeAPY:
		return d.pools(ctx, dt, p)
	case models.DataTypeRisk:
		return d.risk(ctx, p)
	}
	return nil, d.unsupported(dt)
}

func (d *DefiLlama) tvl(ctx context.Context, p models.FetchParams) ([]models.NormalizedData, error) {
	dt := models.DataTypeTVL
	slug := p.Protocol
	if slug == "" {
		slug = p.Symbol
	}
	if slug == "" {
		return nil, d.missing(dt, "protocol")
	}
	key := "tvl:" + slug
	if data, ok := d.cached(key); ok {
		return data, nil
	}
	// the endpoint answers with a bare JSON number
	var body json.Number
	if err := d.getJSON(ctx, d.baseURL+"/tvl/"+slug, nil, nil, &body); err != nil {
		return nil, d.fail(dt, err)
	}
	v, err := body.Float64()
	if err != nil {
		return nil, d.fail(dt, fmt.Errorf("parse tvl: %w", err))
	}
	rec := d.record(dt, models.Asset{Symbol: slug, Chain: p.Chain}, v)
	rec.Metadata["protocol"] = slug
	data := []models.NormalizedData{rec}
	d.remember(key, data)
	return data, nil
}

func (d *DefiLlama) loadPools(ctx context.Context, dt models.DataType) ([]llamaPool, error) {
	if v, ok := d.local.Get(poolsCacheKey); ok {
		if pools, ok := v.([]llamaPool); ok {
			return pools, nil
		}
	}
	var resp llamaPools
	if err := d.getJSON(ctx, d.yieldsURL+"/pools", nil, nil, &resp); err != nil {
		return nil, d.fail(dt, err)
	}
	if resp.Status != "" && resp.Status != "success" {
		return nil, d.fail(dt, fmt.Errorf("pools status %q", resp.Status))
	}
	d.local.Set(poolsCacheKey, resp.Data, 0)
	return resp.Data, nil
}

func (d *DefiLlama) pools(ctx context.Context, dt models.DataType, p models.FetchParams) ([]models.NormalizedData, error) {
	if p.Protocol == "" {
		return nil, d.missing(dt, "protocol")
	}
	pools, err := d.loadPools(ctx, dt)
	if err != nil {
		return nil, err
	}

	wantPools := p.Pools
	if p.PoolAddress != "" && !containsFold(wantPools, p.PoolAddress) {
		wantPools = append([]string{p.PoolAddress}, wantPools...)
	}
	wantAssets := p.Assets
	if p.Symbol != "" && !containsFold(wantAssets, p.Symbol) {
		wantAssets = append([]string{p.Symbol}, wantAssets...)
	}

	var out []models.NormalizedData
	for _, pool := range pools {
		if !strings.EqualFold(pool.Project, p.Protocol) {
			continue
		}
		if p.Chain != "" && !strings.EqualFold(pool.Chain, p.Chain) {
			continue
		}
		if len(wantPools) > 0 && !containsFold(wantPools, pool.Pool) {
			continue
		}
		if len(wantAssets) > 0 && !poolHasAsset(pool.Symbol, wantAssets) {
			continue
		}

		asset := models.Asset{Symbol: pool.Symbol, Chain: pool.Chain, Address: pool.Pool}
		var rec models.NormalizedData
		if dt == models.DataTypeLiquidity {
			rec = d.record(dt, asset, pool.TVLUsd)
		} else {
			if pool.APY == nil {
				continue
			}
			rec = d.record(dt, asset, *pool.APY)
			rec.Metadata[normalizer.MetaAPYFormat] = normalizer.FormatPercentage
			if pool.APYBase != nil {
				rec.Metadata["apyBase"] = *pool.APYBase
			}
			if pool.APYReward != nil {
				rec.Metadata["apyReward"] = *pool.APYReward
			}
			rec.Metadata["tvlUsd"] = pool.TVLUsd
		}
		rec.Metadata["protocol"] = pool.Project
		rec.Metadata["pool"] = pool.Pool
		out = append(out, rec)
	}
	if len(out) == 0 {
		return nil, d.fail(dt, fmt.Errorf("%w: no %s pools for %s", models.ErrNoData, p.Protocol, p.Label()))
	}
	return out, nil
}

// poolHasAsset matches one leg of a pool symbol such as "CELO-CUSD".
func poolHasAsset(poolSymbol string, assets []string) bool {
	for _, leg := range strings.FieldsFunc(poolSymbol, func(r rune) bool { return r == '-' || r == '/' || r == '_' }) {
		if containsFold(assets, leg) {
			return true
		}
	}
	return false
}

func (d *DefiLlama) risk(ctx context.Context, p models.FetchParams) ([]models.NormalizedData, error) {
	dt := models.DataTypeRisk
	if p.Protocol == "" {
		return nil, d.missing(dt, "protocol")
	}
	key := "risk:" + p.Protocol
	if data, ok := d.cached(key); ok {
		return data, nil
	}
	var proto llamaProtocol
	if err := d.getJSON(ctx, d.baseURL+"/protocol/"+p.Protocol, nil, nil, &proto); err != nil {
		return nil, d.fail(dt, err)
	}

	var tvl float64
	for chain, v := range proto.CurrentChainTVLs {
		// borrowed, staking and pool2 are reported alongside per chain totals
		if strings.Contains(chain, "-") || chain == "borrowed" || chain == "staking" || chain == "pool2" {
			continue
		}
		tvl += v
	}
	audits, _ := strconv.Atoi(proto.Audits)
	if audits == 0 {
		audits = len(proto.AuditLinks)
	}

	score := protocolRisk(tvl, audits)
	rec := d.record(dt, models.Asset{Symbol: p.Protocol}, score)
	rec.Metadata["protocol"] = p.Protocol
	rec.Metadata["tvl"] = tvl
	rec.Metadata["audits"] = audits
	if proto.Category != "" {
		rec.Metadata["category"] = proto.Category
	}
	data := []models.NormalizedData{rec}
	d.remember(key, data)
	return data, nil
}

// protocolRisk returns a 0-1 score; larger and audited protocols score lower.
func protocolRisk(tvl float64, audits int) float64 {
	score := 0.5
	switch {
	case tvl >= 1e9:
		score -= 0.25
	case tvl >= 1e8:
		score -= 0.15
	case tvl >= 1e7:
		score -= 0.05
	case tvl < 1e6:
		score += 0.2
	}
	switch {
	case audits >= 2:
		score -= 0.15
	case audits == 1:
		score -= 0.1
	default:
		score += 0.15
	}
	return math.Round(math.Max(0.01, math.Min(1, score))*100) / 100
}
