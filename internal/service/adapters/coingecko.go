package adapters

import (
	"context"
	"fmt"
	"strings"

	"FinGate/internal/domain/models"
	"FinGate/pkg/config"
	pkghttp "FinGate/pkg/http"
	"FinGate/pkg/logger"
)

const coinGeckoBaseURL = "https://api.coingecko.com/api/v3"

var defaultCoinIDs = map[string]string{
	"CELO": "celo",
	"CUSD": "celo-dollar",
	"CEUR": "celo-euro",
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"USDC": "usd-coin",
	"USDT": "tether",
	"DAI":  "dai",
}

// CoinGecko serves spot USD prices from the simple/price endpoint.
type CoinGecko struct {
	base
	baseURL string
	apiKey  string
	ids     map[string]string
}

func NewCoinGecko(name string, cfg config.AdapterConfig, log *logger.Logger, hc *pkghttp.Client) *CoinGecko {
	ids := make(map[string]string, len(defaultCoinIDs)+len(cfg.SymbolIDs))
	for k, v := range defaultCoinIDs {
		ids[k] = v
	}
	for k, v := range cfg.SymbolIDs {
		ids[strings.ToUpper(k)] = v
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = coinGeckoBaseURL
	}
	return &CoinGecko{
		base:    newBase(name, cfg, 0.95, log, hc),
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  cfg.APIKey,
		ids:     ids,
	}
}

func (c *CoinGecko) coinID(symbol string) string {
	if id, ok := c.ids[strings.ToUpper(symbol)]; ok {
		return id
	}
	return strings.ToLower(symbol)
}

func (c *CoinGecko) Fetch(ctx context.Context, dt models.DataType, p models.FetchParams) ([]models.NormalizedData, error) {
	if dt != models.DataTypePrice {
		return nil, c.unsupported(dt)
	}
	if p.Symbol == "" {
		return nil, c.missing(dt, "symbol")
	}
	id := c.coinID(p.Symbol)
	key := "price:" + id
	if data, ok := c.cached(key); ok {
		return withChain(data, p.Chain), nil
	}

	headers := map[string]string{}
	if c.apiKey != "" {
		headers["x-cg-pro-api-key"] = c.apiKey
	}
	var resp map[string]map[string]float64
	err := c.getJSON(ctx, c.baseURL+"/simple/price", map[string][]string{
		"ids":                 {id},
		"vs_currencies":       {"usd"},
		"include_24hr_change": {"true"},
	}, headers, &resp)
	if err != nil {
		return nil, c.fail(dt, err)
	}
	quote, ok := resp[id]
	if !ok {
		return nil, c.fail(dt, fmt.Errorf("no quote for %s", id))
	}
	price, ok := quote["usd"]
	if !ok {
		return nil, c.fail(dt, fmt.Errorf("no usd quote for %s", id))
	}

	rec := c.record(dt, models.Asset{Symbol: p.Symbol}, price)
	rec.Metadata["coinId"] = id
	if ch, ok := quote["usd_24h_change"]; ok {
		rec.Metadata["change24h"] = ch
	}
	data := []models.NormalizedData{rec}
	c.remember(key, data)
	return withChain(data, p.Chain), nil
}

// withChain stamps the requested chain on cached chain-agnostic records.
func withChain(data []models.NormalizedData, chain string) []models.NormalizedData {
	if chain == "" {
		return data
	}
	out := make([]models.NormalizedData, len(data))
	for i, d := range data {
		d.Asset.Chain = chain
		d.Metadata = d.Metadata.Clone()
		out[i] = d
	}
	return out
}
