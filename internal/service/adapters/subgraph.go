package adapters

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"FinGate/internal/domain/models"
	"FinGate/pkg/config"
	pkghttp "FinGate/pkg/http"
	"FinGate/pkg/logger"
)

const reservesQuery = `query Reserves($symbols: [String!]) {
  reserves(where: {symbol_in: $symbols}) {
    id
    symbol
    decimals
    liquidityRate
    variableBorrowRate
    utilizationRate
    totalLiquidityUSD
  }
}`

const allReservesQuery = `{
  reserves(first: 100) {
    id
    symbol
    decimals
    liquidityRate
    variableBorrowRate
    utilizationRate
    totalLiquidityUSD
  }
}`

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type reserve struct {
	ID                 string `json:"id"`
	Symbol             string `json:"symbol"`
	Decimals           int    `json:"decimals"`
	LiquidityRate      string `json:"liquidityRate"`
	VariableBorrowRate string `json:"variableBorrowRate"`
	UtilizationRate    string `json:"utilizationRate"`
	TotalLiquidityUSD  string `json:"totalLiquidityUSD"`
}

type reservesResponse struct {
	Data struct {
		Reserves []reserve `json:"reserves"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

// Subgraph reads lending reserves of one protocol from a GraphQL endpoint.
// Rates come back in ray units and are passed through as such.
type Subgraph struct {
	base
	url      string
	protocol string
	chain    string
}

func NewSubgraph(name string, cfg config.AdapterConfig, log *logger.Logger, hc *pkghttp.Client) *Subgraph {
	protocol := cfg.Protocol
	if protocol == "" {
		protocol = "moola"
	}
	return &Subgraph{
		base:     newBase(name, cfg, 0.90, log, hc),
		url:      cfg.BaseURL,
		protocol: protocol,
		chain:    "celo",
	}
}

func (s *Subgraph) Fetch(ctx context.Context, dt models.DataType, p models.FetchParams) ([]models.NormalizedData, error) {
	if dt != models.DataTypeAPY && dt != models.DataTypeLiquidity {
		return nil, s.unsupported(dt)
	}
	if p.Protocol != "" && !strings.EqualFold(p.Protocol, s.protocol) {
		return nil, s.fail(dt, fmt.Errorf("%w: protocol %s not indexed", models.ErrNoData, p.Protocol))
	}
	if p.Chain != "" && !strings.EqualFold(p.Chain, s.chain) {
		return nil, s.fail(dt, fmt.Errorf("%w: chain %s not indexed", models.ErrNoData, p.Chain))
	}

	symbols := p.Assets
	if p.Symbol != "" && !containsFold(symbols, p.Symbol) {
		symbols = append([]string{p.Symbol}, symbols...)
	}
	key := string(dt) + ":" + strings.ToLower(strings.Join(symbols, ","))
	if data, ok := s.cached(key); ok {
		return data, nil
	}

	reserves, err := s.reserves(ctx, dt, symbols)
	if err != nil {
		return nil, err
	}

	out := make([]models.NormalizedData, 0, len(reserves))
	for _, r := range reserves {
		if len(p.Pools) > 0 && !containsFold(p.Pools, r.ID) {
			continue
		}
		asset := models.Asset{Symbol: r.Symbol, Chain: s.chain, Address: r.ID}
		switch dt {
		case models.DataTypeAPY:
			supply, err := strconv.ParseFloat(r.LiquidityRate, 64)
			if err != nil {
				s.log.Warn("skipping reserve with bad liquidity rate", logger.String("reserve", r.ID), logger.Error(err))
				continue
			}
			rec := s.record(dt, asset, supply)
			rec.Metadata["supplyAPY"] = supply
			if borrow, err := strconv.ParseFloat(r.VariableBorrowRate, 64); err == nil {
				rec.Metadata["borrowAPY"] = borrow
			}
			if u, err := strconv.ParseFloat(r.UtilizationRate, 64); err == nil {
				rec.Metadata["utilizationRate"] = u
			}
			rec.Metadata["protocol"] = s.protocol
			out = append(out, rec)
		case models.DataTypeLiquidity:
			usd, err := strconv.ParseFloat(r.TotalLiquidityUSD, 64)
			if err != nil {
				continue
			}
			rec := s.record(dt, asset, usd)
			rec.Metadata["protocol"] = s.protocol
			out = append(out, rec)
		}
	}
	if len(out) == 0 {
		return nil, s.fail(dt, fmt.Errorf("%w: no reserves for %s", models.ErrNoData, p.Label()))
	}
	s.remember(key, out)
	return out, nil
}

func (s *Subgraph) reserves(ctx context.Context, dt models.DataType, symbols []string) ([]reserve, error) {
	req := graphQLRequest{Query: allReservesQuery}
	if len(symbols) > 0 {
		upper := make([]string, len(symbols))
		for i, sym := range symbols {
			upper[i] = strings.ToUpper(sym)
		}
		req = graphQLRequest{Query: reservesQuery, Variables: map[string]any{"symbols": upper}}
	}
	var resp reservesResponse
	if err := s.postJSON(ctx, s.url, req, &resp); err != nil {
		return nil, s.fail(dt, err)
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, len(resp.Errors))
		for i, e := range resp.Errors {
			msgs[i] = e.Message
		}
		return nil, s.fail(dt, errors.New("graphql: "+strings.Join(msgs, "; ")))
	}
	return resp.Data.Reserves, nil
}
