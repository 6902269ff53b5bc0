package models

import "strings"

// FetchParams describes one item handed to an adapter. Only Symbol, Protocol,
// Chain and PoolAddress take part in the cache key.
type FetchParams struct {
	Symbol        string   `json:"symbol,omitempty"`
	Protocol      string   `json:"protocol,omitempty"`
	Chain         string   `json:"chain,omitempty"`
	PoolAddress   string   `json:"poolAddress,omitempty"`
	Chains        []string `json:"chains,omitempty"`
	Assets        []string `json:"assets,omitempty"`
	Pools         []string `json:"pools,omitempty"`
	Address       string   `json:"address,omitempty"`
	TokenAddress  string   `json:"tokenAddress,omitempty"`
	TokenDecimals int      `json:"tokenDecimals,omitempty"`
	TxHash        string   `json:"txHash,omitempty"`
	Source        string   `json:"source,omitempty"`
}

// Label is a short human readable identifier used in logs and error maps.
func (p FetchParams) Label() string {
	parts := make([]string, 0, 4)
	for _, s := range []string{p.Symbol, p.Protocol, p.Chain, p.PoolAddress, p.Address, p.TxHash} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return "*"
	}
	return strings.Join(parts, "/")
}

// Item is one independent unit of work inside a request.
type Item struct {
	DataType DataType
	Params   FetchParams
}

// ItemRequest is implemented by every typed data request.
type ItemRequest interface {
	Items() []Item
}

type PriceRequest struct {
	Symbols []string `query:"symbols" json:"symbols" validate:"required,min=1,max=100,dive,required"`
	Chains  []string `query:"chains" json:"chains,omitempty" validate:"omitempty,max=10,dive,required"`
	Source  string   `query:"source" json:"source,omitempty"`
}

// Items expands symbols across the requested chains.
func (r PriceRequest) Items() []Item {
	items := make([]Item, 0, len(r.Symbols)*max(1, len(r.Chains)))
	for _, sym := range r.Symbols {
		if len(r.Chains) == 0 {
			items = append(items, Item{DataType: DataTypePrice, Params: FetchParams{Symbol: sym, Source: r.Source}})
			continue
		}
		for _, ch := range r.Chains {
			items = append(items, Item{DataType: DataTypePrice, Params: FetchParams{Symbol: sym, Chain: ch, Source: r.Source}})
		}
	}
	return items
}

type LiquidityRequest struct {
	Pools     []string `query:"pools" json:"pools,omitempty"`
	Protocols []string `query:"protocols" json:"protocols" validate:"required,min=1,max=50,dive,required"`
	Chain     string   `query:"chain" json:"chain,omitempty"`
	Source    string   `query:"source" json:"source,omitempty"`
}

func (r LiquidityRequest) Items() []Item {
	items := make([]Item, 0, len(r.Protocols))
	for _, p := range r.Protocols {
		params := FetchParams{Protocol: p, Chain: r.Chain, Pools: r.Pools, Source: r.Source}
		if len(r.Pools) == 1 {
			params.PoolAddress = r.Pools[0]
		}
		items = append(items, Item{DataType: DataTypeLiquidity, Params: params})
	}
	return items
}

type APYRequest struct {
	Protocols []string `query:"protocols" json:"protocols" validate:"required,min=1,max=50,dive,required"`
	Assets    []string `query:"assets" json:"assets,omitempty"`
	Chain     string   `query:"chain" json:"chain,omitempty"`
	Source    string   `query:"source" json:"source,omitempty"`
}

func (r APYRequest) Items() []Item {
	items := make([]Item, 0, len(r.Protocols))
	for _, p := range r.Protocols {
		params := FetchParams{Protocol: p, Chain: r.Chain, Assets: r.Assets, Source: r.Source}
		if len(r.Assets) == 1 {
			params.Symbol = r.Assets[0]
		}
		items = append(items, Item{DataType: DataTypeAPY, Params: params})
	}
	return items
}

type RiskRequest struct {
	Protocols []string `query:"protocols" json:"protocols" validate:"required,min=1,max=50,dive,required"`
	Source    string   `query:"source" json:"source,omitempty"`
}

func (r RiskRequest) Items() []Item {
	items := make([]Item, 0, len(r.Protocols))
	for _, p := range r.Protocols {
		items = append(items, Item{DataType: DataTypeRisk, Params: FetchParams{Protocol: p, Source: r.Source}})
	}
	return items
}

// TVLRequest asks for protocol level total value locked, optionally for one
// chain only.
type TVLRequest struct {
	Protocols []string `query:"protocols" json:"protocols" validate:"required,min=1,max=50,dive,required"`
	Chain     string   `query:"chain" json:"chain,omitempty"`
	Source    string   `query:"source" json:"source,omitempty"`
}

func (r TVLRequest) Items() []Item {
	items := make([]Item, 0, len(r.Protocols))
	for _, p := range r.Protocols {
		items = append(items, Item{DataType: DataTypeTVL, Params: FetchParams{Protocol: p, Chain: r.Chain, Source: r.Source}})
	}
	return items
}

type BalanceRequest struct {
	Address       string `query:"address" json:"address" validate:"required,startswith=0x,len=42"`
	Chain         string `query:"chain" json:"chain" default:"celo"`
	TokenAddress  string `query:"token" json:"tokenAddress,omitempty" validate:"omitempty,startswith=0x,len=42"`
	Symbol        string `query:"symbol" json:"symbol,omitempty"`
	TokenDecimals int    `query:"decimals" json:"tokenDecimals" default:"18" validate:"gte=0,lte=36"`
}

// Items keys balances by holder address; the token symbol rides along in Assets.
func (r BalanceRequest) Items() []Item {
	var assets []string
	if r.Symbol != "" {
		assets = []string{r.Symbol}
	}
	return []Item{{DataType: DataTypeBalance, Params: FetchParams{
		Symbol:        r.Address,
		Assets:        assets,
		Chain:         r.Chain,
		PoolAddress:   r.TokenAddress,
		Address:       r.Address,
		TokenAddress:  r.TokenAddress,
		TokenDecimals: r.TokenDecimals,
	}}}
}

type TransactionRequest struct {
	TxHash string `query:"hash" json:"txHash" validate:"required,startswith=0x,len=66"`
	Chain  string `query:"chain" json:"chain" default:"celo"`
}

func (r TransactionRequest) Items() []Item {
	return []Item{{DataType: DataTypeTransaction, Params: FetchParams{
		Symbol: r.TxHash,
		Chain:  r.Chain,
		TxHash: r.TxHash,
	}}}
}

// InvalidateRequest selects cache entries. Precedence: Pattern, DataType,
// Source, Symbol. An empty request clears everything.
type InvalidateRequest struct {
	Pattern  string `query:"pattern" json:"pattern,omitempty"`
	DataType string `query:"dataType" json:"dataType,omitempty" validate:"omitempty,oneof=price liquidity apy tvl balance risk transaction"`
	Source   string `query:"source" json:"source,omitempty"`
	Symbol   string `query:"symbol" json:"symbol,omitempty"`
}

// InterpolateRequest asks for a value at an arbitrary instant from history.
type InterpolateRequest struct {
	DataType string `query:"dataType" json:"dataType" default:"price" validate:"oneof=price liquidity apy tvl risk"`
	Symbol   string `query:"symbol" json:"symbol" validate:"required"`
	At       string `query:"at" json:"at" validate:"required"`
	Window   int    `query:"n" json:"n" default:"200" validate:"gte=2,lte=5000"`
}
