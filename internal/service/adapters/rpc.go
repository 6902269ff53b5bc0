package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync/atomic"
	"time"

	"FinGate/internal/domain/models"
	"FinGate/pkg/config"
	pkghttp "FinGate/pkg/http"
	"FinGate/pkg/logger"
)

const (
	selectorBalanceOf = "0x70a08231"
	selectorSlot0     = "0x3850c7bd"
	defaultChain      = "celo"
	nativeDecimals    = 18
)

var nativeSymbols = map[string]string{
	"celo":     "CELO",
	"ethereum": "ETH",
	"polygon":  "MATIC",
	"arbitrum": "ETH",
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcTx struct {
	Hash        string `json:"hash"`
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	BlockNumber string `json:"blockNumber"`
	Nonce       string `json:"nonce"`
}

type rpcReceipt struct {
	Status  string `json:"status"`
	GasUsed string `json:"gasUsed"`
}

type rpcBlock struct {
	Timestamp string `json:"timestamp"`
}

// RPC talks JSON-RPC to EVM nodes for balances, pool spot prices and
// transaction lookups.
type RPC struct {
	base
	urls map[string]string
	seq  atomic.Uint64
}

func NewRPC(name string, cfg config.AdapterConfig, log *logger.Logger, hc *pkghttp.Client) *RPC {
	urls := make(map[string]string, len(cfg.RPCURLs)+1)
	for k, v := range cfg.RPCURLs {
		urls[strings.ToLower(k)] = v
	}
	if _, ok := urls[defaultChain]; !ok && cfg.BaseURL != "" {
		urls[defaultChain] = cfg.BaseURL
	}
	return &RPC{base: newBase(name, cfg, 0.99, log, hc), urls: urls}
}

func (r *RPC) Fetch(ctx context.Context, dt models.DataType, p models.FetchParams) ([]models.NormalizedData, error) {
	switch dt {
	case models.DataTypeBalance:
		return r.balance(ctx, p)
	case models.DataTypePrice:
		return r.poolPrice(ctx, p)
	case models.DataTypeTransaction:
		return r.transaction(ctx, p)
	}
	return nil, r.unsupported(dt)
}

func (r *RPC) chain(p models.FetchParams) string {
	if p.Chain == "" {
		return defaultChain
	}
	return strings.ToLower(p.Chain)
}

func (r *RPC) call(ctx context.Context, dt models.DataType, chain, method string, params []any, dest any) error {
	url, ok := r.urls[chain]
	if !ok {
		return r.fail(dt, fmt.Errorf("no rpc endpoint for chain %s", chain))
	}
	req := rpcRequest{JSONRPC: "2.0", ID: r.seq.Add(1), Method: method, Params: params}
	var resp rpcResponse
	if err := r.postJSON(ctx, url, req, &resp); err != nil {
		return r.fail(dt, err)
	}
	if resp.Error != nil {
		return r.fail(dt, resp.Error)
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, dest); err != nil {
		return r.fail(dt, fmt.Errorf("%s result: %w", method, err))
	}
	return nil
}

func (r *RPC) balance(ctx context.Context, p models.FetchParams) ([]models.NormalizedData, error) {
	dt := models.DataTypeBalance
	holder := p.Address
	if holder == "" {
		holder = p.Symbol
	}
	if !isHexAddress(holder) {
		return nil, r.missing(dt, "address")
	}
	chain := r.chain(p)

	var raw string
	decimals := p.TokenDecimals
	symbol := nativeSymbols[chain]
	if len(p.Assets) > 0 {
		symbol = p.Assets[0]
	}
	if p.TokenAddress == "" {
		if decimals == 0 {
			decimals = nativeDecimals
		}
		if err := r.call(ctx, dt, chain, "eth_getBalance", []any{holder, "latest"}, &raw); err != nil {
			return nil, err
		}
	} else {
		if !isHexAddress(p.TokenAddress) {
			return nil, r.missing(dt, "tokenAddress")
		}
		call := map[string]string{"to": p.TokenAddress, "data": selectorBalanceOf + padAddress(holder)}
		if err := r.call(ctx, dt, chain, "eth_call", []any{call, "latest"}, &raw); err != nil {
			return nil, err
		}
	}
	wei, err := hexToBig(raw)
	if err != nil {
		return nil, r.fail(dt, err)
	}

	rec := r.record(dt, models.Asset{Symbol: symbol, Chain: chain, Address: holder}, wei.String())
	rec.Metadata["tokenDecimals"] = decimals
	rec.Metadata["holder"] = holder
	if p.TokenAddress != "" {
		rec.Metadata["token"] = p.TokenAddress
	}
	return []models.NormalizedData{rec}, nil
}

// poolPrice derives token1/token0 from a concentrated liquidity pool's slot0.
func (r *RPC) poolPrice(ctx context.Context, p models.FetchParams) ([]models.NormalizedData, error) {
	dt := models.DataTypePrice
	if !isHexAddress(p.PoolAddress) {
		return nil, r.missing(dt, "poolAddress")
	}
	chain := r.chain(p)
	key := "slot0:" + chain + ":" + strings.ToLower(p.PoolAddress)
	if data, ok := r.cached(key); ok {
		return data, nil
	}

	var raw string
	call := map[string]string{"to": p.PoolAddress, "data": selectorSlot0}
	if err := r.call(ctx, dt, chain, "eth_call", []any{call, "latest"}, &raw); err != nil {
		return nil, err
	}
	hex := strings.TrimPrefix(raw, "0x")
	if len(hex) < 64 {
		return nil, r.fail(dt, fmt.Errorf("slot0 result too short: %d", len(hex)))
	}
	sqrtPrice, err := hexToBig("0x" + hex[:64])
	if err != nil {
		return nil, r.fail(dt, err)
	}
	price := sqrtPriceToPrice(sqrtPrice)
	if price <= 0 {
		return nil, r.fail(dt, fmt.Errorf("%w: empty pool %s", models.ErrNoData, p.PoolAddress))
	}

	rec := r.record(dt, models.Asset{Symbol: p.Symbol, Chain: chain, Address: p.PoolAddress}, price)
	rec.Metadata["pool"] = p.PoolAddress
	rec.Metadata["sqrtPriceX96"] = sqrtPrice.String()
	data := []models.NormalizedData{rec}
	r.remember(key, data)
	return data, nil
}

func sqrtPriceToPrice(sqrtPriceX96 *big.Int) float64 {
	q96 := new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 96))
	ratio := new(big.Float).Quo(new(big.Float).SetInt(sqrtPriceX96), q96)
	f, _ := new(big.Float).Mul(ratio, ratio).Float64()
	return f
}

func (r *RPC) transaction(ctx context.Context, p models.FetchParams) ([]models.NormalizedData, error) {
	dt := models.DataTypeTransaction
	hash := p.TxHash
	if hash == "" {
		hash = p.Symbol
	}
	if !strings.HasPrefix(hash, "0x") || len(hash) != 66 {
		return nil, r.missing(dt, "txHash")
	}
	chain := r.chain(p)

	var tx *rpcTx
	if err := r.call(ctx, dt, chain, "eth_getTransactionByHash", []any{hash}, &tx); err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, r.fail(dt, fmt.Errorf("%w: transaction %s not found", models.ErrNoData, hash))
	}
	value, err := hexToBig(tx.Value)
	if err != nil {
		return nil, r.fail(dt, err)
	}

	rec := r.record(dt, models.Asset{Symbol: hash, Chain: chain}, value.String())
	rec.Metadata["from"] = tx.From
	rec.Metadata["to"] = tx.To
	rec.Metadata["status"] = "pending"

	if tx.BlockNumber != "" {
		if n, err := hexToBig(tx.BlockNumber); err == nil {
			rec.Metadata["blockNumber"] = n.Int64()
		}
		var receipt *rpcReceipt
		if err := r.call(ctx, dt, chain, "eth_getTransactionReceipt", []any{hash}, &receipt); err != nil {
			return nil, err
		}
		if receipt != nil {
			rec.Metadata["status"] = "failed"
			if receipt.Status == "0x1" {
				rec.Metadata["status"] = "success"
			}
			if gas, err := hexToBig(receipt.GasUsed); err == nil {
				rec.Metadata["gasUsed"] = gas.String()
			}
		}
		var block *rpcBlock
		if err := r.call(ctx, dt, chain, "eth_getBlockByNumber", []any{tx.BlockNumber, false}, &block); err == nil && block != nil {
			if ts, err := hexToBig(block.Timestamp); err == nil {
				rec.Metadata["transactionTimestamp"] = time.Unix(ts.Int64(), 0).UTC().Format(time.RFC3339)
			}
		}
	}
	return []models.NormalizedData{rec}, nil
}

func hexToBig(s string) (*big.Int, error) {
	h := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if h == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(h, 16)
	if !ok {
		return nil, errors.New("invalid hex quantity " + s)
	}
	return n, nil
}

func padAddress(addr string) string {
	return strings.Repeat("0", 24) + strings.ToLower(strings.TrimPrefix(addr, "0x"))
}

func isHexAddress(s string) bool {
	if len(s) != 42 || !strings.HasPrefix(s, "0x") {
		return false
	}
	for _, c := range s[2:] {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
