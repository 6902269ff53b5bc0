package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinGate/internal/domain/models"
	"FinGate/internal/service/normalizer"
	"FinGate/pkg/config"
)

func adapterCfg(url string) config.AdapterConfig {
	return config.AdapterConfig{BaseURL: url, SecondaryURL: url, Timeout: 2 * time.Second, CacheTTL: time.Minute}
}

func TestCoinGecko_FetchAndCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/simple/price", r.URL.Path)
		assert.Equal(t, "celo-dollar", r.URL.Query().Get("ids"))
		assert.Equal(t, "secret", r.Header.Get("x-cg-pro-api-key"))
		_, _ = io.WriteString(w, `{"celo-dollar":{"usd":0.9991,"usd_24h_change":-0.1}}`)
	}))
	defer srv.Close()

	cfg := adapterCfg(srv.URL)
	cfg.APIKey = "secret"
	cg := NewCoinGecko("coingecko", cfg, nil, nil)

	data, err := cg.Fetch(context.Background(), models.DataTypePrice, models.FetchParams{Symbol: "cUSD", Chain: "celo"})
	require.NoError(t, err)
	require.Len(t, data, 1)
	assert.Equal(t, 0.9991, data[0].Value)
	assert.Equal(t, "celo", data[0].Asset.Chain)
	assert.Equal(t, 0.95, data[0].Confidence())
	assert.Equal(t, "coingecko", data[0].Source)

	_, err = cg.Fetch(context.Background(), models.DataTypePrice, models.FetchParams{Symbol: "CUSD"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	cg.InvalidateCache()
	_, err = cg.Fetch(context.Background(), models.DataTypePrice, models.FetchParams{Symbol: "CUSD"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestCoinGecko_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()
	cg := NewCoinGecko("coingecko", adapterCfg(srv.URL), nil, nil)

	_, err := cg.Fetch(context.Background(), models.DataTypePrice, models.FetchParams{Symbol: "CELO"})
	var ae *models.AdapterError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusTooManyRequests, ae.StatusCode)
	assert.True(t, ae.Retriable())

	_, err = cg.Fetch(context.Background(), models.DataTypeAPY, models.FetchParams{Protocol: "moola"})
	assert.ErrorIs(t, err, models.ErrUnsupportedDataType)
	require.ErrorAs(t, err, &ae)
	assert.False(t, ae.Retriable())
}

const poolsFixture = `{"status":"success","data":[
 {"pool":"p1","chain":"Celo","project":"ubeswap","symbol":"CELO-CUSD","tvlUsd":1500000.5,"apy":12.5,"apyBase":10,"apyReward":2.5},
 {"pool":"p2","chain":"Celo","project":"ubeswap","symbol":"CEUR-CUSD","tvlUsd":200000,"apy":0.4},
 {"pool":"p3","chain":"Ethereum","project":"ubeswap","symbol":"ETH-USDC","tvlUsd":9,"apy":1},
 {"pool":"p4","chain":"Celo","project":"moola","symbol":"CELO","tvlUsd":5,"apy":null}
]}`

func llamaServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/tvl/ubeswap":
			_, _ = io.WriteString(w, "1234567.891")
		case r.URL.Path == "/pools":
			_, _ = io.WriteString(w, poolsFixture)
		case r.URL.Path == "/protocol/ubeswap":
			_, _ = io.WriteString(w, `{"name":"Ubeswap","category":"Dexes","audits":"2","currentChainTvls":{"Celo":150000000,"Celo-staking":10,"staking":10}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestDefiLlama_TVL(t *testing.T) {
	srv := llamaServer(t)
	defer srv.Close()
	d := NewDefiLlama("defillama", adapterCfg(srv.URL), nil, nil)

	data, err := d.Fetch(context.Background(), models.DataTypeTVL, models.FetchParams{Protocol: "ubeswap"})
	require.NoError(t, err)
	require.Len(t, data, 1)
	assert.Equal(t, 1234567.891, data[0].Value)

	_, err = d.Fetch(context.Background(), models.DataTypeTVL, models.FetchParams{Protocol: "missing"})
	var ae *models.AdapterError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusNotFound, ae.StatusCode)
	assert.False(t, ae.Retriable())
}

func TestDefiLlama_PoolFilters(t *testing.T) {
	srv := llamaServer(t)
	defer srv.Close()
	d := NewDefiLlama("defillama", adapterCfg(srv.URL), nil, nil)
	ctx := context.Background()

	liq, err := d.Fetch(ctx, models.DataTypeLiquidity, models.FetchParams{Protocol: "ubeswap", Chain: "celo"})
	require.NoError(t, err)
	require.Len(t, liq, 2)
	assert.Equal(t, 1500000.5, liq[0].Value)
	assert.Equal(t, "p1", liq[0].Asset.Address)

	apy, err := d.Fetch(ctx, models.DataTypeAPY, models.FetchParams{Protocol: "ubeswap", Symbol: "ceur"})
	require.NoError(t, err)
	require.Len(t, apy, 1)
	assert.Equal(t, 0.4, apy[0].Value)
	assert.Equal(t, normalizer.FormatPercentage, apy[0].Metadata[normalizer.MetaAPYFormat])

	// a declared percentage survives normalization unscaled
	n := normalizer.New(normalizer.DefaultConfig())
	got, err := n.Normalize(apy[0])
	require.NoError(t, err)
	assert.Equal(t, 0.4, got.Value)

	_, err = d.Fetch(ctx, models.DataTypeAPY, models.FetchParams{Protocol: "moola"})
	assert.ErrorIs(t, err, models.ErrNoData)
}

func TestDefiLlama_Risk(t *testing.T) {
	srv := llamaServer(t)
	defer srv.Close()
	d := NewDefiLlama("defillama", adapterCfg(srv.URL), nil, nil)

	data, err := d.Fetch(context.Background(), models.DataTypeRisk, models.FetchParams{Protocol: "ubeswap"})
	require.NoError(t, err)
	require.Len(t, data, 1)
	assert.Equal(t, 0.2, data[0].Value)
	assert.Equal(t, float64(150000000), data[0].Metadata["tvl"])
	assert.Equal(t, 2, data[0].Metadata["audits"])
}

func TestProtocolRisk(t *testing.T) {
	assert.Equal(t, 0.1, protocolRisk(2e9, 3))
	assert.Equal(t, 0.85, protocolRisk(1000, 0))
	assert.Equal(t, 0.4, protocolRisk(5e6, 1))
}

func TestSubgraph_Reserves(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req graphQLRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []any{"CUSD"}, req.Variables["symbols"])
		_, _ = io.WriteString(w, `{"data":{"reserves":[{"id":"0xres","symbol":"cUSD","decimals":18,
			"liquidityRate":"50000000000000000000000000","variableBorrowRate":"80000000000000000000000000",
			"utilizationRate":"0.62","totalLiquidityUSD":"1000000"}]}}`)
	}))
	defer srv.Close()
	s := NewSubgraph("subgraph", adapterCfg(srv.URL), nil, nil)

	data, err := s.Fetch(context.Background(), models.DataTypeAPY, models.FetchParams{Protocol: "moola", Symbol: "cusd"})
	require.NoError(t, err)
	require.Len(t, data, 1)
	assert.Equal(t, 0.90, data[0].Confidence())
	assert.Equal(t, 0.62, data[0].Metadata["utilizationRate"])

	n := normalizer.New(normalizer.DefaultConfig())
	got, err := n.Normalize(data[0])
	require.NoError(t, err)
	assert.Equal(t, 5.0, got.Value)
	assert.Equal(t, 8.0, got.Metadata["borrowAPY"])

	_, err = s.Fetch(context.Background(), models.DataTypeAPY, models.FetchParams{Protocol: "aave"})
	assert.ErrorIs(t, err, models.ErrNoData)
}

func TestSubgraph_GraphQLErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"errors":[{"message":"indexing error"}]}`)
	}))
	defer srv.Close()
	s := NewSubgraph("subgraph", adapterCfg(srv.URL), nil, nil)

	_, err := s.Fetch(context.Background(), models.DataTypeLiquidity, models.FetchParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "indexing error")
}

const (
	holder = "0x1111111111111111111111111111111111111111"
	token  = "0x2222222222222222222222222222222222222222"
	pool   = "0x3333333333333333333333333333333333333333"
	txHash = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
)

func rpcServer(t *testing.T, results map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64            `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		key := req.Method
		if req.Method == "eth_call" {
			var call map[string]string
			require.NoError(t, json.Unmarshal(req.Params[0], &call))
			key += ":" + call["data"][:10]
		}
		res, ok := results[key]
		if !ok {
			_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "error": map[string]any{"code": -32601, "message": "method not found"}})
			return
		}
		_, _ = io.WriteString(w, `{"jsonrpc":"2.0","id":1,"result":`+res+`}`)
	}))
}

func TestRPC_Balances(t *testing.T) {
	srv := rpcServer(t, map[string]string{
		"eth_getBalance":      `"0xde0b6b3a7640000"`,
		"eth_call:0x70a08231": `"0x00000000000000000000000000000000000000000000000000000000000f4240"`,
	})
	defer srv.Close()
	cfg := adapterCfg("")
	cfg.RPCURLs = map[string]string{"celo": srv.URL}
	r := NewRPC("rpc", cfg, nil, nil)
	n := normalizer.New(normalizer.DefaultConfig())

	data, err := r.Fetch(context.Background(), models.DataTypeBalance, models.FetchParams{Symbol: holder, Address: holder})
	require.NoError(t, err)
	require.Len(t, data, 1)
	assert.Equal(t, "1000000000000000000", data[0].Value)
	assert.Equal(t, "CELO", data[0].Asset.Symbol)
	got, err := n.Normalize(data[0])
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Value)

	data, err = r.Fetch(context.Background(), models.DataTypeBalance, models.FetchParams{
		Address: holder, TokenAddress: token, TokenDecimals: 6, Assets: []string{"USDC"},
	})
	require.NoError(t, err)
	got, err = n.Normalize(data[0])
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Value)
	assert.Equal(t, "USDC", got.Asset.Symbol)

	_, err = r.Fetch(context.Background(), models.DataTypeBalance, models.FetchParams{Address: holder, Chain: "solana"})
	require.Error(t, err)
	_, err = r.Fetch(context.Background(), models.DataTypeBalance, models.FetchParams{Address: "nope"})
	require.Error(t, err)
}

func TestRPC_PoolPrice(t *testing.T) {
	// sqrtPriceX96 = 2^96, so the price is exactly 1
	srv := rpcServer(t, map[string]string{
		"eth_call:0x3850c7bd": `"0x` + "0000000000000000000000000000000000000001000000000000000000000000" + strings.Repeat("0", 64) + `"`,
	})
	defer srv.Close()
	cfg := adapterCfg("")
	cfg.RPCURLs = map[string]string{"celo": srv.URL}
	r := NewRPC("rpc", cfg, nil, nil)

	data, err := r.Fetch(context.Background(), models.DataTypePrice, models.FetchParams{Symbol: "CELO", PoolAddress: pool})
	require.NoError(t, err)
	assert.Equal(t, 1.0, data[0].Value)

	_, err = r.Fetch(context.Background(), models.DataTypePrice, models.FetchParams{Symbol: "CELO"})
	require.Error(t, err)
}

func TestRPC_Transaction(t *testing.T) {
	srv := rpcServer(t, map[string]string{
		"eth_getTransactionByHash":  `{"hash":"` + txHash + `","from":"` + holder + `","to":"` + token + `","value":"0x1bc16d674ec80000","blockNumber":"0x10"}`,
		"eth_getTransactionReceipt": `{"status":"0x1","gasUsed":"0x5208"}`,
		"eth_getBlockByNumber":      `{"timestamp":"0x65920080"}`,
	})
	defer srv.Close()
	cfg := adapterCfg("")
	cfg.RPCURLs = map[string]string{"celo": srv.URL}
	r := NewRPC("rpc", cfg, nil, nil)

	data, err := r.Fetch(context.Background(), models.DataTypeTransaction, models.FetchParams{Symbol: txHash, TxHash: txHash})
	require.NoError(t, err)
	require.Len(t, data, 1)
	assert.Equal(t, "2000000000000000000", data[0].Value)
	assert.Equal(t, "success", data[0].Metadata["status"])
	assert.Equal(t, "21000", data[0].Metadata["gasUsed"])
	assert.Equal(t, int64(16), data[0].Metadata["blockNumber"])
	assert.Equal(t, "2024-01-01T00:00:00Z", data[0].Metadata["transactionTimestamp"])
}

func TestRPC_TransactionNotFound(t *testing.T) {
	srv := rpcServer(t, map[string]string{"eth_getTransactionByHash": `null`})
	defer srv.Close()
	cfg := adapterCfg("")
	cfg.RPCURLs = map[string]string{"celo": srv.URL}
	r := NewRPC("rpc", cfg, nil, nil)

	_, err := r.Fetch(context.Background(), models.DataTypeTransaction, models.FetchParams{TxHash: txHash})
	assert.ErrorIs(t, err, models.ErrNoData)
}

func TestStream_ServesFreshTrades(t *testing.T) {
	s := NewStream("stream", config.AdapterConfig{MaxAge: time.Minute}, nil)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.handle([]byte(`{"type":"trade","data":[{"s":"BINANCE:CELOUSDT","p":0.61,"v":10,"t":` + msString(now.Add(-10*time.Second)) + `}]}`))
	s.handle([]byte(`{"type":"ping"}`))

	data, err := s.Fetch(context.Background(), models.DataTypePrice, models.FetchParams{Symbol: "celo"})
	require.NoError(t, err)
	assert.Equal(t, 0.61, data[0].Value)
	assert.Equal(t, "BINANCE:CELOUSDT", data[0].Metadata["feedSymbol"])

	now = now.Add(2 * time.Minute)
	_, err = s.Fetch(context.Background(), models.DataTypePrice, models.FetchParams{Symbol: "celo"})
	assert.ErrorIs(t, err, models.ErrNoData)

	_, err = s.Fetch(context.Background(), models.DataTypeAPY, models.FetchParams{Symbol: "celo"})
	assert.ErrorIs(t, err, models.ErrUnsupportedDataType)
}

func msString(t time.Time) string {
	b, _ := json.Marshal(t.UnixMilli())
	return string(b)
}

func TestStream_WebsocketLoop(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.URL.Query().Get("token"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var sub map[string]string
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subscribed <- sub["symbol"]
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"trade","data":[{"s":"CELO","p":0.7,"v":1,"t":`+msString(time.Now())+`}]}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	s := NewStream("stream", config.AdapterConfig{
		WSURL:   "ws" + strings.TrimPrefix(srv.URL, "http"),
		APIKey:  "k",
		Symbols: []string{"CELO"},
	}, nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	select {
	case sym := <-subscribed:
		assert.Equal(t, "CELO", sym)
	case <-time.After(2 * time.Second):
		t.Fatal("no subscription received")
	}
	require.Eventually(t, func() bool {
		_, err := s.Fetch(context.Background(), models.DataTypePrice, models.FetchParams{Symbol: "CELO"})
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, s.IsConnected())
}

func TestNew_RequiresEndpoints(t *testing.T) {
	_, err := New("sg", config.AdapterConfig{Kind: config.KindSubgraph}, nil, nil)
	var ce *models.ConfigurationError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "adapters.sg.base_url", ce.Field)

	_, err = New("x", config.AdapterConfig{Kind: "ftp"}, nil, nil)
	require.ErrorAs(t, err, &ce)

	a, err := New("cg", config.AdapterConfig{Kind: config.KindCoinGecko}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "cg", a.Name())
}
