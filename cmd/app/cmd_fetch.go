package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"FinGate/internal/di"
	"FinGate/internal/domain/models"
	"FinGate/internal/usecase"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <price|liquidity|apy|risk|tvl|balance|transaction|status> [args...]",
	Short: "Run one gateway request and print the response as JSON",
	Long: `Run a single request through the gateway without starting the HTTP
server or the Kafka bridge. Arguments are symbols for price, protocols for
liquidity, apy, risk and tvl, an address for balance and a hash for transaction.

Examples:
  fingate fetch price CELO cUSD --chain celo
  fingate fetch apy moola --asset CELO
  fingate fetch balance 0x0000000000000000000000000000000000000001
  fingate fetch status`,
	Args: cobra.MinimumNArgs(1),
	RunE: runFetch,
}

type fetchOptions struct {
	Chain    string
	Source   string
	Assets   []string
	Token    string
	Decimals int
	Timeout  time.Duration
}

var fetchOpts fetchOptions

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().StringVar(&fetchOpts.Chain, "chain", "", "Chain to query")
	fetchCmd.Flags().StringVar(&fetchOpts.Source, "source", "", "Preferred adapter, tried first")
	fetchCmd.Flags().StringSliceVar(&fetchOpts.Assets, "asset", nil, "Asset filter for apy requests")
	fetchCmd.Flags().StringVar(&fetchOpts.Token, "token", "", "ERC-20 token address for balance requests")
	fetchCmd.Flags().IntVar(&fetchOpts.Decimals, "decimals", 0, "Token decimals for balance requests")
	fetchCmd.Flags().DurationVar(&fetchOpts.Timeout, "timeout", 30*time.Second, "Overall request timeout")
}

// fetchCall turns command arguments into one service call.
type fetchCall func(ctx context.Context, svc *usecase.Service) (any, error)

func buildFetch(kind string, args []string, o fetchOptions) (fetchCall, error) {
	message := func(f func(ctx context.Context, svc *usecase.Service) (models.GatewayMessage, error)) fetchCall {
		return func(ctx context.Context, svc *usecase.Service) (any, error) {
			resp, err := f(ctx, svc)
			if err != nil {
				return nil, err
			}
			return resp.Payload, nil
		}
	}

	switch strings.ToLower(kind) {
	case "price", "prices":
		req := models.PriceRequest{Symbols: args, Source: o.Source}
		if o.Chain != "" {
			req.Chains = []string{o.Chain}
		}
		return message(func(ctx context.Context, svc *usecase.Service) (models.GatewayMessage, error) {
			return svc.RequestPrices(ctx, req)
		}), nil
	case "liquidity":
		req := models.LiquidityRequest{Protocols: args, Chain: o.Chain, Source: o.Source}
		return message(func(ctx context.Context, svc *usecase.Service) (models.GatewayMessage, error) {
			return svc.RequestLiquidity(ctx, req)
		}), nil
	case "apy":
		req := models.APYRequest{Protocols: args, Assets: o.Assets, Chain: o.Chain, Source: o.Source}
		return message(func(ctx context.Context, svc *usecase.Service) (models.GatewayMessage, error) {
			return svc.RequestAPY(ctx, req)
		}), nil
	case "risk":
		req := models.RiskRequest{Protocols: args, Source: o.Source}
		return message(func(ctx context.Context, svc *usecase.Service) (models.GatewayMessage, error) {
			return svc.RequestRisk(ctx, req)
		}), nil
	case "tvl":
		req := models.TVLRequest{Protocols: args, Chain: o.Chain, Source: o.Source}
		return message(func(ctx context.Context, svc *usecase.Service) (models.GatewayMessage, error) {
			return svc.RequestTVL(ctx, req)
		}), nil
	case "balance":
		if len(args) != 1 {
			return nil, fmt.Errorf("balance takes exactly one address")
		}
		req := models.BalanceRequest{Address: args[0], Chain: o.Chain, TokenAddress: o.Token, TokenDecimals: o.Decimals}
		return message(func(ctx context.Context, svc *usecase.Service) (models.GatewayMessage, error) {
			return svc.RequestBalance(ctx, req)
		}), nil
	case "transaction", "tx":
		if len(args) != 1 {
			return nil, fmt.Errorf("transaction takes exactly one hash")
		}
		req := models.TransactionRequest{TxHash: args[0], Chain: o.Chain}
		return message(func(ctx context.Context, svc *usecase.Service) (models.GatewayMessage, error) {
			return svc.RequestTransaction(ctx, req)
		}), nil
	case "status":
		return func(ctx context.Context, svc *usecase.Service) (any, error) {
			return svc.Status(ctx), nil
		}, nil
	}
	return nil, fmt.Errorf("unknown fetch kind %q", kind)
}

func runFetch(cmd *cobra.Command, args []string) error {
	call, err := buildFetch(args[0], args[1:], fetchOpts)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// one-shot runs keep stdout for the result
	cfg.Kafka.Enabled = false
	if cfg.Log.Output == "stdout" {
		cfg.Log.Output = "stderr"
	}

	app, err := di.InitializeApp(cfg)
	if err != nil {
		return fmt.Errorf("app initialization failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), fetchOpts.Timeout)
	defer cancel()
	if err := app.StartCore(ctx); err != nil {
		return err
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer scancel()
		_ = app.Shutdown(sctx)
	}()

	out, err := call(ctx, app.Service())
	if err != nil {
		return fmt.Errorf("fetch %s: %w", args[0], err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}
	if p, ok := out.(*models.ResponsePayload); ok && p != nil && !p.Success {
		return fmt.Errorf("fetch %s: %s", args[0], p.Error)
	}
	return nil
}
