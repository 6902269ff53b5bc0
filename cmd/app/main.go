package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"FinGate/pkg/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "fingate",
	Short: "Multi-source DeFi data gateway",
	Long: `FinGate aggregates prices, liquidity, yields, risk scores, balances and
transactions from several upstream providers behind one request API, with
priority failover, per-adapter circuit breakers and a TTL cache.

Running without a subcommand is the same as "fingate serve".`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "config file path")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
