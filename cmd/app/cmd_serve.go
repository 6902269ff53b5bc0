package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"FinGate/internal/di"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway with its HTTP API and optional Kafka bridge",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Wire DI: Initialize all dependencies
	app, err := di.InitializeApp(cfg)
	if err != nil {
		return fmt.Errorf("app initialization failed: %w", err)
	}

	// Run application (blocks until signal)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return app.Run(ctx)
}
