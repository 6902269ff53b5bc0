//go:build wireinject
// +build wireinject

package di

import (
	"FinGate/pkg/config"
	"FinGate/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Observability
		ProvideRegisterer,
		ProvideGatherer,
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideMetrics,

		// Cache, resilience and normalization
		ProvideCacheBackend,
		ProvideCacheStore,
		ProvideBreakers,
		ProvideLimiter,
		ProvideNormalizer,
		ProvideAdapters,

		// History
		ProvideClickHouseClient,
		ProvideHistoryStore,
		ProvideHistoryRecorder,

		// Use cases
		ProvideGatewayConfig,
		ProvideGateway,
		ProvideBus,
		ProvideService,

		// Transports
		ProvideKafkaBridge,
		ProvideKafkaConsumer,
		ProvideHTTPHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
