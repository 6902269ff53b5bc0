package adapters

import (
	"context"

	"FinGate/internal/domain/models"
	drepo "FinGate/internal/domain/repository"
	"FinGate/pkg/config"
	pkghttp "FinGate/pkg/http"
	"FinGate/pkg/logger"
)

// Starter is implemented by adapters that own a background connection.
type Starter interface {
	Start(ctx context.Context) error
}

// Build instantiates every enabled adapter in priority order.
func Build(cfg *config.Config, log *logger.Logger) ([]drepo.Adapter, error) {
	names := cfg.EnabledAdapters()
	out := make([]drepo.Adapter, 0, len(names))
	for _, name := range names {
		a, err := New(name, cfg.Adapters[name], log, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// New builds a single adapter of the configured kind. hc may be nil.
func New(name string, ac config.AdapterConfig, log *logger.Logger, hc *pkghttp.Client) (drepo.Adapter, error) {
	field := "adapters." + name
	switch ac.Kind {
	case config.KindCoinGecko:
		return NewCoinGecko(name, ac, log, hc), nil
	case config.KindDefiLlama:
		return NewDefiLlama(name, ac, log, hc), nil
	case config.KindSubgraph:
		if ac.BaseURL == "" {
			return nil, models.NewConfigError(field+".base_url", "subgraph endpoint is required")
		}
		return NewSubgraph(name, ac, log, hc), nil
	case config.KindRPC:
		if len(ac.RPCURLs) == 0 && ac.BaseURL == "" {
			return nil, models.NewConfigError(field+".rpc_urls", "at least one rpc endpoint is required")
		}
		return NewRPC(name, ac, log, hc), nil
	case config.KindStream:
		if ac.WSURL == "" {
			return nil, models.NewConfigError(field+".ws_url", "websocket url is required")
		}
		return NewStream(name, ac, log), nil
	}
	return nil, models.NewConfigError(field+".kind", "unknown kind %q", ac.Kind)
}
