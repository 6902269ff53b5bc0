package adapters

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"FinGate/internal/domain/models"
	svccache "FinGate/internal/service/cache"
	"FinGate/pkg/config"
	pkghttp "FinGate/pkg/http"
	"FinGate/pkg/logger"
)

// base carries what every HTTP backed adapter shares: an outbound client,
// a private TTL cache and the adapter's default confidence.
type base struct {
	name       string
	http       *pkghttp.Client
	local      *svccache.LocalCache
	log        *logger.Logger
	confidence float64
}

func newBase(name string, cfg config.AdapterConfig, defConfidence float64, log *logger.Logger, hc *pkghttp.Client) base {
	if log == nil {
		log = logger.Nop()
	}
	if hc == nil {
		hc = pkghttp.NewClient(pkghttp.WithTimeout(cfg.Timeout), pkghttp.WithUserAgent("fingate/1.0"))
	}
	conf := cfg.Confidence
	if conf <= 0 {
		conf = defConfidence
	}
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = time.Minute
	}
	return base{
		name:       name,
		http:       hc,
		local:      svccache.NewLocalCache(ttl),
		log:        log.With("adapter." + name),
		confidence: conf,
	}
}

func (b *base) Name() string { return b.name }

// InvalidateCache drops everything the adapter memoized.
func (b *base) InvalidateCache() { b.local.Clear() }

func (b *base) record(dt models.DataType, asset models.Asset, value any) models.NormalizedData {
	return models.NewNormalizedData(b.name, dt, asset, value, b.confidence)
}

// fail wraps err into an AdapterError carrying the upstream status code when known.
func (b *base) fail(dt models.DataType, err error) error {
	ae := models.NewAdapterError(b.name, dt, err)
	var se *pkghttp.StatusError
	if ae.StatusCode == 0 && errors.As(err, &se) {
		ae.StatusCode = se.Code
	}
	return ae
}

func (b *base) unsupported(dt models.DataType) error {
	return b.fail(dt, fmt.Errorf("%w: %s", models.ErrUnsupportedDataType, dt))
}

func (b *base) missing(dt models.DataType, param string) error {
	return b.fail(dt, fmt.Errorf("missing parameter %q", param))
}

func (b *base) cached(key string) ([]models.NormalizedData, bool) {
	v, ok := b.local.Get(key)
	if !ok {
		return nil, false
	}
	data, ok := v.([]models.NormalizedData)
	return data, ok && len(data) > 0
}

func (b *base) remember(key string, data []models.NormalizedData) {
	if len(data) > 0 {
		b.local.Set(key, data, 0)
	}
}

// getJSON issues a GET and decodes the body into dest.
func (b *base) getJSON(ctx context.Context, url string, query map[string][]string, headers map[string]string, dest interface{}) error {
	return b.http.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method:      pkghttp.MethodGet,
		URL:         url,
		Headers:     headers,
		QueryParams: query,
	}, dest)
}

func (b *base) postJSON(ctx context.Context, url string, body interface{}, dest interface{}) error {
	return b.http.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method: pkghttp.MethodPost,
		URL:    url,
		Body:   body,
	}, dest)
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
