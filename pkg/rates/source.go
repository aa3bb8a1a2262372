// Package rates fetches fiat exchange rates for settlement units and
// converts amounts in both directions, with caching, rate-limiting
// and multi-source fallback.
package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	rail "github.com/railpayorg/railpay/pkg"
	"github.com/shopspring/decimal"
)

// Source fetches a fiat rate table from one external quote service.
// The returned map is keyed by unit symbol; values are the fiat price
// of one whole unit.
type Source interface {
	Name() string
	FetchRates(ctx context.Context) (map[string]rail.CoinAmount, error)
}

// HTTPSource reads rates from a JSON endpoint returning an object of
// symbol -> rate strings, e.g. {"BTC":"43250.75","ETH":"2280.50"}.
// The exact URL and shape are quote-service specific; anything that
// can be coerced into that object works.
type HTTPSource struct {
	name   string
	url    string
	client *http.Client
}

var _ Source = &HTTPSource{}

func NewHTTPSource(name, url string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		name: name,
		url:  url,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// SourcesFromConfig builds the ordered source list from config.
func SourcesFromConfig(conf rail.Config) []Source {
	var sources []Source
	for _, sc := range conf.Rates.Sources {
		sources = append(sources, NewHTTPSource(sc.Name, sc.URL, conf.HTTPTimeout()))
	}
	return sources
}

func (s *HTTPSource) Name() string {
	return s.name
}

func (s *HTTPSource) FetchRates(ctx context.Context) (map[string]rail.CoinAmount, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", s.url, nil)
	if err != nil {
		return nil, err
	}
	res, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %d", s.name, res.StatusCode)
	}
	var raw map[string]string
	if err := json.NewDecoder(res.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%s: bad rate payload: %w", s.name, err)
	}
	rates := make(map[string]rail.CoinAmount, len(raw))
	for sym, val := range raw {
		d, err := decimal.NewFromString(val)
		if err != nil || d.LessThanOrEqual(decimal.Zero) {
			continue // skip junk entries rather than fail the whole table
		}
		rates[sym] = d
	}
	return rates, nil
}
