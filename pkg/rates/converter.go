package rates

import (
	"context"
	"sync"
	"time"

	rail "github.com/railpayorg/railpay/pkg"
	"github.com/railpayorg/railpay/pkg/metrics"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// DefaultFallbackRates is the built-in rate table used when every
// configured source fails and no earlier fetch is cached. The
// converter degrades to these rather than hard-failing on network
// trouble; health reporting still shows the refresh as failed.
var DefaultFallbackRates = map[string]string{
	"BTC":  "43250.75",
	"ETH":  "2280.50",
	"LTC":  "72.15",
	"DOGE": "0.0785",
	"BCH":  "245.30",
	"XMR":  "165.80",
	"SOL":  "98.45",
	"ADA":  "0.52",
}

// ConversionResult carries both sides of a conversion plus the rate
// that was applied.
type ConversionResult struct {
	FiatAmount rail.CoinAmount     `json:"fiat_amount"`
	UnitAmount rail.CoinAmount     `json:"unit_amount"`
	Rate       rail.CoinAmount     `json:"rate"`
	Unit       rail.SettlementUnit `json:"unit"`
}

// Health is the converter's self-diagnosis.
type Health struct {
	Healthy              bool      `json:"healthy"`
	LastSuccessfulUpdate time.Time `json:"last_successful_update"`
	CacheSize            int       `json:"cache_size"`
}

// Converter aggregates rate Sources with caching, rate-limiting and
// fallback. The cache is replaced wholesale on each refresh, never
// partially merged; concurrent callers share one in-flight refresh.
type Converter struct {
	sources  []Source
	fallback map[string]rail.CoinAmount
	ttl      time.Duration
	minGap   time.Duration
	healthy  time.Duration
	minFiat  rail.CoinAmount

	group singleflight.Group

	mu          sync.Mutex // guards refresh bookkeeping below
	lastAttempt time.Time

	cacheMu     sync.RWMutex // guards the rate snapshot below
	rates       map[string]rail.CoinAmount
	fetchedAt   time.Time
	lastSuccess time.Time

	now func() time.Time // swapped out by tests

	log zerolog.Logger
	rec metrics.Recorder
}

func NewConverter(conf rail.Config, sources []Source, log zerolog.Logger, rec metrics.Recorder) *Converter {
	fallback := make(map[string]rail.CoinAmount, len(DefaultFallbackRates))
	for sym, val := range DefaultFallbackRates {
		fallback[sym] = decimal.RequireFromString(val)
	}
	minFiat, err := decimal.NewFromString(conf.Rates.MinFiatAmount)
	if err != nil {
		minFiat = decimal.RequireFromString("0.01")
	}
	if rec == nil {
		rec = metrics.NewNoopRecorder()
	}
	return &Converter{
		sources:  sources,
		fallback: fallback,
		ttl:      conf.CacheTTL(),
		minGap:   conf.RateLimit(),
		healthy:  conf.HealthyWindow(),
		minFiat:  minFiat,
		rates:    map[string]rail.CoinAmount{},
		now:      time.Now,
		log:      log.With().Str("component", "converter").Logger(),
		rec:      rec,
	}
}

// ConvertFiatToUnit converts a fiat amount into the settlement unit at
// the current rate, rounded half-up to the unit's canonical scale.
func (c *Converter) ConvertFiatToUnit(ctx context.Context, fiatAmount rail.CoinAmount, unit rail.SettlementUnit) (ConversionResult, error) {
	if fiatAmount.LessThanOrEqual(decimal.Zero) {
		return ConversionResult{}, rail.NewErr(rail.InvalidAmount, "fiat amount must be greater than zero, got %s", fiatAmount)
	}
	rate, err := c.rateFor(ctx, unit)
	if err != nil {
		return ConversionResult{}, err
	}
	unitAmount := fiatAmount.DivRound(rate, unit.Decimals)
	if unitAmount.IsZero() {
		return ConversionResult{}, rail.NewErr(rail.AmountTooSmall,
			"%s USD rounds to zero %s at rate %s", fiatAmount, unit.Symbol, rate)
	}
	c.rec.IncCounter(metrics.ConversionsTotal, map[string]string{"unit": unit.Symbol})
	return ConversionResult{FiatAmount: fiatAmount, UnitAmount: unitAmount, Rate: rate, Unit: unit}, nil
}

// ConvertUnitToFiat converts a settlement-unit amount into fiat at the
// current rate, rounded half-up to cents.
func (c *Converter) ConvertUnitToFiat(ctx context.Context, unitAmount rail.CoinAmount, unit rail.SettlementUnit) (ConversionResult, error) {
	if unitAmount.LessThanOrEqual(decimal.Zero) {
		return ConversionResult{}, rail.NewErr(rail.InvalidAmount, "unit amount must be greater than zero, got %s", unitAmount)
	}
	rate, err := c.rateFor(ctx, unit)
	if err != nil {
		return ConversionResult{}, err
	}
	fiatAmount := rail.RoundFiat(unitAmount.Mul(rate))
	if fiatAmount.LessThan(c.minFiat) {
		return ConversionResult{}, rail.NewErr(rail.AmountTooSmall,
			"%s %s converts to %s USD, below minimum %s", unitAmount, unit.Symbol, fiatAmount, c.minFiat)
	}
	c.rec.IncCounter(metrics.ConversionsTotal, map[string]string{"unit": unit.Symbol})
	return ConversionResult{FiatAmount: fiatAmount, UnitAmount: unitAmount, Rate: rate, Unit: unit}, nil
}

// AllRates returns the current rate table, refreshing first if stale.
// The returned map is a copy.
func (c *Converter) AllRates(ctx context.Context) (map[string]rail.CoinAmount, error) {
	if err := c.ensureFresh(ctx); err != nil {
		return nil, err
	}
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	out := make(map[string]rail.CoinAmount, len(c.rates))
	for sym, rate := range c.rates {
		out[sym] = rate
	}
	return out, nil
}

// RefreshRates forces a refresh, bypassing the cache-validity check
// (but still subject to the global rate limit).
func (c *Converter) RefreshRates(ctx context.Context) error {
	return c.refresh(ctx, true)
}

// Health reports healthy iff a refresh has succeeded recently enough.
func (c *Converter) Health() Health {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	healthy := !c.lastSuccess.IsZero() && c.now().Sub(c.lastSuccess) < c.healthy
	return Health{
		Healthy:              healthy,
		LastSuccessfulUpdate: c.lastSuccess,
		CacheSize:            len(c.rates),
	}
}

func (c *Converter) rateFor(ctx context.Context, unit rail.SettlementUnit) (rail.CoinAmount, error) {
	if err := c.ensureFresh(ctx); err != nil {
		return decimal.Zero, err
	}
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	rate, ok := c.rates[unit.Symbol]
	if !ok || rate.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, rail.NewErr(rail.NotAvailable, "no rate available for %s", unit.Symbol)
	}
	return rate, nil
}

func (c *Converter) fresh() bool {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	return len(c.rates) > 0 && c.now().Sub(c.fetchedAt) < c.ttl
}

func (c *Converter) ensureFresh(ctx context.Context) error {
	if c.fresh() {
		return nil
	}
	return c.refresh(ctx, false)
}

// refresh consults the sources in order and replaces the cache with
// the first non-empty table. All concurrent callers share a single
// in-flight refresh (singleflight); sequential attempts are spaced by
// the global rate limit.
func (c *Converter) refresh(ctx context.Context, force bool) error {
	_, err, _ := c.group.Do("refresh", func() (any, error) {
		c.mu.Lock()
		defer c.mu.Unlock()

		// a refresh we waited behind may have done the work already
		if !force && c.fresh() {
			return nil, nil
		}

		if wait := c.minGap - c.now().Sub(c.lastAttempt); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			}
		}
		c.lastAttempt = c.now()

		started := time.Now()
		for _, src := range c.sources {
			rates, err := src.FetchRates(ctx)
			if err != nil {
				c.log.Warn().Err(err).Str("source", src.Name()).Msg("rate source failed")
				continue
			}
			if len(rates) == 0 {
				c.log.Warn().Str("source", src.Name()).Msg("rate source returned no rates")
				continue
			}
			now := c.now()
			c.replaceCache(rates, now, now)
			c.rec.IncCounter(metrics.RateRefreshesTotal, map[string]string{})
			c.rec.ObserveLatency("rate_refresh", time.Since(started), map[string]string{})
			c.log.Debug().Str("source", src.Name()).Int("rates", len(rates)).Msg("rates refreshed")
			return nil, nil
		}

		// every source failed; degrade rather than fail hard
		c.cacheMu.RLock()
		empty := len(c.rates) == 0
		c.cacheMu.RUnlock()
		if empty {
			fallback := make(map[string]rail.CoinAmount, len(c.fallback))
			for sym, rate := range c.fallback {
				fallback[sym] = rate
			}
			c.replaceCache(fallback, c.now(), time.Time{})
			c.rec.IncCounter(metrics.RateFallbacksTotal, map[string]string{})
			c.log.Warn().Msg("all rate sources failed, using built-in fallback rates")
		} else {
			c.log.Warn().Msg("all rate sources failed, serving stale rates")
		}
		return nil, nil
	})
	return err
}

// replaceCache swaps in a whole new rate table atomically. success is
// zero when the table did not come from a live source.
func (c *Converter) replaceCache(rates map[string]rail.CoinAmount, fetchedAt time.Time, success time.Time) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	c.rates = rates
	c.fetchedAt = fetchedAt
	if !success.IsZero() {
		c.lastSuccess = success
	}
}
