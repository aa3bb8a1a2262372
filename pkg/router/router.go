// Package router chooses among providers supporting the same payment
// method and currency, and can split a single payment across several.
//
// Composite scores weight normalized fee at 40%, normalized processing
// time at 30% and success rate at 30%.
package router

import (
	"context"
	"sort"
	"time"

	rail "github.com/railpayorg/railpay/pkg"
	"github.com/railpayorg/railpay/pkg/metrics"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type Criterion string

const (
	LowestFee          Criterion = "LOWEST_FEE"
	Fastest            Criterion = "FASTEST"
	HighestSuccessRate Criterion = "HIGHEST_SUCCESS_RATE"
	BestValue          Criterion = "BEST_VALUE"
)

type SplitStrategy string

const (
	SplitEqual    SplitStrategy = "EQUAL"
	SplitWeighted SplitStrategy = "WEIGHTED"
	SplitOptimal  SplitStrategy = "OPTIMAL"
)

const (
	feeWeight  = 0.4
	timeWeight = 0.3
	rateWeight = 0.3
)

// RoutingResult names the selected provider with the metrics that
// drove the selection.
type RoutingResult struct {
	Provider    rail.PaymentProvider `json:"-"`
	Name        string               `json:"provider"`
	Fee         rail.CoinAmount      `json:"fee"`
	Time        time.Duration        `json:"processing_time"`
	SuccessRate float64              `json:"success_rate"`
	Criterion   Criterion            `json:"criterion"`
}

// ScoredOption is one ranked routing alternative.
type ScoredOption struct {
	Provider    rail.PaymentProvider `json:"-"`
	Name        string               `json:"provider"`
	Fee         rail.CoinAmount      `json:"fee"`
	Time        time.Duration        `json:"processing_time"`
	SuccessRate float64              `json:"success_rate"`
	Score       float64              `json:"score"`
}

// SplitPart is one provider's share of a split payment.
type SplitPart struct {
	Provider rail.PaymentProvider `json:"-"`
	Name     string               `json:"provider"`
	Amount   rail.CoinAmount      `json:"amount"`
	Fee      rail.CoinAmount      `json:"fee"`
	Time     time.Duration        `json:"processing_time"`
}

type SplitResult struct {
	Parts    []SplitPart     `json:"parts"`
	TotalFee rail.CoinAmount `json:"total_fee"`
	Strategy SplitStrategy   `json:"strategy"`
}

// Router scores providers from a registry using an injectable metrics
// source for success rates and processing times.
type Router struct {
	registry *rail.ProviderRegistry
	metrics  MetricsSource
	log      zerolog.Logger
	rec      metrics.Recorder
}

func NewRouter(registry *rail.ProviderRegistry, source MetricsSource, log zerolog.Logger, rec metrics.Recorder) *Router {
	if source == nil {
		source = DefaultStaticMetrics()
	}
	if rec == nil {
		rec = metrics.NewNoopRecorder()
	}
	return &Router{
		registry: registry,
		metrics:  source,
		log:      log.With().Str("component", "router").Logger(),
		rec:      rec,
	}
}

// candidate is an eligible provider whose fee estimate succeeded.
type candidate struct {
	provider rail.PaymentProvider
	fee      rail.CoinAmount
	time     time.Duration
	rate     float64
}

// candidates gathers eligible providers in registration order. A
// provider whose estimate call errors is skipped, not fatal; only the
// empty eligible set or all-estimates-failing are reported as errors.
func (r *Router) candidates(ctx context.Context, req rail.PaymentRequest) ([]candidate, error) {
	eligible := r.registry.ProvidersFor(req.Method, req.Currency)
	if len(eligible) == 0 {
		return nil, rail.NewErr(rail.NoProvidersAvailable,
			"no provider supports method %s and currency %s", req.Method, req.Currency)
	}
	var out []candidate
	for _, p := range eligible {
		fee, err := p.EstimateFee(ctx, req)
		if err != nil {
			r.log.Warn().Err(err).Str("provider", p.Name()).Msg("fee estimate failed, provider skipped")
			continue
		}
		out = append(out, candidate{
			provider: p,
			fee:      fee,
			time:     r.metrics.ProcessingTime(p.Name()),
			rate:     r.metrics.SuccessRate(p.Name()),
		})
	}
	if len(out) == 0 {
		return nil, rail.NewErr(rail.EstimationFailed,
			"every eligible provider failed fee estimation for %s/%s", req.Method, req.Currency)
	}
	return out, nil
}

// SelectBestProvider picks the extremum for the criterion. Ties go to
// the earliest-registered provider.
func (r *Router) SelectBestProvider(ctx context.Context, req rail.PaymentRequest, criterion Criterion) (RoutingResult, error) {
	cands, err := r.candidates(ctx, req)
	if err != nil {
		return RoutingResult{}, err
	}
	best := 0
	switch criterion {
	case LowestFee:
		for i, c := range cands {
			if c.fee.LessThan(cands[best].fee) {
				best = i
			}
		}
	case Fastest:
		for i, c := range cands {
			if c.time < cands[best].time {
				best = i
			}
		}
	case HighestSuccessRate:
		for i, c := range cands {
			if c.rate > cands[best].rate {
				best = i
			}
		}
	case BestValue:
		scores := compositeScores(cands)
		for i := range cands {
			if scores[i] > scores[best] {
				best = i
			}
		}
	default:
		return RoutingResult{}, rail.NewErr(rail.BadRequest, "unknown routing criterion %q", criterion)
	}
	c := cands[best]
	r.rec.IncCounter(metrics.RoutingDecisions, map[string]string{"unit": req.Currency})
	r.log.Info().Str("provider", c.provider.Name()).Str("criterion", string(criterion)).
		Str("fee", c.fee.String()).Msg("provider selected")
	return RoutingResult{
		Provider:    c.provider,
		Name:        c.provider.Name(),
		Fee:         c.fee,
		Time:        c.time,
		SuccessRate: c.rate,
		Criterion:   criterion,
	}, nil
}

// RankOptions returns up to maxProviders options sorted best-first by
// composite score. Sorting is stable, so equal scores preserve
// registration order.
func (r *Router) RankOptions(ctx context.Context, req rail.PaymentRequest, maxProviders int) ([]ScoredOption, error) {
	cands, err := r.candidates(ctx, req)
	if err != nil {
		return nil, err
	}
	scores := compositeScores(cands)
	opts := make([]ScoredOption, len(cands))
	for i, c := range cands {
		opts[i] = ScoredOption{
			Provider:    c.provider,
			Name:        c.provider.Name(),
			Fee:         c.fee,
			Time:        c.time,
			SuccessRate: c.rate,
			Score:       scores[i],
		}
	}
	sort.SliceStable(opts, func(i, j int) bool {
		return opts[i].Score > opts[j].Score
	})
	if maxProviders > 0 && len(opts) > maxProviders {
		opts = opts[:maxProviders]
	}
	return opts, nil
}

// SplitPayment divides the request amount across at least two eligible
// providers. Partial amounts sum exactly to the original amount: each
// part is rounded at the currency's canonical scale and the last part
// absorbs the rounding remainder.
func (r *Router) SplitPayment(ctx context.Context, req rail.PaymentRequest, strategy SplitStrategy) (SplitResult, error) {
	cands, err := r.candidates(ctx, req)
	if err != nil {
		return SplitResult{}, err
	}
	if len(cands) < 2 {
		return SplitResult{}, rail.NewErr(rail.InsufficientProviders,
			"splitting requires at least 2 providers, have %d", len(cands))
	}

	var weights []float64
	switch strategy {
	case SplitEqual:
		weights = make([]float64, len(cands))
		for i := range weights {
			weights[i] = 1
		}
	case SplitWeighted:
		weights = make([]float64, len(cands))
		for i, c := range cands {
			weights[i] = c.rate
		}
	case SplitOptimal:
		weights = compositeScores(cands)
	default:
		return SplitResult{}, rail.NewErr(rail.BadRequest, "unknown split strategy %q", strategy)
	}

	scale := int32(8)
	if unit, ok := rail.UnitForSymbol(req.Currency); ok {
		scale = unit.Decimals
	}
	amounts := apportion(req.Amount, weights, scale)

	result := SplitResult{Strategy: strategy, TotalFee: rail.ZeroCoins}
	for i, c := range cands {
		partReq := req
		partReq.Amount = amounts[i]
		fee, err := c.provider.EstimateFee(ctx, partReq)
		if err != nil {
			// estimate succeeded moments ago for the full amount; fall
			// back to it rather than abort the split
			fee = c.fee
		}
		result.Parts = append(result.Parts, SplitPart{
			Provider: c.provider,
			Name:     c.provider.Name(),
			Amount:   amounts[i],
			Fee:      fee,
			Time:     c.time,
		})
		result.TotalFee = result.TotalFee.Add(fee)
	}
	r.rec.IncCounter(metrics.RoutingDecisions, map[string]string{"unit": req.Currency})
	return result, nil
}

// apportion divides amount by weight, rounding each part at the given
// scale. The final part is the exact remainder, preserving the sum.
// A weightless set (all zero, as when every provider reports a zero
// success rate) falls back to an even split.
func apportion(amount rail.CoinAmount, weights []float64, scale int32) []rail.CoinAmount {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		weights = make([]float64, len(weights))
		for i := range weights {
			weights[i] = 1
		}
		total = float64(len(weights))
	}
	n := len(weights)
	amounts := make([]rail.CoinAmount, n)
	allocated := decimal.Zero
	for i := 0; i < n-1; i++ {
		share := decimal.NewFromFloat(weights[i] / total)
		part := amount.Mul(share).Round(scale)
		amounts[i] = part
		allocated = allocated.Add(part)
	}
	amounts[n-1] = amount.Sub(allocated)
	return amounts
}

// compositeScores normalizes fee and time across the candidate set and
// combines them with success rate (40/30/30). Lower fee and lower time
// score higher.
func compositeScores(cands []candidate) []float64 {
	minFee, maxFee := cands[0].fee, cands[0].fee
	minTime, maxTime := cands[0].time, cands[0].time
	for _, c := range cands[1:] {
		if c.fee.LessThan(minFee) {
			minFee = c.fee
		}
		if c.fee.GreaterThan(maxFee) {
			maxFee = c.fee
		}
		if c.time < minTime {
			minTime = c.time
		}
		if c.time > maxTime {
			maxTime = c.time
		}
	}
	feeRange, _ := maxFee.Sub(minFee).Float64()
	timeRange := float64(maxTime - minTime)
	scores := make([]float64, len(cands))
	for i, c := range cands {
		feeScore := 1.0
		if feeRange > 0 {
			f, _ := c.fee.Sub(minFee).Float64()
			feeScore = 1.0 - f/feeRange
		}
		timeScore := 1.0
		if timeRange > 0 {
			timeScore = 1.0 - float64(c.time-minTime)/timeRange
		}
		scores[i] = feeWeight*feeScore + timeWeight*timeScore + rateWeight*c.rate
	}
	return scores
}
