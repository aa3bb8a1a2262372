// Package fiat exposes USD-denominated payment requests on top of the
// currency converter and the payment funnel, with an optional service
// fee layered on the conversion.
package fiat

import (
	"context"
	"sync"
	"time"

	rail "github.com/railpayorg/railpay/pkg"
	"github.com/railpayorg/railpay/pkg/funnel"
	"github.com/railpayorg/railpay/pkg/metrics"
	"github.com/railpayorg/railpay/pkg/rates"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type entry struct {
	mu  sync.Mutex
	req rail.FiatPaymentRequest
}

// Gateway issues fiat payment requests settled in one configured unit.
type Gateway struct {
	conv    *rates.Converter
	funnels *funnel.Gateway
	unit    rail.SettlementUnit
	minFiat rail.CoinAmount
	maxFiat rail.CoinAmount
	feePct  rail.CoinAmount

	pending   sync.Map // request ID -> *entry
	confirmed sync.Map // request ID -> rail.FiatPaymentRequest

	archive rail.Store
	bus     *rail.MessageBus
	now     func() time.Time

	log zerolog.Logger
	rec metrics.Recorder
}

func NewGateway(conf rail.Config, conv *rates.Converter, funnels *funnel.Gateway, archive rail.Store, bus *rail.MessageBus, log zerolog.Logger, rec metrics.Recorder) (*Gateway, error) {
	unit, ok := rail.UnitForSymbol(conf.Fiat.Unit)
	if !ok {
		return nil, rail.NewErr(rail.BadRequest, "unknown settlement unit %q", conf.Fiat.Unit)
	}
	minFiat, err := decimal.NewFromString(conf.Fiat.MinAmount)
	if err != nil {
		return nil, rail.NewErr(rail.BadRequest, "bad fiat minimum %q: %v", conf.Fiat.MinAmount, err)
	}
	maxFiat, err := decimal.NewFromString(conf.Fiat.MaxAmount)
	if err != nil {
		return nil, rail.NewErr(rail.BadRequest, "bad fiat maximum %q: %v", conf.Fiat.MaxAmount, err)
	}
	feePct, err := decimal.NewFromString(conf.Fiat.ServiceFeePercent)
	if err != nil {
		return nil, rail.NewErr(rail.BadRequest, "bad service fee percent %q: %v", conf.Fiat.ServiceFeePercent, err)
	}
	if rec == nil {
		rec = metrics.NewNoopRecorder()
	}
	return &Gateway{
		conv:    conv,
		funnels: funnels,
		unit:    unit,
		minFiat: minFiat,
		maxFiat: maxFiat,
		feePct:  feePct,
		archive: archive,
		bus:     bus,
		now:     time.Now,
		log:     log.With().Str("component", "fiat").Logger(),
		rec:     rec,
	}, nil
}

// CreateRequest opens a fiat payment request: bounds-checks the
// amount, adds the service fee, converts the total to the settlement
// unit at the current rate, and opens a funnel for that unit amount.
// The rate applied here is frozen into the request.
func (g *Gateway) CreateRequest(ctx context.Context, fiatAmount rail.CoinAmount, customerRef, description string, metadata map[string]string) (rail.FiatPaymentRequest, error) {
	if fiatAmount.LessThan(g.minFiat) || fiatAmount.GreaterThan(g.maxFiat) {
		return rail.FiatPaymentRequest{}, rail.NewErr(rail.AmountOutOfRange,
			"amount %s USD outside allowed range %s-%s", fiatAmount, g.minFiat, g.maxFiat)
	}
	serviceFee := rail.RoundFiat(rail.Percent(fiatAmount, g.feePct))
	totalFiat := fiatAmount.Add(serviceFee)

	conv, err := g.conv.ConvertFiatToUnit(ctx, totalFiat, g.unit)
	if err != nil {
		return rail.FiatPaymentRequest{}, err
	}

	fr, err := g.funnels.Open(ctx, conv.UnitAmount, g.unit, customerRef, description)
	if err != nil {
		return rail.FiatPaymentRequest{}, err
	}

	req := rail.FiatPaymentRequest{
		ID:           rail.NewRequestID(),
		FiatAmount:   fiatAmount,
		ServiceFee:   serviceFee,
		TotalFiat:    totalFiat,
		CryptoAmount: conv.UnitAmount,
		Unit:         g.unit,
		ExchangeRate: conv.Rate,
		FunnelID:     fr.ID,
		PayToAddress: fr.ReceivingAddress,
		Status:       rail.FunnelPending,
		CustomerRef:  customerRef,
		Description:  description,
		Metadata:     metadata,
		Created:      fr.Created,
		ExpiresAt:    fr.ExpiresAt,
	}
	g.pending.Store(req.ID, &entry{req: req})
	g.archiveRequest(req)
	g.rec.IncCounter(metrics.FiatRequests, map[string]string{"unit": g.unit.Symbol})
	g.send("CREATED", req)
	g.log.Info().Str("request", req.ID).Str("fiat", fiatAmount.String()).
		Str("crypto", conv.UnitAmount.String()).Str("rate", conv.Rate.String()).Msg("fiat request created")
	return req, nil
}

// CheckStatus delegates to the underlying funnel. On confirmation the
// actually-received balance (not the requested amount) is converted
// back to fiat for the final accounting and the request moves to the
// confirmed store.
func (g *Gateway) CheckStatus(ctx context.Context, id string) (rail.FiatPaymentRequest, error) {
	if v, ok := g.confirmed.Load(id); ok {
		return v.(rail.FiatPaymentRequest), nil
	}
	v, ok := g.pending.Load(id)
	if !ok {
		return rail.FiatPaymentRequest{}, rail.NewErr(rail.NotFound, "no such payment request: %s", id)
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.req.IsTerminal() {
		return e.req, nil
	}

	fr, err := g.funnels.CheckStatus(ctx, e.req.FunnelID)
	if err != nil && !rail.IsError(err, rail.ForwardingFailed) {
		return e.req, err
	}

	switch fr.Status {
	case rail.FunnelConfirmed:
		receivedFiat := g.reportFiat(ctx, fr.ConfirmedBalance, e.req.ExchangeRate)
		e.req = e.req.Settled(fr.ConfirmedBalance, receivedFiat)
		g.confirmed.Store(id, e.req)
		g.pending.Delete(id)
		g.archiveRequest(e.req)
		g.send("CONFIRMED", e.req)
	case rail.FunnelExpired:
		e.req = e.req.WithStatus(rail.FunnelExpired)
		g.pending.Delete(id)
		g.archiveRequest(e.req)
		g.send("EXPIRED", e.req)
	case rail.FunnelForwardingFailed:
		e.req = e.req.WithStatus(rail.FunnelForwardingFailed)
		// kept in the pending map for operator inspection
		g.archiveRequest(e.req)
		g.send("FORWARD_FAILED", e.req)
	}
	return e.req, err
}

// reportFiat converts the received settlement balance to fiat for
// reporting. If the live rate is unavailable the request's frozen
// creation-time rate is used so the accounting is never left blank.
func (g *Gateway) reportFiat(ctx context.Context, received, frozenRate rail.CoinAmount) rail.CoinAmount {
	if conv, err := g.conv.ConvertUnitToFiat(ctx, received, g.unit); err == nil {
		return conv.FiatAmount
	}
	return rail.RoundFiat(received.Mul(frozenRate))
}

// Cancel aborts a still-PENDING request. Distinct failures: NotFound,
// AlreadyExpired (expiry passed but unswept), NotCancellable (already
// terminal or forwarding underway).
func (g *Gateway) Cancel(id string) error {
	v, ok := g.pending.Load(id)
	if !ok {
		if _, confirmed := g.confirmed.Load(id); confirmed {
			return rail.NewErr(rail.NotCancellable, "payment request %s is already confirmed", id)
		}
		return rail.NewErr(rail.NotFound, "no such payment request: %s", id)
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.req.Status != rail.FunnelPending {
		return rail.NewErr(rail.NotCancellable, "payment request %s is %s", id, e.req.Status)
	}
	if e.req.IsExpired(g.now()) {
		return rail.NewErr(rail.AlreadyExpired, "payment request %s expired at %s", id, e.req.ExpiresAt)
	}
	if !g.funnels.Cancel(e.req.FunnelID) {
		return rail.NewErr(rail.NotCancellable, "funnel for request %s can no longer be cancelled", id)
	}
	g.pending.Delete(id)
	g.send("CANCELLED", e.req)
	return nil
}

// Health aggregates converter health with this gateway's counts.
func (g *Gateway) Health() rail.GatewayHealth {
	ch := g.conv.Health()
	h := rail.GatewayHealth{
		ConverterHealthy: ch.Healthy,
		LastRateUpdate:   ch.LastSuccessfulUpdate,
		RateCacheSize:    ch.CacheSize,
	}
	now := g.now()
	g.pending.Range(func(_, value any) bool {
		e := value.(*entry)
		e.mu.Lock()
		switch {
		case e.req.Status == rail.FunnelForwardingFailed:
			// stuck awaiting operator intervention, not payer action
			h.FailedRequests++
		case e.req.Status == rail.FunnelPending && e.req.IsExpired(now):
			h.ExpiredUnswept++
		default:
			h.PendingRequests++
		}
		e.mu.Unlock()
		return true
	})
	g.confirmed.Range(func(_, _ any) bool {
		h.ConfirmedRequests++
		return true
	})
	h.Healthy = ch.Healthy
	return h
}

// CleanupExpired sweeps expired PENDING requests (and their funnels).
// Idempotent; safe to call repeatedly.
func (g *Gateway) CleanupExpired() int {
	count := 0
	now := g.now()
	g.pending.Range(func(key, value any) bool {
		e := value.(*entry)
		e.mu.Lock()
		if e.req.Status == rail.FunnelPending && e.req.IsExpired(now) {
			g.funnels.Cancel(e.req.FunnelID)
			e.req = e.req.WithStatus(rail.FunnelExpired)
			g.pending.Delete(key)
			g.archiveRequest(e.req)
			g.send("EXPIRED", e.req)
			count++
		}
		e.mu.Unlock()
		return true
	})
	count += g.funnels.CleanupExpired()
	return count
}

func (g *Gateway) archiveRequest(req rail.FiatPaymentRequest) {
	if g.archive == nil {
		return
	}
	if err := g.archive.StoreFiatRequest(req); err != nil {
		g.log.Warn().Err(err).Str("request", req.ID).Msg("archive write failed")
	}
}

func (g *Gateway) send(event string, req rail.FiatPaymentRequest) {
	if g.bus == nil {
		return
	}
	g.bus.Send(rail.MSG_FIAT, struct {
		Event   string                  `json:"event"`
		Request rail.FiatPaymentRequest `json:"request"`
	}{event, req}, req.ID)
}
