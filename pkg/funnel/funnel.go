// Package funnel manages single-use receiving addresses that collect
// an expected amount and forward it, exactly once, to a configured
// merchant address.
package funnel

import (
	"context"
	"sync"
	"time"

	rail "github.com/railpayorg/railpay/pkg"
	"github.com/railpayorg/railpay/pkg/metrics"
	"github.com/rs/zerolog"
)

// entry pairs a funnel record with its own lock. The lock is what
// makes forwarding at-most-once: only the goroutine holding it may
// transition the record out of PENDING.
type entry struct {
	mu  sync.Mutex
	rec rail.FunnelRecord
}

// Gateway owns the funnel lifecycle for one Ledger. Pending and
// confirmed records live in concurrent maps; terminal records are also
// archived to the Store when one is configured.
type Gateway struct {
	ledger    rail.Ledger
	fees      rail.FeeCalculator
	merchants map[string]rail.Address // payout address per unit symbol
	timeout   time.Duration

	pending   sync.Map // funnel ID -> *entry
	confirmed sync.Map // funnel ID -> rail.FunnelRecord (immutable)

	archive rail.Store       // optional
	bus     *rail.MessageBus // optional
	now     func() time.Time

	log zerolog.Logger
	rec metrics.Recorder
}

func NewGateway(conf rail.Config, ledger rail.Ledger, fees rail.FeeCalculator, archive rail.Store, bus *rail.MessageBus, log zerolog.Logger, rec metrics.Recorder) *Gateway {
	merchants := make(map[string]rail.Address, len(conf.Funnel.MerchantAddresses))
	for sym, addr := range conf.Funnel.MerchantAddresses {
		merchants[sym] = rail.Address(addr)
	}
	if rec == nil {
		rec = metrics.NewNoopRecorder()
	}
	return &Gateway{
		ledger:    ledger,
		fees:      fees,
		merchants: merchants,
		timeout:   conf.FunnelTimeout(),
		archive:   archive,
		bus:       bus,
		now:       time.Now,
		log:       log.With().Str("component", "funnel").Logger(),
		rec:       rec,
	}
}

// Open allocates a new single-use receiving address bound to the
// expected amount. The returned record is PENDING and expires after
// the configured funnel timeout.
func (g *Gateway) Open(ctx context.Context, amount rail.CoinAmount, unit rail.SettlementUnit, customerRef, description string) (rail.FunnelRecord, error) {
	if amount.LessThanOrEqual(rail.ZeroCoins) {
		return rail.FunnelRecord{}, rail.NewErr(rail.InvalidAmount, "expected amount must be greater than zero, got %s", amount)
	}
	merchant, ok := g.merchants[unit.Symbol]
	if !ok {
		return rail.FunnelRecord{}, rail.NewErr(rail.NotAvailable, "no merchant payout address configured for %s", unit.Symbol)
	}
	addr, err := g.ledger.MakeAddress(ctx, unit)
	if err != nil {
		return rail.FunnelRecord{}, rail.NewErr(rail.NotAvailable, "MakeAddress failed: %v", err)
	}
	now := g.now()
	rec := rail.FunnelRecord{
		ID:               string(addr),
		ReceivingAddress: addr,
		MerchantAddress:  merchant,
		Expected:         unit.Round(amount),
		Unit:             unit,
		Status:           rail.FunnelPending,
		CustomerRef:      customerRef,
		Description:      description,
		Created:          now,
		ExpiresAt:        now.Add(g.timeout),
	}
	g.pending.Store(rec.ID, &entry{rec: rec})
	g.rec.IncCounter(metrics.FunnelsOpened, map[string]string{"unit": unit.Symbol})
	g.send(rail.MSG_FUNNEL, "OPENED", rec)
	g.log.Info().Str("funnel", rec.ID).Str("unit", unit.Symbol).Str("expected", rec.Expected.String()).Msg("funnel opened")
	return rec, nil
}

// CheckStatus evaluates expiry, polls the receiving balance, and
// forwards to the merchant when the expected amount has arrived.
// Safe to call concurrently for the same funnel: the per-funnel lock
// guarantees the forward happens at most once.
func (g *Gateway) CheckStatus(ctx context.Context, id string) (rail.FunnelRecord, error) {
	if rec, ok := g.getConfirmed(id); ok {
		return rec, nil
	}
	v, ok := g.pending.Load(id)
	if !ok {
		return rail.FunnelRecord{}, rail.NewErr(rail.NotFound, "no such funnel: %s", id)
	}
	e := v.(*entry)

	e.mu.Lock()
	defer e.mu.Unlock()

	// state may have moved while we waited for the lock
	if e.rec.IsTerminal() {
		return e.rec, nil
	}

	if e.rec.IsExpired(g.now()) {
		e.rec = e.rec.Expire()
		g.pending.Delete(id)
		g.archiveRecord(e.rec)
		g.rec.IncCounter(metrics.FunnelsExpired, map[string]string{"unit": e.rec.Unit.Symbol})
		g.send(rail.MSG_FUNNEL, "EXPIRED", e.rec)
		return e.rec, nil
	}

	balance, err := g.ledger.GetBalance(ctx, e.rec.ReceivingAddress, e.rec.Unit)
	if err != nil {
		// transient: funnel stays PENDING, caller can retry
		return e.rec, rail.NewErr(rail.NotAvailable, "balance query failed: %v", err)
	}
	if balance.LessThan(e.rec.Expected) {
		return e.rec, nil
	}
	return g.forward(ctx, e, balance)
}

// forward pays the collected balance out: recipient amount to the
// merchant, developer fee to the collection address. Caller must hold
// the entry lock. A failed forward is terminal (FORWARDING_FAILED) and
// is never retried automatically; the record stays inspectable.
func (g *Gateway) forward(ctx context.Context, e *entry, balance rail.CoinAmount) (rail.FunnelRecord, error) {
	unit := e.rec.Unit
	networkFee, err := g.ledger.EstimateFee(ctx, unit)
	if err != nil {
		return g.failForward(e, balance, "fee estimate failed: "+err.Error())
	}
	breakdown, err := g.fees.CalculateBreakdown(balance, networkFee, unit)
	if err != nil {
		return g.failForward(e, balance, "fee breakdown failed: "+err.Error())
	}
	ref, err := g.ledger.Send(ctx, e.rec.ReceivingAddress, e.rec.MerchantAddress, breakdown.RecipientAmount, unit)
	if err != nil {
		return g.failForward(e, balance, "merchant transfer failed: "+err.Error())
	}
	if breakdown.DeveloperFee.GreaterThan(rail.ZeroCoins) {
		_, ferr := g.ledger.Send(ctx, e.rec.ReceivingAddress, breakdown.CollectionAddress, breakdown.DeveloperFee, unit)
		if ferr != nil {
			// merchant is paid; losing the skim is not worth a terminal state
			g.log.Warn().Err(ferr).Str("funnel", e.rec.ID).Msg("developer fee transfer failed")
		}
	}

	e.rec = e.rec.Confirmed(balance, ref, g.now())
	g.confirmed.Store(e.rec.ID, e.rec)
	g.pending.Delete(e.rec.ID)
	g.archiveRecord(e.rec)
	g.rec.IncCounter(metrics.FunnelsConfirmed, map[string]string{"unit": unit.Symbol})
	g.send(rail.MSG_FUNNEL, "CONFIRMED", e.rec)
	g.log.Info().Str("funnel", e.rec.ID).Str("ref", ref).Msg("funnel confirmed and forwarded")
	return e.rec, nil
}

func (g *Gateway) failForward(e *entry, balance rail.CoinAmount, reason string) (rail.FunnelRecord, error) {
	e.rec = e.rec.ForwardFailed(balance, reason)
	// deliberately left in the pending map for operator inspection
	g.archiveRecord(e.rec)
	g.rec.IncCounter(metrics.ForwardFailures, map[string]string{"unit": e.rec.Unit.Symbol})
	g.send(rail.MSG_FUNNEL, "FORWARD_FAILED", e.rec)
	g.log.Error().Str("funnel", e.rec.ID).Str("reason", reason).Msg("forwarding failed")
	return e.rec, rail.NewErr(rail.ForwardingFailed, "funnel %s: %s", e.rec.ID, reason)
}

// Details reports progress for a pending or confirmed funnel.
func (g *Gateway) Details(ctx context.Context, id string) (rail.FunnelDetails, error) {
	if rec, ok := g.getConfirmed(id); ok {
		at := rec.ForwardedAt
		return rail.FunnelDetails{
			ID:              rec.ID,
			Status:          rec.Status,
			Unit:            rec.Unit,
			Expected:        rec.Expected,
			CurrentBalance:  rec.ConfirmedBalance,
			RemainingAmount: rail.ZeroCoins,
			ForwardedRef:    rec.ForwardedRef,
			ConfirmedAt:     &at,
		}, nil
	}
	v, ok := g.pending.Load(id)
	if !ok {
		return rail.FunnelDetails{}, rail.NewErr(rail.NotFound, "no such funnel: %s", id)
	}
	e := v.(*entry)
	e.mu.Lock()
	rec := e.rec
	e.mu.Unlock()

	balance, err := g.ledger.GetBalance(ctx, rec.ReceivingAddress, rec.Unit)
	if err != nil {
		return rail.FunnelDetails{}, rail.NewErr(rail.NotAvailable, "balance query failed: %v", err)
	}
	remaining := rec.Expected.Sub(balance)
	if remaining.IsNegative() {
		remaining = rail.ZeroCoins
	}
	return rail.FunnelDetails{
		ID:              rec.ID,
		Status:          rec.Status,
		Unit:            rec.Unit,
		Expected:        rec.Expected,
		CurrentBalance:  balance,
		RemainingAmount: remaining,
	}, nil
}

// Cancel removes a still-PENDING funnel. Returns false once forwarding
// has started or completed (or the funnel is unknown).
func (g *Gateway) Cancel(id string) bool {
	v, ok := g.pending.Load(id)
	if !ok {
		return false
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec.Status != rail.FunnelPending {
		return false
	}
	g.pending.Delete(id)
	g.send(rail.MSG_FUNNEL, "CANCELLED", e.rec)
	return true
}

// CleanupExpired sweeps all expired PENDING funnels. Idempotent.
func (g *Gateway) CleanupExpired() int {
	count := 0
	now := g.now()
	g.pending.Range(func(key, value any) bool {
		e := value.(*entry)
		e.mu.Lock()
		if e.rec.Status == rail.FunnelPending && e.rec.IsExpired(now) {
			e.rec = e.rec.Expire()
			g.pending.Delete(key)
			g.archiveRecord(e.rec)
			g.rec.IncCounter(metrics.FunnelsExpired, map[string]string{"unit": e.rec.Unit.Symbol})
			g.send(rail.MSG_FUNNEL, "EXPIRED", e.rec)
			count++
		}
		e.mu.Unlock()
		return true
	})
	return count
}

// PendingCount reports funnels still awaiting payment (including
// FORWARDING_FAILED records awaiting an operator).
func (g *Gateway) PendingCount() (pending, failed int) {
	g.pending.Range(func(_, value any) bool {
		e := value.(*entry)
		e.mu.Lock()
		if e.rec.Status == rail.FunnelForwardingFailed {
			failed++
		} else {
			pending++
		}
		e.mu.Unlock()
		return true
	})
	return
}

func (g *Gateway) getConfirmed(id string) (rail.FunnelRecord, bool) {
	if v, ok := g.confirmed.Load(id); ok {
		return v.(rail.FunnelRecord), true
	}
	return rail.FunnelRecord{}, false
}

func (g *Gateway) archiveRecord(rec rail.FunnelRecord) {
	if g.archive == nil {
		return
	}
	if err := g.archive.StoreFunnel(rec); err != nil {
		g.log.Warn().Err(err).Str("funnel", rec.ID).Msg("archive write failed")
	}
}

func (g *Gateway) send(t rail.MessageType, event string, rec rail.FunnelRecord) {
	if g.bus == nil {
		return
	}
	g.bus.Send(t, struct {
		Event  string            `json:"event"`
		Funnel rail.FunnelRecord `json:"funnel"`
	}{event, rec}, rec.ID)
}
