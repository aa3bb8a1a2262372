package funnel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	rail "github.com/railpayorg/railpay/pkg"
	"github.com/railpayorg/railpay/pkg/providers"
	"github.com/railpayorg/railpay/pkg/store"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func testGateway(t *testing.T, ledger *providers.MockLedger, mutate func(*rail.Config)) (*Gateway, *store.Memory) {
	t.Helper()
	conf := rail.TestConfig()
	conf.Fees.DeveloperFeePercent = "0" // most tests want a single Send
	if mutate != nil {
		mutate(&conf)
	}
	fees, err := rail.FeeCalculatorFromConfig(conf)
	if err != nil {
		t.Fatalf("FeeCalculatorFromConfig: %v", err)
	}
	archive := store.NewMemory()
	return NewGateway(conf, ledger, fees, archive, nil, zerolog.Nop(), nil), archive
}

func TestOpenAndUnderpaidStaysPending(t *testing.T) {
	ledger := providers.NewMockLedger()
	g, _ := testGateway(t, ledger, nil)
	ctx := context.Background()

	rec, err := g.Open(ctx, decimal.RequireFromString("0.5"), rail.BTC, "order-1", "pants")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if rec.Status != rail.FunnelPending {
		t.Fatalf("new funnel should be PENDING, got %s", rec.Status)
	}
	if rec.ID != string(rec.ReceivingAddress) {
		t.Fatalf("funnel ID should be its receiving address")
	}

	// a partial payment does not trigger forwarding
	ledger.Deposit(rec.ReceivingAddress, decimal.RequireFromString("0.3"))
	rec2, err := g.CheckStatus(ctx, rec.ID)
	if err != nil {
		t.Fatalf("CheckStatus: %v", err)
	}
	if rec2.Status != rail.FunnelPending {
		t.Fatalf("underpaid funnel should stay PENDING, got %s", rec2.Status)
	}
	if n := ledger.SendCount(); n != 0 {
		t.Fatalf("no transfers expected yet, got %d", n)
	}
}

func TestForwardHappensExactlyOnce(t *testing.T) {
	ledger := providers.NewMockLedger()
	g, archive := testGateway(t, ledger, nil)
	ctx := context.Background()

	expected := decimal.RequireFromString("0.5")
	rec, err := g.Open(ctx, expected, rail.BTC, "", "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ledger.Deposit(rec.ReceivingAddress, expected)

	// hammer CheckStatus from many goroutines; the per-funnel lock
	// must let exactly one of them forward
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.CheckStatus(ctx, rec.ID)
		}()
	}
	wg.Wait()

	if n := ledger.SendCount(); n != 1 {
		t.Fatalf("expected exactly 1 transfer, got %d", n)
	}
	final, err := g.CheckStatus(ctx, rec.ID)
	if err != nil {
		t.Fatalf("CheckStatus after confirm: %v", err)
	}
	if final.Status != rail.FunnelConfirmed {
		t.Fatalf("expected CONFIRMED, got %s", final.Status)
	}
	if final.ForwardedRef == "" {
		t.Fatalf("confirmed funnel missing forwarding reference")
	}
	if !final.ConfirmedBalance.Equal(expected) {
		t.Fatalf("wrong confirmed balance: %s", final.ConfirmedBalance)
	}

	// merchant got the full amount (zero fees in this config)
	merchant := rail.Address(rail.TestConfig().Funnel.MerchantAddresses["BTC"])
	bal, _ := ledger.GetBalance(ctx, merchant, rail.BTC)
	if !bal.Equal(expected) {
		t.Fatalf("merchant balance %s, want %s", bal, expected)
	}

	// terminal record is archived
	stored, err := archive.GetFunnel(rec.ID)
	if err != nil {
		t.Fatalf("archive.GetFunnel: %v", err)
	}
	if stored.Status != rail.FunnelConfirmed {
		t.Fatalf("archived record has wrong status: %s", stored.Status)
	}
}

func TestForwardDeductsFees(t *testing.T) {
	ledger := providers.NewMockLedger()
	ledger.NetworkFee = decimal.RequireFromString("0.0001")
	g, _ := testGateway(t, ledger, func(c *rail.Config) {
		c.Fees.DeveloperFeePercent = "1.0"
	})
	ctx := context.Background()

	expected := decimal.RequireFromString("0.5")
	rec, _ := g.Open(ctx, expected, rail.BTC, "", "")
	ledger.Deposit(rec.ReceivingAddress, expected)

	final, err := g.CheckStatus(ctx, rec.ID)
	if err != nil {
		t.Fatalf("CheckStatus: %v", err)
	}
	if final.Status != rail.FunnelConfirmed {
		t.Fatalf("expected CONFIRMED, got %s", final.Status)
	}
	// two transfers: merchant payout and developer fee collection
	if n := ledger.SendCount(); n != 2 {
		t.Fatalf("expected 2 transfers, got %d", n)
	}
	merchant := rail.Address(rail.TestConfig().Funnel.MerchantAddresses["BTC"])
	bal, _ := ledger.GetBalance(ctx, merchant, rail.BTC)
	// 0.5 - 0.005 (1% dev fee) - 0.0001 (network fee)
	want := decimal.RequireFromString("0.4949")
	if !bal.Equal(want) {
		t.Fatalf("merchant balance %s, want %s", bal, want)
	}
	devAddr := rail.Address(rail.TestConfig().Fees.CollectionAddresses["BTC"])
	devBal, _ := ledger.GetBalance(ctx, devAddr, rail.BTC)
	if !devBal.Equal(decimal.RequireFromString("0.005")) {
		t.Fatalf("collection balance %s, want 0.005", devBal)
	}
}

func TestExpiredFunnelTransitions(t *testing.T) {
	ledger := providers.NewMockLedger()
	g, archive := testGateway(t, ledger, func(c *rail.Config) {
		c.Funnel.TimeoutMinutes = -1 // born expired
	})
	ctx := context.Background()

	rec, _ := g.Open(ctx, decimal.RequireFromString("0.5"), rail.BTC, "", "")
	got, err := g.CheckStatus(ctx, rec.ID)
	if err != nil {
		t.Fatalf("CheckStatus: %v", err)
	}
	if got.Status != rail.FunnelExpired {
		t.Fatalf("expected EXPIRED, got %s", got.Status)
	}

	// expired funnels are evicted; only the archive remembers them
	if _, err := g.CheckStatus(ctx, rec.ID); !rail.IsNotFoundError(err) {
		t.Fatalf("expected NotFound after eviction, got %v", err)
	}
	stored, err := archive.GetFunnel(rec.ID)
	if err != nil {
		t.Fatalf("archive.GetFunnel: %v", err)
	}
	if stored.Status != rail.FunnelExpired {
		t.Fatalf("archived record has wrong status: %s", stored.Status)
	}
}

func TestCleanupExpiredIsIdempotent(t *testing.T) {
	ledger := providers.NewMockLedger()
	g, _ := testGateway(t, ledger, func(c *rail.Config) {
		c.Funnel.TimeoutMinutes = -1
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		g.Open(ctx, decimal.RequireFromString("0.1"), rail.BTC, "", "")
	}
	if n := g.CleanupExpired(); n != 3 {
		t.Fatalf("first sweep should expire 3 funnels, got %d", n)
	}
	if n := g.CleanupExpired(); n != 0 {
		t.Fatalf("second sweep should be a no-op, got %d", n)
	}
}

func TestCancelPendingOnly(t *testing.T) {
	ledger := providers.NewMockLedger()
	g, _ := testGateway(t, ledger, nil)
	ctx := context.Background()

	rec, _ := g.Open(ctx, decimal.RequireFromString("0.5"), rail.BTC, "", "")
	if !g.Cancel(rec.ID) {
		t.Fatalf("expected cancel of pending funnel to succeed")
	}
	if g.Cancel(rec.ID) {
		t.Fatalf("second cancel should fail")
	}
	if _, err := g.CheckStatus(ctx, rec.ID); !rail.IsNotFoundError(err) {
		t.Fatalf("cancelled funnel should be gone, got %v", err)
	}

	// a confirmed funnel cannot be cancelled
	rec2, _ := g.Open(ctx, decimal.RequireFromString("0.5"), rail.BTC, "", "")
	ledger.Deposit(rec2.ReceivingAddress, decimal.RequireFromString("0.5"))
	g.CheckStatus(ctx, rec2.ID)
	if g.Cancel(rec2.ID) {
		t.Fatalf("expected cancel of confirmed funnel to fail")
	}
}

func TestForwardFailureIsTerminal(t *testing.T) {
	ledger := providers.NewMockLedger()
	ledger.SendErr = errors.New("rail rejected the transfer")
	g, _ := testGateway(t, ledger, nil)
	ctx := context.Background()

	expected := decimal.RequireFromString("0.5")
	rec, _ := g.Open(ctx, expected, rail.BTC, "", "")
	ledger.Deposit(rec.ReceivingAddress, expected)

	got, err := g.CheckStatus(ctx, rec.ID)
	if !rail.IsError(err, rail.ForwardingFailed) {
		t.Fatalf("expected ForwardingFailed, got %v", err)
	}
	if got.Status != rail.FunnelForwardingFailed {
		t.Fatalf("expected FORWARDING_FAILED, got %s", got.Status)
	}
	if got.FailureReason == "" {
		t.Fatalf("failure reason missing")
	}

	// the ledger recovers, but a failed forward is never retried
	ledger.SendErr = nil
	again, err := g.CheckStatus(ctx, rec.ID)
	if err != nil {
		t.Fatalf("CheckStatus on terminal record: %v", err)
	}
	if again.Status != rail.FunnelForwardingFailed {
		t.Fatalf("terminal status changed to %s", again.Status)
	}
	if n := ledger.SendCount(); n != 0 {
		t.Fatalf("no transfer should have happened, got %d", n)
	}

	// still visible to the operator via PendingCount
	_, failed := g.PendingCount()
	if failed != 1 {
		t.Fatalf("expected 1 failed funnel, got %d", failed)
	}
}

func TestTransientBalanceErrorKeepsPending(t *testing.T) {
	ledger := providers.NewMockLedger()
	g, _ := testGateway(t, ledger, nil)
	ctx := context.Background()

	rec, _ := g.Open(ctx, decimal.RequireFromString("0.5"), rail.BTC, "", "")

	// details reports the remaining amount
	d, err := g.Details(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Details: %v", err)
	}
	if !d.RemainingAmount.Equal(rec.Expected) {
		t.Fatalf("remaining %s, want %s", d.RemainingAmount, rec.Expected)
	}

	ledger.Deposit(rec.ReceivingAddress, decimal.RequireFromString("0.2"))
	d, _ = g.Details(ctx, rec.ID)
	if !d.RemainingAmount.Equal(decimal.RequireFromString("0.3")) {
		t.Fatalf("remaining %s, want 0.3", d.RemainingAmount)
	}
	if !d.CurrentBalance.Equal(decimal.RequireFromString("0.2")) {
		t.Fatalf("balance %s, want 0.2", d.CurrentBalance)
	}
}

func TestOpenRejectsBadInputs(t *testing.T) {
	ledger := providers.NewMockLedger()
	g, _ := testGateway(t, ledger, nil)
	ctx := context.Background()

	if _, err := g.Open(ctx, decimal.Zero, rail.BTC, "", ""); !rail.IsError(err, rail.InvalidAmount) {
		t.Fatalf("expected InvalidAmount, got %v", err)
	}
	// no merchant address configured for XMR in the test config
	if _, err := g.Open(ctx, decimal.NewFromInt(1), rail.XMR, "", ""); !rail.IsError(err, rail.NotAvailable) {
		t.Fatalf("expected NotAvailable, got %v", err)
	}
}

// checkStatus on a fresh funnel should be cheap; this guards against
// accidentally reintroducing a global lock on the hot path.
func TestConcurrentDifferentFunnels(t *testing.T) {
	ledger := providers.NewMockLedger()
	g, _ := testGateway(t, ledger, nil)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 8; i++ {
		rec, err := g.Open(ctx, decimal.RequireFromString("0.5"), rail.BTC, "", "")
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		ids = append(ids, rec.ID)
		ledger.Deposit(rec.ReceivingAddress, decimal.RequireFromString("0.5"))
	}
	var wg sync.WaitGroup
	for _, id := range ids {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.CheckStatus(ctx, id)
		}()
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("concurrent CheckStatus deadlocked")
	}
	if n := ledger.SendCount(); n != 8 {
		t.Fatalf("expected 8 transfers, got %d", n)
	}
}
