package router

import (
	"context"
	"errors"
	"testing"
	"time"

	rail "github.com/railpayorg/railpay/pkg"
	"github.com/railpayorg/railpay/pkg/providers"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fee(s string) rail.CoinAmount { return decimal.RequireFromString(s) }

func btcRequest(amount string) rail.PaymentRequest {
	return rail.PaymentRequest{
		Amount:   fee(amount),
		Currency: "BTC",
		Method:   rail.MethodCrypto,
	}
}

// three BTC providers with distinct fees and metrics
func testRouter() (*Router, *rail.ProviderRegistry) {
	reg := rail.NewProviderRegistry()
	reg.Register(providers.NewMockProvider("alpha",
		[]rail.PaymentMethod{rail.MethodCrypto}, []string{"BTC"}, fee("0.002")))
	reg.Register(providers.NewMockProvider("beta",
		[]rail.PaymentMethod{rail.MethodCrypto}, []string{"BTC"}, fee("0.0015")))
	reg.Register(providers.NewMockProvider("gamma",
		[]rail.PaymentMethod{rail.MethodCrypto}, []string{"BTC"}, fee("0.003")))

	metrics := NewStaticMetrics(map[string]ProviderMetrics{
		"alpha": {SuccessRate: 0.99, ProcessingTime: 10 * time.Minute},
		"beta":  {SuccessRate: 0.95, ProcessingTime: 30 * time.Minute},
		"gamma": {SuccessRate: 0.90, ProcessingTime: 1 * time.Minute},
	})
	return NewRouter(reg, metrics, zerolog.Nop(), nil), reg
}

func TestSelectLowestFee(t *testing.T) {
	r, _ := testRouter()
	res, err := r.SelectBestProvider(context.Background(), btcRequest("1"), LowestFee)
	require.NoError(t, err)
	assert.Equal(t, "beta", res.Name)
	assert.True(t, res.Fee.Equal(fee("0.0015")))
	assert.Equal(t, LowestFee, res.Criterion)
}

func TestSelectFastest(t *testing.T) {
	r, _ := testRouter()
	res, err := r.SelectBestProvider(context.Background(), btcRequest("1"), Fastest)
	require.NoError(t, err)
	assert.Equal(t, "gamma", res.Name)
	assert.Equal(t, 1*time.Minute, res.Time)
}

func TestSelectHighestSuccessRate(t *testing.T) {
	r, _ := testRouter()
	res, err := r.SelectBestProvider(context.Background(), btcRequest("1"), HighestSuccessRate)
	require.NoError(t, err)
	assert.Equal(t, "alpha", res.Name)
	assert.Equal(t, 0.99, res.SuccessRate)
}

func TestSelectBestValue(t *testing.T) {
	r, _ := testRouter()
	res, err := r.SelectBestProvider(context.Background(), btcRequest("1"), BestValue)
	require.NoError(t, err)
	// alpha: near-best fee and time combined with the top success rate
	assert.Equal(t, "alpha", res.Name)
	assert.Equal(t, BestValue, res.Criterion)
	assert.Equal(t, 0.99, res.SuccessRate)
}

func TestSelectBestValueTiesGoToFirstRegistered(t *testing.T) {
	reg := rail.NewProviderRegistry()
	reg.Register(providers.NewMockProvider("one",
		[]rail.PaymentMethod{rail.MethodCrypto}, []string{"BTC"}, fee("0.001")))
	reg.Register(providers.NewMockProvider("two",
		[]rail.PaymentMethod{rail.MethodCrypto}, []string{"BTC"}, fee("0.001")))
	r := NewRouter(reg, NewStaticMetrics(nil), zerolog.Nop(), nil)

	res, err := r.SelectBestProvider(context.Background(), btcRequest("1"), BestValue)
	require.NoError(t, err)
	assert.Equal(t, "one", res.Name)
}

func TestSelectTiesGoToFirstRegistered(t *testing.T) {
	reg := rail.NewProviderRegistry()
	reg.Register(providers.NewMockProvider("one",
		[]rail.PaymentMethod{rail.MethodCrypto}, []string{"BTC"}, fee("0.001")))
	reg.Register(providers.NewMockProvider("two",
		[]rail.PaymentMethod{rail.MethodCrypto}, []string{"BTC"}, fee("0.001")))
	r := NewRouter(reg, NewStaticMetrics(nil), zerolog.Nop(), nil)

	res, err := r.SelectBestProvider(context.Background(), btcRequest("1"), LowestFee)
	require.NoError(t, err)
	assert.Equal(t, "one", res.Name)
}

func TestSelectUnknownCriterion(t *testing.T) {
	r, _ := testRouter()
	_, err := r.SelectBestProvider(context.Background(), btcRequest("1"), Criterion("CHEAPEST_VIBES"))
	assert.True(t, rail.IsError(err, rail.BadRequest), "got %v", err)
}

func TestRankOptions(t *testing.T) {
	r, _ := testRouter()
	opts, err := r.RankOptions(context.Background(), btcRequest("1"), 0)
	require.NoError(t, err)
	require.Len(t, opts, 3)

	// best-first, monotonically decreasing scores
	for i := 1; i < len(opts); i++ {
		assert.GreaterOrEqual(t, opts[i-1].Score, opts[i].Score)
	}

	// truncation
	top, err := r.RankOptions(context.Background(), btcRequest("1"), 2)
	require.NoError(t, err)
	assert.Len(t, top, 2)
	assert.Equal(t, opts[0].Name, top[0].Name)
}

func TestNoProvidersAvailable(t *testing.T) {
	r, _ := testRouter()
	req := rail.PaymentRequest{Amount: fee("10"), Currency: "USD", Method: rail.MethodCash}
	_, err := r.SelectBestProvider(context.Background(), req, LowestFee)
	assert.True(t, rail.IsError(err, rail.NoProvidersAvailable), "got %v", err)
}

func TestEstimationFailed(t *testing.T) {
	reg := rail.NewProviderRegistry()
	broken := providers.NewMockProvider("broken",
		[]rail.PaymentMethod{rail.MethodCrypto}, []string{"BTC"}, fee("0.001"))
	broken.FeeErr = errors.New("estimator offline")
	reg.Register(broken)
	r := NewRouter(reg, NewStaticMetrics(nil), zerolog.Nop(), nil)

	_, err := r.SelectBestProvider(context.Background(), btcRequest("1"), LowestFee)
	assert.True(t, rail.IsError(err, rail.EstimationFailed), "got %v", err)
}

func TestBrokenProviderIsSkippedNotFatal(t *testing.T) {
	reg := rail.NewProviderRegistry()
	broken := providers.NewMockProvider("broken",
		[]rail.PaymentMethod{rail.MethodCrypto}, []string{"BTC"}, fee("0.001"))
	broken.FeeErr = errors.New("estimator offline")
	reg.Register(broken)
	reg.Register(providers.NewMockProvider("healthy",
		[]rail.PaymentMethod{rail.MethodCrypto}, []string{"BTC"}, fee("0.002")))
	r := NewRouter(reg, NewStaticMetrics(nil), zerolog.Nop(), nil)

	res, err := r.SelectBestProvider(context.Background(), btcRequest("1"), LowestFee)
	require.NoError(t, err)
	assert.Equal(t, "healthy", res.Name)
}

func TestSplitEqualSumsExactly(t *testing.T) {
	r, _ := testRouter()
	amount := fee("1.00000001") // does not divide evenly by 3
	res, err := r.SplitPayment(context.Background(), btcRequest("1.00000001"), SplitEqual)
	require.NoError(t, err)
	require.Len(t, res.Parts, 3)

	sum := rail.ZeroCoins
	for _, p := range res.Parts {
		sum = sum.Add(p.Amount)
	}
	assert.True(t, sum.Equal(amount), "parts sum to %s, want %s", sum, amount)
	assert.Equal(t, SplitEqual, res.Strategy)
	assert.True(t, res.TotalFee.GreaterThan(rail.ZeroCoins))
}

func TestSplitWeightedFavorsReliableProviders(t *testing.T) {
	r, _ := testRouter()
	res, err := r.SplitPayment(context.Background(), btcRequest("1"), SplitWeighted)
	require.NoError(t, err)

	parts := map[string]rail.CoinAmount{}
	sum := rail.ZeroCoins
	for _, p := range res.Parts {
		parts[p.Name] = p.Amount
		sum = sum.Add(p.Amount)
	}
	assert.True(t, sum.Equal(fee("1")))
	// alpha (0.99) gets more than gamma (0.90)
	assert.True(t, parts["alpha"].GreaterThan(parts["gamma"]),
		"alpha %s should exceed gamma %s", parts["alpha"], parts["gamma"])
}

func TestSplitWeightedAllZeroRatesSplitsEvenly(t *testing.T) {
	reg := rail.NewProviderRegistry()
	reg.Register(providers.NewMockProvider("one",
		[]rail.PaymentMethod{rail.MethodCrypto}, []string{"BTC"}, fee("0.001")))
	reg.Register(providers.NewMockProvider("two",
		[]rail.PaymentMethod{rail.MethodCrypto}, []string{"BTC"}, fee("0.002")))
	metrics := NewStaticMetrics(map[string]ProviderMetrics{
		"one": {SuccessRate: 0, ProcessingTime: time.Minute},
		"two": {SuccessRate: 0, ProcessingTime: time.Minute},
	})
	r := NewRouter(reg, metrics, zerolog.Nop(), nil)

	res, err := r.SplitPayment(context.Background(), btcRequest("1"), SplitWeighted)
	require.NoError(t, err)
	require.Len(t, res.Parts, 2)

	sum := rail.ZeroCoins
	for _, p := range res.Parts {
		assert.True(t, p.Amount.Equal(fee("0.5")), "part %s should be an even share", p.Amount)
		sum = sum.Add(p.Amount)
	}
	assert.True(t, sum.Equal(fee("1")))
}

func TestSplitRequiresTwoProviders(t *testing.T) {
	reg := rail.NewProviderRegistry()
	reg.Register(providers.NewMockProvider("only",
		[]rail.PaymentMethod{rail.MethodCrypto}, []string{"BTC"}, fee("0.001")))
	r := NewRouter(reg, NewStaticMetrics(nil), zerolog.Nop(), nil)

	_, err := r.SplitPayment(context.Background(), btcRequest("1"), SplitEqual)
	assert.True(t, rail.IsError(err, rail.InsufficientProviders), "got %v", err)
}

func TestSplitUnknownStrategy(t *testing.T) {
	r, _ := testRouter()
	_, err := r.SplitPayment(context.Background(), btcRequest("1"), SplitStrategy("YOLO"))
	assert.True(t, rail.IsError(err, rail.BadRequest), "got %v", err)
}

func TestDefaultStaticMetricsFallback(t *testing.T) {
	m := NewStaticMetrics(nil)
	assert.Equal(t, 0.90, m.SuccessRate("never-heard-of-it"))
	assert.Equal(t, 10*time.Minute, m.ProcessingTime("never-heard-of-it"))
}
