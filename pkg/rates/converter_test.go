package rates

import (
	"context"
	"errors"
	"testing"

	rail "github.com/railpayorg/railpay/pkg"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource serves a fixed rate table and counts fetches.
type fakeSource struct {
	rates map[string]rail.CoinAmount
	err   error
	calls int
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) FetchRates(ctx context.Context) (map[string]rail.CoinAmount, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]rail.CoinAmount, len(f.rates))
	for k, v := range f.rates {
		out[k] = v
	}
	return out, nil
}

func btcTable() map[string]rail.CoinAmount {
	return map[string]rail.CoinAmount{
		"BTC": decimal.RequireFromString("43250.75"),
		"ETH": decimal.RequireFromString("2280.50"),
	}
}

func testConverter(t *testing.T, src Source) *Converter {
	t.Helper()
	conf := rail.TestConfig()
	conf.Rates.RateLimitMillis = 0 // no spacing between fetches in tests
	return NewConverter(conf, []Source{src}, zerolog.Nop(), nil)
}

func TestConvertFiatToUnit(t *testing.T) {
	conv := testConverter(t, &fakeSource{rates: btcTable()})

	res, err := conv.ConvertFiatToUnit(context.Background(), decimal.NewFromInt(100), rail.BTC)
	require.NoError(t, err)
	assert.True(t, res.Rate.Equal(decimal.RequireFromString("43250.75")))
	// 100 / 43250.75 rounded half-up at 8 decimals
	assert.True(t, res.UnitAmount.Equal(decimal.RequireFromString("0.00231210")),
		"got %s", res.UnitAmount)
}

func TestConvertRoundTripWithinOneCent(t *testing.T) {
	conv := testConverter(t, &fakeSource{rates: btcTable()})
	ctx := context.Background()

	fiat := decimal.NewFromInt(100)
	toUnit, err := conv.ConvertFiatToUnit(ctx, fiat, rail.BTC)
	require.NoError(t, err)
	back, err := conv.ConvertUnitToFiat(ctx, toUnit.UnitAmount, rail.BTC)
	require.NoError(t, err)

	diff := back.FiatAmount.Sub(fiat).Abs()
	assert.True(t, diff.LessThanOrEqual(decimal.RequireFromString("0.01")),
		"round trip drifted by %s", diff)
}

func TestConvertRejectsBadAmounts(t *testing.T) {
	conv := testConverter(t, &fakeSource{rates: btcTable()})
	ctx := context.Background()

	_, err := conv.ConvertFiatToUnit(ctx, decimal.Zero, rail.BTC)
	assert.True(t, rail.IsError(err, rail.InvalidAmount), "got %v", err)

	_, err = conv.ConvertFiatToUnit(ctx, decimal.NewFromInt(-5), rail.BTC)
	assert.True(t, rail.IsError(err, rail.InvalidAmount), "got %v", err)

	// so small it rounds to zero at BTC's 8 decimals
	_, err = conv.ConvertFiatToUnit(ctx, decimal.RequireFromString("0.000001"), rail.BTC)
	assert.True(t, rail.IsError(err, rail.AmountTooSmall), "got %v", err)

	// one satoshi is worth well under a cent
	_, err = conv.ConvertUnitToFiat(ctx, decimal.RequireFromString("0.00000001"), rail.BTC)
	assert.True(t, rail.IsError(err, rail.AmountTooSmall), "got %v", err)
}

func TestConvertUnknownUnit(t *testing.T) {
	conv := testConverter(t, &fakeSource{rates: map[string]rail.CoinAmount{
		"BTC": decimal.RequireFromString("43250.75"),
	}})
	_, err := conv.ConvertFiatToUnit(context.Background(), decimal.NewFromInt(100), rail.XMR)
	assert.True(t, rail.IsError(err, rail.NotAvailable), "got %v", err)
}

func TestCacheServesRepeatCalls(t *testing.T) {
	src := &fakeSource{rates: btcTable()}
	conv := testConverter(t, src)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := conv.ConvertFiatToUnit(ctx, decimal.NewFromInt(100), rail.BTC)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, src.calls, "cache should absorb repeat conversions")

	// a forced refresh bypasses the TTL check
	require.NoError(t, conv.RefreshRates(ctx))
	assert.Equal(t, 2, src.calls)
}

func TestFallbackWhenAllSourcesFail(t *testing.T) {
	src := &fakeSource{err: errors.New("upstream down")}
	conv := testConverter(t, src)
	ctx := context.Background()

	// conversions still work, degraded to the built-in table
	res, err := conv.ConvertFiatToUnit(ctx, decimal.NewFromInt(100), rail.BTC)
	require.NoError(t, err)
	assert.True(t, res.Rate.Equal(decimal.RequireFromString(DefaultFallbackRates["BTC"])))

	all, err := conv.AllRates(ctx)
	require.NoError(t, err)
	assert.Len(t, all, len(DefaultFallbackRates))

	// but health reporting is honest about it
	h := conv.Health()
	assert.False(t, h.Healthy)
	assert.True(t, h.LastSuccessfulUpdate.IsZero())
}

func TestRecoveryAfterSourceComesBack(t *testing.T) {
	src := &fakeSource{err: errors.New("upstream down")}
	conv := testConverter(t, src)
	ctx := context.Background()

	_, err := conv.ConvertFiatToUnit(ctx, decimal.NewFromInt(100), rail.BTC)
	require.NoError(t, err)
	assert.False(t, conv.Health().Healthy)

	src.err = nil
	src.rates = btcTable()
	require.NoError(t, conv.RefreshRates(ctx))

	h := conv.Health()
	assert.True(t, h.Healthy)
	assert.False(t, h.LastSuccessfulUpdate.IsZero())

	res, err := conv.ConvertFiatToUnit(ctx, decimal.NewFromInt(100), rail.BTC)
	require.NoError(t, err)
	assert.True(t, res.Rate.Equal(decimal.RequireFromString("43250.75")))
}

func TestSecondSourceUsedWhenFirstFails(t *testing.T) {
	bad := &fakeSource{err: errors.New("primary down")}
	good := &fakeSource{rates: btcTable()}
	conf := rail.TestConfig()
	conf.Rates.RateLimitMillis = 0
	conv := NewConverter(conf, []Source{bad, good}, zerolog.Nop(), nil)

	res, err := conv.ConvertFiatToUnit(context.Background(), decimal.NewFromInt(100), rail.BTC)
	require.NoError(t, err)
	assert.True(t, res.Rate.Equal(decimal.RequireFromString("43250.75")))
	assert.Equal(t, 1, bad.calls)
	assert.Equal(t, 1, good.calls)
	assert.True(t, conv.Health().Healthy)
}
