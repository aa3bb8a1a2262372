package rail

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestFeeBreakdownReconstructsAmount(t *testing.T) {
	calc := NewFeeCalculator(decimal.RequireFromString("1.0"), map[string]Address{
		"BTC": "dev-btc-collection",
	})

	amount := decimal.RequireFromString("0.5")
	networkFee := decimal.RequireFromString("0.0001")

	b, err := calc.CalculateBreakdown(amount, networkFee, BTC)
	if err != nil {
		t.Fatalf("CalculateBreakdown: %v", err)
	}

	// 1% of 0.5 BTC = 0.005
	if !b.DeveloperFee.Equal(decimal.RequireFromString("0.005")) {
		t.Fatalf("wrong developer fee: %s", b.DeveloperFee)
	}
	if !b.TotalFee.Equal(networkFee.Add(b.DeveloperFee)) {
		t.Fatalf("total fee does not add up: %s", b.TotalFee)
	}
	// the invariant: recipient + fees is exactly the original amount
	if !b.RecipientAmount.Add(b.TotalFee).Equal(amount) {
		t.Fatalf("breakdown does not reconstruct amount: %s + %s != %s",
			b.RecipientAmount, b.TotalFee, amount)
	}
	if b.CollectionAddress != "dev-btc-collection" {
		t.Fatalf("wrong collection address: %s", b.CollectionAddress)
	}
}

func TestFeeBreakdownRoundsAtUnitScale(t *testing.T) {
	calc := NewFeeCalculator(decimal.RequireFromString("1.5"), nil)

	// 1.5% of 0.00000123 BTC is below one satoshi; rounding at the
	// unit scale must still reconstruct the original exactly.
	amount := decimal.RequireFromString("0.00000123")
	b, err := calc.CalculateBreakdown(amount, ZeroCoins, BTC)
	if err != nil {
		t.Fatalf("CalculateBreakdown: %v", err)
	}
	if b.DeveloperFee.Exponent() < -BTC.Decimals {
		t.Fatalf("developer fee not rounded to unit scale: %s", b.DeveloperFee)
	}
	if !b.RecipientAmount.Add(b.TotalFee).Equal(amount) {
		t.Fatalf("breakdown does not reconstruct amount: %s + %s != %s",
			b.RecipientAmount, b.TotalFee, amount)
	}
}

func TestFeeExceedsAmount(t *testing.T) {
	calc := NewFeeCalculator(decimal.RequireFromString("1.0"), nil)
	_, err := calc.CalculateBreakdown(
		decimal.RequireFromString("0.0001"), // amount
		decimal.RequireFromString("0.001"),  // network fee larger than amount
		BTC)
	if !IsError(err, FeeExceedsAmount) {
		t.Fatalf("expected FeeExceedsAmount, got %v", err)
	}
}

func TestFeeBreakdownRejectsBadInputs(t *testing.T) {
	calc := NewFeeCalculator(decimal.RequireFromString("1.0"), nil)
	if _, err := calc.CalculateBreakdown(ZeroCoins, ZeroCoins, BTC); !IsError(err, InvalidAmount) {
		t.Fatalf("expected InvalidAmount for zero amount, got %v", err)
	}
	if _, err := calc.CalculateBreakdown(decimal.NewFromInt(1), decimal.NewFromInt(-1), BTC); !IsError(err, InvalidAmount) {
		t.Fatalf("expected InvalidAmount for negative network fee, got %v", err)
	}
}

func TestFeeCalculatorValueSemantics(t *testing.T) {
	base := NewFeeCalculator(decimal.RequireFromString("1.0"), nil)
	custom := base.WithCollectionAddress(ETH, "dev-eth-collection")

	if base.CollectionAddress(ETH) != GenericCollectionAddress {
		t.Fatalf("WithCollectionAddress mutated the original calculator")
	}
	if custom.CollectionAddress(ETH) != "dev-eth-collection" {
		t.Fatalf("derived calculator lost its address")
	}

	higher := base.WithPercent(decimal.RequireFromString("2.0"))
	if !base.Percent().Equal(decimal.RequireFromString("1.0")) {
		t.Fatalf("WithPercent mutated the original calculator")
	}
	if !higher.Percent().Equal(decimal.RequireFromString("2.0")) {
		t.Fatalf("derived calculator has wrong percent: %s", higher.Percent())
	}
}

func TestZeroPercentFee(t *testing.T) {
	calc := NewFeeCalculator(ZeroCoins, nil)
	amount := decimal.RequireFromString("1.25")
	b, err := calc.CalculateBreakdown(amount, ZeroCoins, BTC)
	if err != nil {
		t.Fatalf("CalculateBreakdown: %v", err)
	}
	if !b.DeveloperFee.IsZero() || !b.TotalFee.IsZero() {
		t.Fatalf("expected zero fees, got dev=%s total=%s", b.DeveloperFee, b.TotalFee)
	}
	if !b.RecipientAmount.Equal(amount) {
		t.Fatalf("recipient should get the full amount, got %s", b.RecipientAmount)
	}
}
