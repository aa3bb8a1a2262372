package rail

import (
	"github.com/shopspring/decimal"
)

// GenericCollectionAddress is used for units with no configured
// developer-fee collection address.
const GenericCollectionAddress Address = "railpay-dev-collection"

// FeeBreakdown is the per-transaction fee accounting. Immutable once
// created; RecipientAmount + TotalFee always equals OriginalAmount
// exactly, at the unit's canonical scale.
type FeeBreakdown struct {
	OriginalAmount    CoinAmount     `json:"original_amount"`
	NetworkFee        CoinAmount     `json:"network_fee"`
	DeveloperFee      CoinAmount     `json:"developer_fee"`
	TotalFee          CoinAmount     `json:"total_fee"`
	RecipientAmount   CoinAmount     `json:"recipient_amount"`
	CollectionAddress Address        `json:"collection_address"`
	Unit              SettlementUnit `json:"unit"`
}

// FeeCalculator computes deterministic fee breakdowns. It is a value
// type: With* methods return a new calculator, the receiver is never
// mutated, and there is no hidden global configuration.
type FeeCalculator struct {
	percent    CoinAmount
	collection map[string]Address // keyed by unit symbol
}

// NewFeeCalculator builds a calculator with the given developer-fee
// percentage and per-unit collection address table.
func NewFeeCalculator(percent CoinAmount, collection map[string]Address) FeeCalculator {
	c := FeeCalculator{percent: percent, collection: make(map[string]Address, len(collection))}
	for sym, addr := range collection {
		c.collection[sym] = addr
	}
	return c
}

// FeeCalculatorFromConfig builds a calculator from the Fees section
// of the config.
func FeeCalculatorFromConfig(conf Config) (FeeCalculator, error) {
	pct, err := decimal.NewFromString(conf.Fees.DeveloperFeePercent)
	if err != nil {
		return FeeCalculator{}, NewErr(BadRequest, "bad developer fee percent %q: %v", conf.Fees.DeveloperFeePercent, err)
	}
	table := make(map[string]Address, len(conf.Fees.CollectionAddresses))
	for sym, addr := range conf.Fees.CollectionAddresses {
		table[sym] = Address(addr)
	}
	return NewFeeCalculator(pct, table), nil
}

// Percent returns the developer fee percentage.
func (c FeeCalculator) Percent() CoinAmount {
	return c.percent
}

// WithPercent returns a new calculator with a different fee percentage.
func (c FeeCalculator) WithPercent(percent CoinAmount) FeeCalculator {
	return NewFeeCalculator(percent, c.collection)
}

// WithCollectionAddress returns a new calculator with the collection
// address for one unit replaced.
func (c FeeCalculator) WithCollectionAddress(unit SettlementUnit, addr Address) FeeCalculator {
	next := NewFeeCalculator(c.percent, c.collection)
	next.collection[unit.Symbol] = addr
	return next
}

// CollectionAddress returns the developer-fee collection address for
// a unit, or the generic placeholder if none is configured.
func (c FeeCalculator) CollectionAddress(unit SettlementUnit) Address {
	if addr, ok := c.collection[unit.Symbol]; ok {
		return addr
	}
	return GenericCollectionAddress
}

// CalculateBreakdown derives the fee breakdown for a transaction.
// The developer fee is rounded half-up at the unit's scale, so
// recipient + fees reconstructs the original amount exactly.
// Fails with FeeExceedsAmount rather than let the recipient amount
// go negative (a negative recipient means misconfiguration).
func (c FeeCalculator) CalculateBreakdown(amount, networkFee CoinAmount, unit SettlementUnit) (FeeBreakdown, error) {
	if amount.LessThanOrEqual(ZeroCoins) {
		return FeeBreakdown{}, NewErr(InvalidAmount, "amount must be greater than zero, got %s", amount)
	}
	if networkFee.IsNegative() {
		return FeeBreakdown{}, NewErr(InvalidAmount, "network fee cannot be negative, got %s", networkFee)
	}
	devFee := unit.Round(Percent(amount, c.percent))
	totalFee := networkFee.Add(devFee)
	if totalFee.GreaterThan(amount) {
		return FeeBreakdown{}, NewErr(FeeExceedsAmount,
			"total fee %s exceeds amount %s %s", totalFee, amount, unit.Symbol)
	}
	return FeeBreakdown{
		OriginalAmount:    amount,
		NetworkFee:        networkFee,
		DeveloperFee:      devFee,
		TotalFee:          totalFee,
		RecipientAmount:   amount.Sub(totalFee),
		CollectionAddress: c.CollectionAddress(unit),
		Unit:              unit,
	}, nil
}
