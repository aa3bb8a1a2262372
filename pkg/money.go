package rail

import (
	"github.com/shopspring/decimal"
)

// Address is a receiving address or account identifier on whatever
// rail a payment settles over. Opaque to railpay.
type Address string

// CoinAmount is used for all money values: fiat and settlement units.
// Never use floats for money.
type CoinAmount = decimal.Decimal

var ZeroCoins = decimal.Zero

var oneHundred = decimal.NewFromInt(100)

// SettlementUnit identifies a settlement currency, with the canonical
// number of decimal places used for rounding amounts in that unit.
// The set of units is fixed at compile time.
type SettlementUnit struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals int32  `json:"decimals"`
}

var (
	BTC  = SettlementUnit{"BTC", "Bitcoin", 8}
	ETH  = SettlementUnit{"ETH", "Ethereum", 18}
	LTC  = SettlementUnit{"LTC", "Litecoin", 8}
	DOGE = SettlementUnit{"DOGE", "Dogecoin", 8}
	BCH  = SettlementUnit{"BCH", "Bitcoin Cash", 8}
	XMR  = SettlementUnit{"XMR", "Monero", 12}
	SOL  = SettlementUnit{"SOL", "Solana", 9}
	ADA  = SettlementUnit{"ADA", "Cardano", 6}
)

// SettlementUnits lists every unit railpay can settle in,
// in a stable order (used for config lookups and rate tables).
var SettlementUnits = []SettlementUnit{BTC, ETH, LTC, DOGE, BCH, XMR, SOL, ADA}

// UnitForSymbol looks up a SettlementUnit by its symbol.
func UnitForSymbol(symbol string) (SettlementUnit, bool) {
	for _, u := range SettlementUnits {
		if u.Symbol == symbol {
			return u, true
		}
	}
	return SettlementUnit{}, false
}

// Round rounds an amount to the unit's canonical scale.
// Half-way values round up (amounts are never negative here,
// so decimal's round-half-away-from-zero is round-half-up.)
func (u SettlementUnit) Round(amount CoinAmount) CoinAmount {
	return amount.Round(u.Decimals)
}

// FiatDecimals is the scale used for all fiat (USD) amounts.
const FiatDecimals int32 = 2

// RoundFiat rounds a fiat amount to cents, half-up.
func RoundFiat(amount CoinAmount) CoinAmount {
	return amount.Round(FiatDecimals)
}

// Percent applies pct% to amount without rounding; callers round
// to the appropriate scale.
func Percent(amount, pct CoinAmount) CoinAmount {
	return amount.Mul(pct).Div(oneHundred)
}
