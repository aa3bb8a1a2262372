package rail

import (
	"time"
)

// FiatPaymentRequest is a USD-denominated payment request backed by a
// settlement-unit funnel. The exchange rate is frozen at creation and
// never recomputed for this request; only the final confirmed balance
// is converted back to fiat for reporting.
type FiatPaymentRequest struct {
	ID          string         `json:"id"`
	FiatAmount  CoinAmount     `json:"fiat_amount"`
	ServiceFee  CoinAmount     `json:"service_fee"`
	TotalFiat   CoinAmount     `json:"total_fiat"`
	CryptoAmount CoinAmount    `json:"crypto_amount"`
	Unit        SettlementUnit `json:"unit"`
	// ExchangeRate is the fiat price of one unit at creation time.
	ExchangeRate CoinAmount `json:"exchange_rate"`
	// FunnelID keys the underlying FunnelRecord.
	FunnelID    string            `json:"funnel_id"`
	PayToAddress Address          `json:"pay_to_address"`
	Status      FunnelStatus      `json:"status"`
	CustomerRef string            `json:"customer_ref,omitempty"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Created     time.Time         `json:"created"`
	ExpiresAt   time.Time         `json:"expires_at"`

	// Set once the underlying funnel confirms: what was actually
	// received, converted back to fiat at reporting time.
	ReceivedCrypto CoinAmount `json:"received_crypto,omitempty"`
	ReceivedFiat   CoinAmount `json:"received_fiat,omitempty"`
}

func (r FiatPaymentRequest) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

func (r FiatPaymentRequest) IsTerminal() bool {
	return r.Status != FunnelPending
}

// WithStatus returns the request transitioned to the given status.
func (r FiatPaymentRequest) WithStatus(s FunnelStatus) FiatPaymentRequest {
	r.Status = s
	return r
}

// Settled returns the request transitioned to CONFIRMED with the final
// received amounts recorded.
func (r FiatPaymentRequest) Settled(receivedCrypto, receivedFiat CoinAmount) FiatPaymentRequest {
	r.Status = FunnelConfirmed
	r.ReceivedCrypto = receivedCrypto
	r.ReceivedFiat = receivedFiat
	return r
}

// GatewayHealth aggregates converter health with the gateway's own
// request counts.
type GatewayHealth struct {
	Healthy          bool      `json:"healthy"`
	ConverterHealthy bool      `json:"converter_healthy"`
	LastRateUpdate   time.Time `json:"last_rate_update"`
	RateCacheSize    int       `json:"rate_cache_size"`
	PendingRequests  int       `json:"pending_requests"`
	ConfirmedRequests int      `json:"confirmed_requests"`
	FailedRequests   int       `json:"failed_requests"`
	ExpiredUnswept   int       `json:"expired_unswept"`
}
