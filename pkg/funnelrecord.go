package rail

import (
	"time"
)

type FunnelStatus string

const (
	FunnelPending          FunnelStatus = "PENDING"
	FunnelConfirmed        FunnelStatus = "CONFIRMED"
	FunnelExpired          FunnelStatus = "EXPIRED"
	FunnelForwardingFailed FunnelStatus = "FORWARDING_FAILED"
)

// FunnelRecord is a single-use receiving slot bound to one expected
// payment, forwarded once to a fixed merchant address.
//
// Records do not mutate in place: each transition method returns a new
// record, so a terminal record can never be edited back to PENDING.
type FunnelRecord struct {
	// ID is the single-use address the funnel must be paid to.
	ID               string         `json:"id"`
	ReceivingAddress Address        `json:"receiving_address"`
	MerchantAddress  Address        `json:"merchant_address"`
	Expected         CoinAmount     `json:"expected"`
	Unit             SettlementUnit `json:"unit"`
	Status           FunnelStatus   `json:"status"`
	CustomerRef      string         `json:"customer_ref,omitempty"`
	Description      string         `json:"description,omitempty"`
	Created          time.Time      `json:"created"`
	ExpiresAt        time.Time      `json:"expires_at"`

	// Set when the funnel leaves PENDING.
	ConfirmedBalance CoinAmount `json:"confirmed_balance,omitempty"`
	ForwardedRef     string     `json:"forwarded_ref,omitempty"`
	ForwardedAt      time.Time  `json:"forwarded_at,omitempty"`
	FailureReason    string     `json:"failure_reason,omitempty"`
}

// IsExpired reports whether the funnel's wall-clock expiry has passed.
func (r FunnelRecord) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// IsTerminal reports whether the record can transition further.
func (r FunnelRecord) IsTerminal() bool {
	return r.Status != FunnelPending
}

// Confirmed returns the record transitioned to CONFIRMED with the
// received balance and the forwarding reference recorded.
func (r FunnelRecord) Confirmed(balance CoinAmount, ref string, at time.Time) FunnelRecord {
	r.Status = FunnelConfirmed
	r.ConfirmedBalance = balance
	r.ForwardedRef = ref
	r.ForwardedAt = at
	return r
}

// Expire returns the record transitioned to EXPIRED.
func (r FunnelRecord) Expire() FunnelRecord {
	r.Status = FunnelExpired
	return r
}

// ForwardFailed returns the record transitioned to FORWARDING_FAILED.
// This state is terminal and never auto-retried: funds are already
// collected and must not be re-attempted against an unknown
// partial-forward state. Operator intervention required.
func (r FunnelRecord) ForwardFailed(balance CoinAmount, reason string) FunnelRecord {
	r.Status = FunnelForwardingFailed
	r.ConfirmedBalance = balance
	r.FailureReason = reason
	return r
}

// FunnelDetails is the progress view of a funnel, for both pending
// and confirmed records.
type FunnelDetails struct {
	ID              string         `json:"id"`
	Status          FunnelStatus   `json:"status"`
	Unit            SettlementUnit `json:"unit"`
	Expected        CoinAmount     `json:"expected"`
	CurrentBalance  CoinAmount     `json:"current_balance"`
	RemainingAmount CoinAmount     `json:"remaining_amount"`
	ForwardedRef    string         `json:"forwarded_ref,omitempty"`
	ConfirmedAt     *time.Time     `json:"confirmed_at,omitempty"`
}
