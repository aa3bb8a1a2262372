// Package metrics exposes a small Recorder interface so railpay
// components can count events and observe latencies without caring
// whether metrics are enabled.
package metrics

import (
	"time"
)

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, d time.Duration, labels map[string]string)
}

// Common counter names.
const (
	ConversionsTotal   = "conversions"
	RateRefreshesTotal = "rate_refreshes"
	RateFallbacksTotal = "rate_fallbacks"
	FunnelsOpened      = "funnels_opened"
	FunnelsConfirmed   = "funnels_confirmed"
	FunnelsExpired     = "funnels_expired"
	ForwardFailures    = "forward_failures"
	FiatRequests       = "fiat_requests"
	RoutingDecisions   = "routing_decisions"
)
