package router

import (
	"time"
)

// MetricsSource supplies the routing metrics no provider can report
// about itself: historical success rate and typical processing time.
// Inject a telemetry-backed implementation in production; the static
// table below preserves the stock values for compatibility.
type MetricsSource interface {
	// SuccessRate in [0,1] for the named provider.
	SuccessRate(provider string) float64
	// ProcessingTime is the typical end-to-end settlement time.
	ProcessingTime(provider string) time.Duration
}

// ProviderMetrics is one provider's static routing profile.
type ProviderMetrics struct {
	SuccessRate    float64
	ProcessingTime time.Duration
}

// StaticMetrics is a fixed lookup table keyed by provider name.
type StaticMetrics struct {
	table    map[string]ProviderMetrics
	fallback ProviderMetrics
}

var _ MetricsSource = StaticMetrics{}

func NewStaticMetrics(table map[string]ProviderMetrics) StaticMetrics {
	return StaticMetrics{
		table:    table,
		fallback: ProviderMetrics{SuccessRate: 0.90, ProcessingTime: 10 * time.Minute},
	}
}

// DefaultStaticMetrics carries the stock per-provider profiles.
func DefaultStaticMetrics() StaticMetrics {
	return NewStaticMetrics(map[string]ProviderMetrics{
		"bitcoin":        {SuccessRate: 0.98, ProcessingTime: 30 * time.Minute},
		"ethereum":       {SuccessRate: 0.97, ProcessingTime: 3 * time.Minute},
		"litecoin":       {SuccessRate: 0.97, ProcessingTime: 8 * time.Minute},
		"solana":         {SuccessRate: 0.95, ProcessingTime: 30 * time.Second},
		"bank-transfer":  {SuccessRate: 0.99, ProcessingTime: 24 * time.Hour},
		"digital-wallet": {SuccessRate: 0.99, ProcessingTime: 5 * time.Second},
	})
}

func (m StaticMetrics) SuccessRate(provider string) float64 {
	if pm, ok := m.table[provider]; ok {
		return pm.SuccessRate
	}
	return m.fallback.SuccessRate
}

func (m StaticMetrics) ProcessingTime(provider string) time.Duration {
	if pm, ok := m.table[provider]; ok {
		return pm.ProcessingTime
	}
	return m.fallback.ProcessingTime
}
