package rail

import (
	"context"
	"sync"
)

// ProviderRegistry holds the registered PaymentProviders keyed by
// payment method. Multiple providers may be registered per method;
// registration order is preserved (first registered wins ties).
type ProviderRegistry struct {
	mu        sync.RWMutex
	providers map[PaymentMethod][]PaymentProvider
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		providers: make(map[PaymentMethod][]PaymentProvider),
	}
}

// Register adds a provider under every method it supports.
func (r *ProviderRegistry) Register(p PaymentProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range p.SupportedMethods() {
		r.providers[m] = append(r.providers[m], p)
	}
}

// ProvidersFor returns the providers supporting the given method and
// currency, in registration order.
func (r *ProviderRegistry) ProvidersFor(method PaymentMethod, currency string) []PaymentProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []PaymentProvider
	for _, p := range r.providers[method] {
		if SupportsCurrency(p, currency) {
			out = append(out, p)
		}
	}
	return out
}

// Dispatch validates the request and hands it to the first registered
// provider that supports its method and currency.
func (r *ProviderRegistry) Dispatch(ctx context.Context, req PaymentRequest) (PaymentResult, error) {
	if v := req.Validate(); !v.Valid {
		return PaymentResult{}, NewErr(BadRequest, "invalid payment request: %v", v.Errors)
	}
	eligible := r.ProvidersFor(req.Method, req.Currency)
	if len(eligible) == 0 {
		return PaymentResult{}, NewErr(NoProvidersAvailable,
			"no provider supports method %s and currency %s", req.Method, req.Currency)
	}
	p := eligible[0]
	if v := p.ValidatePayment(req); !v.Valid {
		return PaymentResult{}, NewErr(BadRequest, "provider %s rejected request: %v", p.Name(), v.Errors)
	}
	return p.ProcessPayment(ctx, req)
}
