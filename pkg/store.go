package rail

// Store archives funnel records and fiat requests once they reach a
// terminal state, and serves historical lookups. Live PENDING state is
// owned by the gateways (in-process, per the process-lifetime
// durability scope); the store is the audit trail.
type Store interface {
	// StoreFunnel inserts or replaces a funnel record by ID.
	StoreFunnel(rec FunnelRecord) error
	// GetFunnel returns the funnel record with the given ID.
	GetFunnel(id string) (FunnelRecord, error)
	// ListFunnels returns up to limit records with the given status,
	// newest first.
	ListFunnels(status FunnelStatus, limit int) ([]FunnelRecord, error)

	// StoreFiatRequest inserts or replaces a fiat request by ID.
	StoreFiatRequest(req FiatPaymentRequest) error
	// GetFiatRequest returns the fiat request with the given ID.
	GetFiatRequest(id string) (FiatPaymentRequest, error)
	// ListFiatRequests returns up to limit requests with the given
	// status, newest first.
	ListFiatRequests(status FunnelStatus, limit int) ([]FiatPaymentRequest, error)

	Close() error
}
