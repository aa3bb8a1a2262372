// Package store provides rail.Store implementations: an in-memory
// store for tests and an SQLite archive for deployments.
package store

import (
	"sort"
	"sync"

	rail "github.com/railpayorg/railpay/pkg"
)

// interface guard ensures Memory implements rail.Store
var _ rail.Store = &Memory{}

// Memory is a concurrent in-memory Store.
type Memory struct {
	mu      sync.RWMutex
	funnels map[string]rail.FunnelRecord
	fiat    map[string]rail.FiatPaymentRequest
}

func NewMemory() *Memory {
	return &Memory{
		funnels: make(map[string]rail.FunnelRecord),
		fiat:    make(map[string]rail.FiatPaymentRequest),
	}
}

func (m *Memory) StoreFunnel(rec rail.FunnelRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funnels[rec.ID] = rec
	return nil
}

func (m *Memory) GetFunnel(id string) (rail.FunnelRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.funnels[id]
	if !ok {
		return rail.FunnelRecord{}, rail.NewErr(rail.NotFound, "no such funnel: %s", id)
	}
	return rec, nil
}

func (m *Memory) ListFunnels(status rail.FunnelStatus, limit int) ([]rail.FunnelRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []rail.FunnelRecord
	for _, rec := range m.funnels {
		if rec.Status == status {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Created.After(out[j].Created)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) StoreFiatRequest(req rail.FiatPaymentRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fiat[req.ID] = req
	return nil
}

func (m *Memory) GetFiatRequest(id string) (rail.FiatPaymentRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.fiat[id]
	if !ok {
		return rail.FiatPaymentRequest{}, rail.NewErr(rail.NotFound, "no such payment request: %s", id)
	}
	return req, nil
}

func (m *Memory) ListFiatRequests(status rail.FunnelStatus, limit int) ([]rail.FiatPaymentRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []rail.FiatPaymentRequest
	for _, req := range m.fiat {
		if req.Status == status {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Created.After(out[j].Created)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Close() error {
	return nil
}
