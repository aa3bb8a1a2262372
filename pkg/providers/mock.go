// Package providers holds in-process PaymentProvider and Ledger
// implementations used by tests and the demo server. Real rails live
// in their own services behind the same contracts.
package providers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	rail "github.com/railpayorg/railpay/pkg"
	"github.com/shopspring/decimal"
)

// interface guard ensures MockProvider implements rail.PaymentProvider
var _ rail.PaymentProvider = &MockProvider{}

// MockProvider is a configurable in-memory provider. Zero values give
// a crypto provider that accepts everything.
type MockProvider struct {
	ProviderName string
	Methods      []rail.PaymentMethod
	Currencies   []string
	Fee          rail.CoinAmount
	FeeErr       error
	ProcessErr   error

	mu        sync.Mutex
	processed []rail.PaymentRequest
	nextTxn   int
}

func NewMockProvider(name string, methods []rail.PaymentMethod, currencies []string, fee rail.CoinAmount) *MockProvider {
	return &MockProvider{
		ProviderName: name,
		Methods:      methods,
		Currencies:   currencies,
		Fee:          fee,
	}
}

func (m *MockProvider) Name() string {
	return m.ProviderName
}

func (m *MockProvider) SupportedMethods() []rail.PaymentMethod {
	if len(m.Methods) == 0 {
		return []rail.PaymentMethod{rail.MethodCrypto}
	}
	return m.Methods
}

func (m *MockProvider) SupportedCurrencies() []string {
	return m.Currencies
}

func (m *MockProvider) ProcessPayment(ctx context.Context, req rail.PaymentRequest) (rail.PaymentResult, error) {
	if m.ProcessErr != nil {
		return rail.PaymentResult{Success: false, Message: "processing failed", Error: m.ProcessErr.Error()}, m.ProcessErr
	}
	m.mu.Lock()
	m.processed = append(m.processed, req)
	m.nextTxn++
	txid := fmt.Sprintf("%s-txn-%d", m.ProviderName, m.nextTxn)
	m.mu.Unlock()
	return rail.PaymentResult{Success: true, TransactionID: txid, Message: "payment accepted"}, nil
}

func (m *MockProvider) ValidatePayment(req rail.PaymentRequest) rail.ValidationResult {
	return req.Validate()
}

func (m *MockProvider) GetTransactionStatus(ctx context.Context, txID string) (rail.TransactionStatus, error) {
	return rail.TxConfirmed, nil
}

func (m *MockProvider) RefundPayment(ctx context.Context, txID string, amount *rail.CoinAmount) (rail.PaymentResult, error) {
	return rail.PaymentResult{Success: true, TransactionID: txID + "-refund", Message: "refund accepted"}, nil
}

func (m *MockProvider) GetBalance(ctx context.Context, address rail.Address) (rail.CoinAmount, error) {
	return decimal.Zero, nil
}

func (m *MockProvider) EstimateFee(ctx context.Context, req rail.PaymentRequest) (rail.CoinAmount, error) {
	if m.FeeErr != nil {
		return decimal.Zero, m.FeeErr
	}
	return m.Fee, nil
}

func (m *MockProvider) GetTransactionHistory(ctx context.Context, address rail.Address) (<-chan rail.Transaction, error) {
	ch := make(chan rail.Transaction)
	m.mu.Lock()
	processed := make([]rail.PaymentRequest, len(m.processed))
	copy(processed, m.processed)
	m.mu.Unlock()
	go func() {
		defer close(ch)
		for i, req := range processed {
			select {
			case ch <- rail.Transaction{
				ID:     fmt.Sprintf("%s-txn-%d", m.ProviderName, i+1),
				Amount: req.Amount,
				To:     req.RecipientAddress,
				Status: rail.TxCompleted,
			}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Processed returns the requests this provider has accepted.
func (m *MockProvider) Processed() []rail.PaymentRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]rail.PaymentRequest, len(m.processed))
	copy(out, m.processed)
	return out
}

// interface guard ensures MockLedger implements rail.Ledger
var _ rail.Ledger = &MockLedger{}

// MockLedger is an in-memory settlement backend. Balances are set by
// tests with Deposit; Send decrements them and counts calls so tests
// can assert at-most-once forwarding.
type MockLedger struct {
	NetworkFee rail.CoinAmount
	FeeErr     error
	SendErr    error

	mu        sync.Mutex
	nextAddr  int
	balances  map[rail.Address]rail.CoinAmount
	sendCount int64
}

func NewMockLedger() *MockLedger {
	return &MockLedger{
		NetworkFee: decimal.Zero,
		balances:   make(map[rail.Address]rail.CoinAmount),
	}
}

func (l *MockLedger) MakeAddress(ctx context.Context, unit rail.SettlementUnit) (rail.Address, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextAddr++
	return rail.Address(fmt.Sprintf("mock-%s-addr-%d", unit.Symbol, l.nextAddr)), nil
}

func (l *MockLedger) GetBalance(ctx context.Context, addr rail.Address, unit rail.SettlementUnit) (rail.CoinAmount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[addr], nil
}

func (l *MockLedger) Send(ctx context.Context, from, to rail.Address, amount rail.CoinAmount, unit rail.SettlementUnit) (string, error) {
	if l.SendErr != nil {
		return "", l.SendErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[from] = l.balances[from].Sub(amount)
	l.balances[to] = l.balances[to].Add(amount)
	n := atomic.AddInt64(&l.sendCount, 1)
	return fmt.Sprintf("mock-send-%d", n), nil
}

func (l *MockLedger) EstimateFee(ctx context.Context, unit rail.SettlementUnit) (rail.CoinAmount, error) {
	if l.FeeErr != nil {
		return decimal.Zero, l.FeeErr
	}
	return l.NetworkFee, nil
}

// Deposit credits an address, simulating an inbound payment.
func (l *MockLedger) Deposit(addr rail.Address, amount rail.CoinAmount) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[addr] = l.balances[addr].Add(amount)
}

// SendCount reports how many transfers have been submitted.
func (l *MockLedger) SendCount() int64 {
	return atomic.LoadInt64(&l.sendCount)
}
