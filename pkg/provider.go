package rail

import (
	"context"

	"github.com/go-playground/validator/v10"
)

// PaymentMethod categorizes the rail a payment travels over.
type PaymentMethod string

const (
	MethodCrypto        PaymentMethod = "CRYPTO"
	MethodBankTransfer  PaymentMethod = "BANK_TRANSFER"
	MethodDigitalWallet PaymentMethod = "DIGITAL_WALLET"
	// MethodCash is recognized but never routed; no provider supports it.
	MethodCash PaymentMethod = "CASH"
)

// TransactionStatus as reported by a provider.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "PENDING"
	TxConfirmed TransactionStatus = "CONFIRMED"
	TxCompleted TransactionStatus = "COMPLETED"
	TxFailed    TransactionStatus = "FAILED"
	TxCancelled TransactionStatus = "CANCELLED"
	TxRefunded  TransactionStatus = "REFUNDED"
)

// PaymentRequest is the core's view of a payment to be executed.
// Amount is in the settlement currency given by Currency.
type PaymentRequest struct {
	Amount           CoinAmount        `json:"amount"`
	Currency         string            `json:"currency" validate:"required"`
	Method           PaymentMethod     `json:"method" validate:"required,oneof=CRYPTO BANK_TRANSFER DIGITAL_WALLET CASH"`
	Description      string            `json:"description"`
	RecipientAddress Address           `json:"recipient_address"`
	SenderAddress    Address           `json:"sender_address"`
	// PrivateKey is opaque to the core; required for CRYPTO only.
	PrivateKey string            `json:"-"`
	ReturnURL  string            `json:"return_url" validate:"omitempty,url"`
	Metadata   map[string]string `json:"metadata"`
}

var validate = validator.New()

// Validate applies the request's own local validation rules:
// struct-level field checks plus the per-method requirements
// (CRYPTO needs a private key, DIGITAL_WALLET needs a return URL).
func (r PaymentRequest) Validate() ValidationResult {
	var errs []string
	if err := validate.Struct(r); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				errs = append(errs, fe.Field()+": failed "+fe.Tag())
			}
		} else {
			errs = append(errs, err.Error())
		}
	}
	if r.Amount.LessThanOrEqual(ZeroCoins) {
		errs = append(errs, "amount: must be greater than zero")
	}
	switch r.Method {
	case MethodCrypto:
		if r.PrivateKey == "" {
			errs = append(errs, "private_key: required for CRYPTO payments")
		}
		if r.RecipientAddress == "" {
			errs = append(errs, "recipient_address: required for CRYPTO payments")
		}
	case MethodDigitalWallet:
		if r.ReturnURL == "" {
			errs = append(errs, "return_url: required for DIGITAL_WALLET payments")
		}
	}
	if len(errs) > 0 {
		return ValidationResult{Errors: errs}
	}
	return ValidationResult{Valid: true}
}

type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

type PaymentResult struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transaction_id,omitempty"`
	Message       string `json:"message"`
	Error         string `json:"error,omitempty"`
}

type Transaction struct {
	ID     string            `json:"id"`
	Amount CoinAmount        `json:"amount"`
	From   Address           `json:"from"`
	To     Address           `json:"to"`
	Status TransactionStatus `json:"status"`
}

// TransactionWithFees pairs a provider result with the fee breakdown
// the core computed for it.
type TransactionWithFees struct {
	Result PaymentResult `json:"result"`
	Fees   FeeBreakdown  `json:"fees"`
}

// PaymentProvider is the capability contract every backend presents.
// Chain clients, bank rails and wallet rails all live behind this;
// the core never sees anything more specific.
type PaymentProvider interface {
	// Name identifies the provider for routing metrics and logs.
	Name() string
	SupportedMethods() []PaymentMethod
	SupportedCurrencies() []string
	ProcessPayment(ctx context.Context, req PaymentRequest) (PaymentResult, error)
	ValidatePayment(req PaymentRequest) ValidationResult
	GetTransactionStatus(ctx context.Context, txID string) (TransactionStatus, error)
	// RefundPayment refunds all (amount nil) or part of a transaction.
	RefundPayment(ctx context.Context, txID string, amount *CoinAmount) (PaymentResult, error)
	GetBalance(ctx context.Context, address Address) (CoinAmount, error)
	EstimateFee(ctx context.Context, req PaymentRequest) (CoinAmount, error)
	// GetTransactionHistory sends transactions for an address to the
	// returned channel, which is closed when the (finite) sequence ends.
	GetTransactionHistory(ctx context.Context, address Address) (<-chan Transaction, error)
}

// SupportsMethod reports whether p advertises the given method.
func SupportsMethod(p PaymentProvider, m PaymentMethod) bool {
	for _, pm := range p.SupportedMethods() {
		if pm == m {
			return true
		}
	}
	return false
}

// SupportsCurrency reports whether p advertises the given currency code.
func SupportsCurrency(p PaymentProvider, currency string) bool {
	for _, c := range p.SupportedCurrencies() {
		if c == currency {
			return true
		}
	}
	return false
}

// Ledger is the settlement backend a PaymentFunnel operates against:
// it allocates single-use receiving addresses, reports their balance,
// and submits transfers. One implementation per settlement rail.
type Ledger interface {
	// MakeAddress allocates a fresh single-use receiving address.
	MakeAddress(ctx context.Context, unit SettlementUnit) (Address, error)
	GetBalance(ctx context.Context, addr Address, unit SettlementUnit) (CoinAmount, error)
	// Send transfers amount from a railpay-controlled address and
	// returns a transfer reference (e.g. a txid).
	Send(ctx context.Context, from, to Address, amount CoinAmount, unit SettlementUnit) (string, error)
	EstimateFee(ctx context.Context, unit SettlementUnit) (CoinAmount, error)
}
