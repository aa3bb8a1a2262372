package rail

import (
	"fmt"
)

type ErrorCode string

const (
	BadRequest    ErrorCode = "bad-request"
	NotAvailable  ErrorCode = "not-available"
	NotFound      ErrorCode = "not-found"
	AlreadyExists ErrorCode = "already-exists"
	UnknownError  ErrorCode = "unknown-error"

	// conversion failures
	InvalidAmount  ErrorCode = "invalid-amount"
	AmountTooSmall ErrorCode = "amount-too-small"

	// fee computation failures
	FeeExceedsAmount ErrorCode = "fee-exceeds-amount"

	// funnel / fiat request failures
	AmountOutOfRange ErrorCode = "amount-out-of-range"
	AlreadyExpired   ErrorCode = "already-expired"
	NotCancellable   ErrorCode = "not-cancellable"
	ForwardingFailed ErrorCode = "forwarding-failed"

	// routing failures
	NoProvidersAvailable  ErrorCode = "no-providers-available"
	InsufficientProviders ErrorCode = "insufficient-providers"
	EstimationFailed      ErrorCode = "estimation-failed"
)

type ErrorInfo struct {
	Code    ErrorCode // machine-readble ErrorCode enumeration
	Message string    // human-readable debug message (in production, logged on the server only)
}

func (e *ErrorInfo) Error() string {
	return string(e.Message)
}

func NewErr(code ErrorCode, format string, args ...any) error {
	return &ErrorInfo{Code: code, Message: fmt.Sprintf(format, args...)}
}

func IsNotFoundError(err error) bool {
	return IsError(err, NotFound)
}

func IsError(err error, ofType ErrorCode) bool {
	if e, ok := err.(*ErrorInfo); ok {
		return e.Code == ofType
	}
	return false
}

// CodeOf extracts the ErrorCode from an error created with NewErr,
// or UnknownError for anything else.
func CodeOf(err error) ErrorCode {
	if e, ok := err.(*ErrorInfo); ok {
		return e.Code
	}
	return UnknownError
}
