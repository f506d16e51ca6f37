package gateway

import (
	"errors"
	"fmt"
)

// Kind is a stable machine-readable error category. Handlers map kinds to
// HTTP status codes; the core only deals in kinds.
type Kind string

const (
	KindInvalidInput        Kind = "InvalidInput"
	KindUnauthorized        Kind = "Unauthorized"
	KindInvalidSignature    Kind = "InvalidSignature"
	KindRateLimitExceeded   Kind = "RateLimitExceeded"
	KindSlippageExceeded    Kind = "SlippageExceeded"
	KindTransactionNotFound Kind = "TransactionNotFound"
	KindTransactionExpired  Kind = "TransactionExpired"
	KindSimulationFailed    Kind = "TransactionSimulationFailed"
	KindTransactionFailed   Kind = "TransactionFailed"
	KindExternalAPIError    Kind = "ExternalApiError"
	KindInsufficientFunds   Kind = "InsufficientFunds"
	KindInternal            Kind = "InternalError"
)

// Error is the error type returned across the gateway's public surface.
// Details preserves the underlying SDK/library error message for diagnostics;
// raw errors from collaborators never leave the package unwrapped.
type Error struct {
	Kind    Kind
	Message string
	Details string
	err     error
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.err
}

// NewError creates an Error with no underlying cause.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Errorf creates an Error with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError translates an underlying error into the taxonomy, keeping its
// message in Details.
func WrapError(kind Kind, message string, err error) *Error {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return &Error{Kind: kind, Message: message, Details: details, err: err}
}

// KindOf extracts the Kind from an error chain. Errors that did not originate
// in this package report KindInternal.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
