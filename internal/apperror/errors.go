// Package apperror defines the error taxonomy shared by every service and
// the HTTP status each kind maps to.
package apperror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
)

// Kind classifies an error for callers and for the HTTP layer.
type Kind string

const (
	KindConfiguration       Kind = "configuration"
	KindCredential          Kind = "credential"
	KindExternalAPI         Kind = "external_api"
	KindOrderExecution      Kind = "order_execution"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindRealTradeLimit      Kind = "real_trade_limit"
	KindAIAnalysis          Kind = "ai_analysis"
	KindMCP                 Kind = "mcp"
	KindValidation          Kind = "validation"
	KindNotFound            Kind = "not_found"
	KindForbidden           Kind = "forbidden"
	KindInvalidState        Kind = "invalid_state"
	KindReconciliation      Kind = "reconciliation"
)

// Error is the concrete error type for every Kind.
type Error struct {
	Kind       Kind
	Message    string
	Provider   string
	StatusCode int
	// Code is the provider's own error code, when it reports one.
	Code      int
	Asset     string
	Available decimal.Decimal
	Required  decimal.Decimal
	Err       error
}

func (e *Error) Error() string {
	msg := e.Message
	switch e.Kind {
	case KindExternalAPI:
		msg = fmt.Sprintf("%s api error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	case KindMCP:
		msg = fmt.Sprintf("tool provider %s: %s", e.Provider, e.Message)
	case KindInsufficientBalance:
		msg = fmt.Sprintf("insufficient %s balance: available %s, required %s",
			e.Asset, e.Available.String(), e.Required.String())
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

var (
	ErrConfiguration       = &Error{Kind: KindConfiguration}
	ErrCredential          = &Error{Kind: KindCredential}
	ErrExternalAPI         = &Error{Kind: KindExternalAPI}
	ErrOrderExecution      = &Error{Kind: KindOrderExecution}
	ErrInsufficientBalance = &Error{Kind: KindInsufficientBalance}
	ErrRealTradeLimit      = &Error{Kind: KindRealTradeLimit}
	ErrAIAnalysis          = &Error{Kind: KindAIAnalysis}
	ErrMCP                 = &Error{Kind: KindMCP}
	ErrValidation          = &Error{Kind: KindValidation}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrForbidden           = &Error{Kind: KindForbidden}
	ErrInvalidState        = &Error{Kind: KindInvalidState}
	ErrReconciliation      = &Error{Kind: KindReconciliation}
)

func Configuration(format string, args ...any) error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

// Credential wraps a resolution failure without exposing key material.
func Credential(service, label string, err error) error {
	return &Error{
		Kind:     KindCredential,
		Message:  fmt.Sprintf("credential %s/%s unavailable", service, label),
		Provider: service,
		Err:      err,
	}
}

func ExternalAPI(provider string, status int, message string) error {
	return &Error{Kind: KindExternalAPI, Provider: provider, StatusCode: status, Message: message}
}

// ExternalAPICode is ExternalAPI with the provider's error code attached.
func ExternalAPICode(provider string, status, code int, message string) error {
	return &Error{Kind: KindExternalAPI, Provider: provider, StatusCode: status, Code: code, Message: message}
}

func OrderExecution(message string, err error) error {
	return &Error{Kind: KindOrderExecution, Message: message, Err: err}
}

func InsufficientBalance(asset string, available, required decimal.Decimal) error {
	return &Error{Kind: KindInsufficientBalance, Asset: asset, Available: available, Required: required}
}

func RealTradeLimit(format string, args ...any) error {
	return &Error{Kind: KindRealTradeLimit, Message: fmt.Sprintf(format, args...)}
}

func AIAnalysis(message string, err error) error {
	return &Error{Kind: KindAIAnalysis, Message: message, Err: err}
}

func MCP(provider, message string, err error) error {
	return &Error{Kind: KindMCP, Provider: provider, Message: message, Err: err}
}

func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Forbidden(format string, args ...any) error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

func InvalidState(format string, args ...any) error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

func Reconciliation(message string, err error) error {
	return &Error{Kind: KindReconciliation, Message: message, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// HasKind reports whether err carries the given kind.
func HasKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps err to the response status used by the API handlers.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindInvalidState:
		return http.StatusBadRequest
	case KindForbidden, KindCredential:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindInsufficientBalance, KindRealTradeLimit:
		return http.StatusUnprocessableEntity
	case KindExternalAPI, KindOrderExecution, KindAIAnalysis, KindMCP:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
