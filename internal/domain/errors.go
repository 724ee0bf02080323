package domain

import (
	"errors"
	"fmt"
)

// ErrorCode represents a machine-readable error code
type ErrorCode string

const (
	// Validation Errors (VALIDATION_*)
	ErrorCodeValidationFailed        ErrorCode = "VALIDATION_FAILED"
	ErrorCodeValidationAmountInvalid ErrorCode = "VALIDATION_AMOUNT_INVALID"
	ErrorCodeValidationMissingField  ErrorCode = "VALIDATION_MISSING_FIELD"
	ErrorCodeProductNotPurchasable   ErrorCode = "PRODUCT_NOT_PURCHASABLE"

	// Not Found Errors (*_NOT_FOUND)
	ErrorCodePurchaseNotFound    ErrorCode = "PURCHASE_NOT_FOUND"
	ErrorCodeDisputeNotFound     ErrorCode = "DISPUTE_NOT_FOUND"
	ErrorCodeLedgerEntryNotFound ErrorCode = "LEDGER_ENTRY_NOT_FOUND"
	ErrorCodeProductNotFound     ErrorCode = "PRODUCT_NOT_FOUND"

	// Conflict Errors (CONFLICT_*)
	ErrorCodeAlreadyDisputed ErrorCode = "CONFLICT_ALREADY_DISPUTED"
	ErrorCodeWindowExpired   ErrorCode = "CONFLICT_WINDOW_EXPIRED"
	ErrorCodeInvalidState    ErrorCode = "CONFLICT_INVALID_STATE"
	ErrorCodeDisputeClosed   ErrorCode = "CONFLICT_DISPUTE_CLOSED"

	// Payment Gateway Errors (GATEWAY_*)
	ErrorCodeGatewayError    ErrorCode = "GATEWAY_ERROR"
	ErrorCodeGatewayDeclined ErrorCode = "GATEWAY_DECLINED"
	ErrorCodeGatewayPending  ErrorCode = "GATEWAY_PENDING"

	// Authorization Errors (AUTH_*)
	ErrorCodeAuthMissing   ErrorCode = "AUTH_MISSING"
	ErrorCodeAuthForbidden ErrorCode = "AUTH_FORBIDDEN"

	// Internal Errors (INTERNAL_*)
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// DomainError represents a structured domain error with error code and context
type DomainError struct {
	Err     error
	Details map[string]interface{}
	Code    ErrorCode
	Message string
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches any DomainError carrying the same code, so sentinels compare
// equal to detail-carrying instances built at the failure site.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetail returns a copy of the error with an extra detail field.
// The receiver is left untouched so package-level sentinels stay immutable.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &DomainError{Err: e.Err, Details: details, Code: e.Code, Message: e.Message}
}

// NewDomainError creates a new domain error
func NewDomainError(code ErrorCode, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// Errorf creates a domain error with a formatted message
func Errorf(code ErrorCode, format string, args ...interface{}) *DomainError {
	return NewDomainError(code, fmt.Sprintf(format, args...))
}

// WrapError wraps an existing error with a domain error code
func WrapError(code ErrorCode, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Err:     err,
	}
}

// IsDomainError checks if an error is a DomainError with the given code
func IsDomainError(err error, code ErrorCode) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error, returns empty string if not a DomainError
func GetErrorCode(err error) ErrorCode {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// IsNotFoundError checks if an error represents a "not found" condition
func IsNotFoundError(err error) bool {
	switch GetErrorCode(err) {
	case ErrorCodePurchaseNotFound, ErrorCodeDisputeNotFound, ErrorCodeLedgerEntryNotFound, ErrorCodeProductNotFound:
		return true
	}
	return false
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	switch GetErrorCode(err) {
	case ErrorCodeValidationFailed, ErrorCodeValidationAmountInvalid, ErrorCodeValidationMissingField, ErrorCodeProductNotPurchasable:
		return true
	}
	return false
}

// IsConflictError checks if an error reports a state that already moved on
func IsConflictError(err error) bool {
	switch GetErrorCode(err) {
	case ErrorCodeAlreadyDisputed, ErrorCodeWindowExpired, ErrorCodeInvalidState, ErrorCodeDisputeClosed:
		return true
	}
	return false
}

// IsGatewayError checks if an error is a payment gateway error
func IsGatewayError(err error) bool {
	switch GetErrorCode(err) {
	case ErrorCodeGatewayError, ErrorCodeGatewayDeclined, ErrorCodeGatewayPending:
		return true
	}
	return false
}

// IsAuthError checks if an error is authentication/authorization related
func IsAuthError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeAuthMissing || code == ErrorCodeAuthForbidden
}

var (
	ErrValidationFailed      = NewDomainError(ErrorCodeValidationFailed, "validation failed")
	ErrInvalidAmount         = NewDomainError(ErrorCodeValidationAmountInvalid, "invalid amount")
	ErrMissingField          = NewDomainError(ErrorCodeValidationMissingField, "required field missing")
	ErrProductNotPurchasable = NewDomainError(ErrorCodeProductNotPurchasable, "product is not purchasable")

	ErrPurchaseNotFound    = NewDomainError(ErrorCodePurchaseNotFound, "purchase not found")
	ErrDisputeNotFound     = NewDomainError(ErrorCodeDisputeNotFound, "dispute not found")
	ErrLedgerEntryNotFound = NewDomainError(ErrorCodeLedgerEntryNotFound, "ledger entry not found")
	ErrProductNotFound     = NewDomainError(ErrorCodeProductNotFound, "product not found")

	ErrAlreadyDisputed = NewDomainError(ErrorCodeAlreadyDisputed, "purchase already has a dispute")
	ErrWindowExpired   = NewDomainError(ErrorCodeWindowExpired, "dispute window has expired")
	ErrInvalidState    = NewDomainError(ErrorCodeInvalidState, "operation not allowed in current state")
	ErrDisputeClosed   = NewDomainError(ErrorCodeDisputeClosed, "dispute is no longer open")

	ErrGateway         = NewDomainError(ErrorCodeGatewayError, "payment gateway error")
	ErrGatewayDeclined = NewDomainError(ErrorCodeGatewayDeclined, "payment declined by gateway")
	ErrGatewayPending  = NewDomainError(ErrorCodeGatewayPending, "payment not yet settled by gateway")

	ErrAuthMissing   = NewDomainError(ErrorCodeAuthMissing, "authentication required")
	ErrAuthForbidden = NewDomainError(ErrorCodeAuthForbidden, "actor lacks capability for this action")

	ErrInternal = NewDomainError(ErrorCodeInternalError, "internal error")
)
