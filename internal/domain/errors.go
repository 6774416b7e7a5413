package domain

import (
	"errors"
	"fmt"
)

// ErrorCode represents a machine-readable error code
type ErrorCode string

const (
	// Transaction lifecycle errors (TXN_*)
	ErrorCodeTxnUnsupported  ErrorCode = "TXN_UNSUPPORTED"
	ErrorCodeTxnUnknown      ErrorCode = "TXN_UNKNOWN"
	ErrorCodeTxnTerminal     ErrorCode = "TXN_TERMINAL"
	ErrorCodeTxnCommitFailed ErrorCode = "TXN_COMMIT_FAILED"

	// Session errors (SESSION_*)
	ErrorCodeSessionCreateFailed ErrorCode = "SESSION_CREATE_FAILED"

	// Adapter errors (ADAPTER_*)
	ErrorCodeAdapterUnavailable ErrorCode = "ADAPTER_UNAVAILABLE"
	ErrorCodeAdapterNotFound    ErrorCode = "ADAPTER_NOT_FOUND"

	// Storage errors (STORAGE_*)
	ErrorCodeDocumentNotFound  ErrorCode = "STORAGE_DOCUMENT_NOT_FOUND"
	ErrorCodeDocumentConflict  ErrorCode = "STORAGE_DOCUMENT_CONFLICT"
	ErrorCodeStorageUnderlying ErrorCode = "STORAGE_UNDERLYING_ERROR"

	// Validation errors (VALIDATION_*)
	ErrorCodeValidationFailed       ErrorCode = "VALIDATION_FAILED"
	ErrorCodeValidationMissingField ErrorCode = "VALIDATION_MISSING_FIELD"

	// Internal errors (INTERNAL_*)
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

// WithDetail adds a detail field to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(code ErrorCode, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
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

// IsLifecycleError reports whether an error came from the transaction
// machinery itself rather than from the operation it was coordinating.
// Lifecycle errors are never retried automatically.
func IsLifecycleError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeTxnUnsupported ||
		code == ErrorCodeTxnUnknown ||
		code == ErrorCodeTxnTerminal ||
		code == ErrorCodeTxnCommitFailed ||
		code == ErrorCodeSessionCreateFailed
}

// IsNotFoundError checks if an error represents a "not found" condition
func IsNotFoundError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeTxnUnknown ||
		code == ErrorCodeDocumentNotFound ||
		code == ErrorCodeAdapterNotFound
}

// Sentinel errors used by the coordination layer. Callers match with
// errors.Is; the DomainError wrapping them carries the code and per-call
// details.
var (
	// ErrTransactionsUnsupported is returned when a begin is requested
	// against an adapter whose capability resolved to no transaction
	// support. Recoverable: the caller proceeds without a transaction.
	ErrTransactionsUnsupported = errors.New("adapter does not support transactions")

	// ErrUnknownTransaction is returned when an identifier was never
	// issued by this process. Always a caller bug.
	ErrUnknownTransaction = errors.New("unknown transaction identifier")

	// ErrTransactionClosed is returned when an operation attempts to
	// attach to an identifier whose session already reached a terminal
	// state. It wraps ErrUnknownTransaction: a closed identifier is no
	// longer a valid reference, so both errors.Is checks succeed.
	ErrTransactionClosed = fmt.Errorf("%w: already committed or rolled back", ErrUnknownTransaction)

	// ErrSessionCreation is returned when the native session factory
	// fails. No registry entry exists afterwards.
	ErrSessionCreation = errors.New("native session could not be created")

	// ErrCommitFailed is returned when the native commit was rejected.
	// The whole logical operation must be treated as failed; there is no
	// partial commit.
	ErrCommitFailed = errors.New("native commit failed")

	// Storage errors
	ErrDocumentNotFound = errors.New("document not found")
	ErrDocumentExists   = errors.New("document already exists")

	// Ledger errors
	ErrAccountNotFound     = errors.New("account not found")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrSameAccountTransfer = errors.New("cannot transfer to the same account")
)
