// Package domainerrors defines the single tagged error type services return
// to transports. Infrastructure facts (sentinel errors) are translated into
// these codes at the service layer; the HTTP mapper in pkg/platform/httputil
// turns codes into status lines and response envelopes.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies an error for transport mapping.
type Code string

const (
	CodeValidation             Code = "VALIDATION_ERROR"
	CodeUnauthorized           Code = "UNAUTHORIZED"
	CodeNotFound               Code = "NOT_FOUND"
	CodeConflict               Code = "CONFLICT"
	CodeDistributedTransaction Code = "DISTRIBUTED_TRANSACTION_ERROR"
	CodeDatabase               Code = "DATABASE_ERROR"
	CodeInternal               Code = "INTERNAL_ERROR"
)

// Error is the domain error carried between services and transports.
type Error struct {
	Code    Code
	Message string
	// Details holds field-level validation problems when Code is
	// CodeValidation. Keys are input field names.
	Details map[string]string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a domain error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a cause. The cause is logged, never serialized to clients in
// production.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// Validation builds a validation error with field details.
func Validation(message string, details map[string]string) *Error {
	return &Error{Code: CodeValidation, Message: message, Details: details}
}

// NotFound builds the collapsed not-found error used for both absent rows
// and rows owned by a different principal.
func NotFound(what string) *Error {
	return &Error{Code: CodeNotFound, Message: what + " not found"}
}

// DistributedTransaction is the sole externalization of saga failure. The
// message always includes the operator-searchable phrase so consistency
// failures are distinguishable from business failures.
func DistributedTransaction(reason string) *Error {
	return &Error{
		Code:    CodeDistributedTransaction,
		Message: "Audit log creation failed or timed out: " + reason,
	}
}

// CodeOf extracts the domain code from err, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// As is a convenience around errors.As for the domain error type.
func As(err error) (*Error, bool) {
	var de *Error
	ok := errors.As(err, &de)
	return de, ok
}
