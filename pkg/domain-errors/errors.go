// Package domainerrors provides coded errors for the certification and credit
// domain. Services return these so transports can translate them into HTTP
// responses without string matching, and so callers always learn which
// invariant was violated rather than a generic failure.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies the invariant or failure class behind an error.
type Code string

const (
	// Lifecycle invariant violations. Deterministic: never retried.
	CodeUnknownActor        Code = "unknown_actor"
	CodeRoleViolation       Code = "role_violation"
	CodeInvalidClaim        Code = "invalid_claim"
	CodeInvalidTransition   Code = "invalid_transition"
	CodeAlreadyUnderReview  Code = "already_under_review"
	CodeAlreadyDecided      Code = "already_decided"
	CodeScoreBelowThreshold Code = "score_below_threshold"
	CodeAlreadyIssued       Code = "already_issued"
	CodeInsufficientBalance Code = "insufficient_balance"
	CodeInvalidAmount       Code = "invalid_amount"

	// Ledger failures. Unavailable is transient and retry-eligible,
	// Rejected is the ledger refusing the operation outright.
	CodeLedgerUnavailable Code = "ledger_unavailable"
	CodeLedgerRejected    Code = "ledger_rejected"

	// Transport-level codes.
	CodeBadRequest   Code = "bad_request"
	CodeInvalidInput Code = "invalid_input"
	CodeNotFound     Code = "not_found"
	CodeConflict     Code = "conflict"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeInternal     Code = "internal"
)

// Error is a coded domain error. It may wrap an underlying infrastructure
// error while presenting a stable code and message to callers.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New creates a coded error with no underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from an error, defaulting to CodeInternal for
// uncoded errors so nothing leaks through the boundary unclassified.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a code to the HTTP status the transport layer should
// return. Keeping the mapping here means every handler agrees on it.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeInvalidInput, CodeInvalidClaim, CodeInvalidAmount:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden, CodeRoleViolation:
		return http.StatusForbidden
	case CodeNotFound, CodeUnknownActor:
		return http.StatusNotFound
	case CodeConflict, CodeInvalidTransition, CodeAlreadyUnderReview,
		CodeAlreadyDecided, CodeAlreadyIssued:
		return http.StatusConflict
	case CodeScoreBelowThreshold, CodeInsufficientBalance:
		return http.StatusUnprocessableEntity
	case CodeLedgerUnavailable:
		return http.StatusServiceUnavailable
	case CodeLedgerRejected:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
