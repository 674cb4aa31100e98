// Package rerr defines the error taxonomy and HTTP result envelope shared
// by every service and handler in this module.
package rerr

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// Code is one of the fixed error codes the relayer ever returns to a
// caller. New codes are not added by handlers ad hoc — every code a
// handler can produce is listed here.
type Code string

const (
	CodeInvalidBody              Code = "invalid_body"
	CodeUnauthorized             Code = "unauthorized"
	CodeMissingKey               Code = "missing_key"
	CodeMissingConfig            Code = "missing_config"
	CodeGroupPKMismatch          Code = "group_pk_mismatch"
	CodeIntentDigestMismatch     Code = "intent_digest_mismatch"
	CodeSigningDigestMismatch    Code = "signing_digest_mismatch"
	CodeSessionPolicyMismatch    Code = "session_policy_digest_mismatch"
	CodeNotVerified              Code = "not_verified"
	CodeMultiPartyNotSupported   Code = "multi_party_not_supported"
	CodeNotFound                 Code = "not_found"
	CodeInternal                 Code = "internal"
	CodeUnavailable              Code = "unavailable"
)

var statusByCode = map[Code]int{
	CodeInvalidBody:            http.StatusBadRequest,
	CodeUnauthorized:           http.StatusUnauthorized,
	CodeMissingKey:             http.StatusBadRequest,
	CodeMissingConfig:          http.StatusInternalServerError,
	CodeGroupPKMismatch:        http.StatusConflict,
	CodeIntentDigestMismatch:   http.StatusConflict,
	CodeSigningDigestMismatch:  http.StatusConflict,
	CodeSessionPolicyMismatch:  http.StatusConflict,
	CodeNotVerified:            http.StatusForbidden,
	CodeMultiPartyNotSupported: http.StatusNotImplemented,
	CodeNotFound:               http.StatusNotFound,
	CodeInternal:               http.StatusInternalServerError,
	CodeUnavailable:            http.StatusServiceUnavailable,
}

// Error is the structured error every internal package returns. It
// carries the taxonomy code, a human message, and an optional cause
// chain (wrapped with github.com/pkg/errors; errors.Is / errors.As reach
// the root through Unwrap. *Error has no Cause method, so pkg/errors'
// Cause stops at the *Error itself).
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

// Unwrap lets errors.Is / errors.As see through to the cause.
func (e *Error) Unwrap() error { return e.cause }

// Status returns the HTTP status code associated with this error's code.
func (e *Error) Status() int {
	if s, ok := statusByCode[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New builds a bare Error with no cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds a bare Error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches cause to a new Error under code, wrapping it with
// pkg/errors.Wrap; the cause's chain stays reachable through Unwrap.
func Wrap(code Code, cause error, message string) *Error {
	if cause == nil {
		return New(code, message)
	}
	return &Error{Code: code, Message: message, cause: errors.Wrap(cause, message)}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(code Code, cause error, format string, args ...interface{}) *Error {
	return Wrap(code, cause, fmt.Sprintf(format, args...))
}

// As extracts an *Error from err, if any is present in its chain.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// Internal is a convenience constructor for unexpected failures, mirroring
// the teacher's habit of wrapping low-level errors before returning them.
func Internal(cause error, message string) *Error {
	return Wrap(CodeInternal, cause, message)
}
