// Package dErrors provides coded domain errors.
//
// Services return these so transports can map stable machine-readable codes
// to responses without string matching. Stores return sentinel errors
// (pkg/platform/sentinel); services translate them into coded errors at the
// boundary.
package dErrors

import (
	"errors"
	"fmt"
)

// Code is a stable machine-readable error classification.
type Code string

const (
	// CodeUnauthorized covers expired/missing challenges, signature
	// mismatches and roster capacity refusals during authentication.
	CodeUnauthorized Code = "unauthorized"
	// CodeAuthenticationNotFound means no identity (public key) exists for
	// the user attempting to authenticate.
	CodeAuthenticationNotFound Code = "authentication_not_found"
	// CodeForbidden marks authorization-boundary violations: caller not
	// mapped to the patient, not the owner of the identity being updated,
	// or a registration process that never completed.
	CodeForbidden Code = "forbidden"
	// CodeNotFound marks a missing identity, patient or channel.
	CodeNotFound Code = "not_found"
	// CodeValidation marks input that fails a domain check, e.g. a
	// date-of-birth mismatch.
	CodeValidation Code = "validation_error"
	// CodeDuplicatePatientUser marks a second "Self/Patient" claim against a
	// patient that already has an active claimant.
	CodeDuplicatePatientUser Code = "duplicate_patient_user"
	// CodeInvalidFamilyType marks a relationship/primary combination the
	// roster invariants reject.
	CodeInvalidFamilyType Code = "invalid_family_type"
	// CodeInvalidInput marks malformed identifiers or payload fields.
	CodeInvalidInput Code = "invalid_input"
	// CodeBadRequest marks structurally invalid requests.
	CodeBadRequest Code = "bad_request"
	// CodeConflict marks a state conflict (e.g. concurrent claim).
	CodeConflict Code = "conflict"
	// CodeInternal marks unexpected downstream failures.
	CodeInternal Code = "internal"
)

// Error is a coded domain error, optionally wrapping a cause.
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

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error without a cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) error {
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf extracts the caller-safe message from err.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return "internal error"
}
