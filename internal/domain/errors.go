package domain

import "errors"

// Code classifies a domain error.
type Code string

const (
	CodeValidation        Code = "VALIDATION"
	CodeNotFound          Code = "NOT_FOUND"
	CodeAlreadyPaid       Code = "ALREADY_PAID"
	CodeExpired           Code = "EXPIRED"
	CodeCancelled         Code = "CANCELLED"
	CodeNotDue            Code = "NOT_DUE"
	CodeAlreadyTerminal   Code = "ALREADY_TERMINAL"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeTransferFailed    Code = "TRANSFER_FAILED"
	CodeGateway           Code = "GATEWAY"
	CodeCodec             Code = "CODEC"
)

// Error is the domain error type. Two errors match under errors.Is when
// their codes are equal, so wrapped instances still compare against the
// sentinels below.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidation        = &Error{Code: CodeValidation, Message: "validation failed"}
	ErrNotFound          = &Error{Code: CodeNotFound, Message: "not found"}
	ErrAlreadyPaid       = &Error{Code: CodeAlreadyPaid, Message: "already paid"}
	ErrExpired           = &Error{Code: CodeExpired, Message: "expired"}
	ErrCancelled         = &Error{Code: CodeCancelled, Message: "cancelled"}
	ErrNotDue            = &Error{Code: CodeNotDue, Message: "not due"}
	ErrAlreadyTerminal   = &Error{Code: CodeAlreadyTerminal, Message: "already in a terminal state"}
	ErrInvalidTransition = &Error{Code: CodeInvalidTransition, Message: "invalid status transition"}
	ErrTransferFailed    = &Error{Code: CodeTransferFailed, Message: "transfer failed"}
	ErrGateway           = &Error{Code: CodeGateway, Message: "gateway error"}
	ErrCodec             = &Error{Code: CodeCodec, Message: "malformed payment link"}
)

// New creates a domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Validation is shorthand for a validation error.
func Validation(message string) *Error {
	return New(CodeValidation, message)
}

// NotFound reports an unknown id of the given kind.
func NotFound(kind, id string) *Error {
	return New(CodeNotFound, kind+" "+id+" not found")
}

// CodeOf returns the code of the first domain error in err's chain, or ""
// when there is none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsTerminal reports whether err is one of the idempotency guards returned
// when a target can no longer be executed.
func IsTerminal(err error) bool {
	switch CodeOf(err) {
	case CodeAlreadyPaid, CodeExpired, CodeCancelled, CodeNotDue, CodeAlreadyTerminal:
		return true
	}
	return false
}
