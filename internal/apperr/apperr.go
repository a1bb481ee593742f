// Package apperr classifies errors so the HTTP boundary can pick a
// user-facing message and the job pool can decide whether to retry.
package apperr

import (
	"errors"
	"fmt"
)

// Kind identifies a class of failure.
type Kind string

const (
	KindInternal    Kind = "internal"
	KindValidation  Kind = "validation"
	KindNotFound    Kind = "not_found"
	KindExpired     Kind = "expired"
	KindInvalidCode Kind = "invalid_code"
	KindPermission  Kind = "permission"
	KindConflict    Kind = "conflict"
	KindGateway     Kind = "gateway"
	KindCorruptFile Kind = "corrupt_file"
)

// Error is a classified error. Message is safe to show to a user.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf is New with fmt.Sprintf formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the outermost classified error in err's
// chain, or KindInternal when none is present.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether a background job failing with err may
// succeed on a later attempt. Gateway failures and unclassified errors
// are retried; everything else is permanent.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindGateway, KindInternal:
		return true
	}
	return false
}

// UserMessage returns a message suitable for an interactive user.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Message
	}
	return "Something went wrong. Please try again."
}
