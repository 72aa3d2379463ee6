package core

import (
	"errors"
	"fmt"
)

// Kind classifies every error the core returns so callers can branch on it.
type Kind string

const (
	KindUnauthorized Kind = "UNAUTHORIZED"
	KindValidation   Kind = "VALIDATION"
	KindPersistence  Kind = "PERSISTENCE"
	KindNumeric      Kind = "NUMERIC"
)

// Sentinels returned by stores.
var (
	ErrProductNotFound        = errors.New("product not found")
	ErrInvoiceNotFound        = errors.New("invoice not found")
	ErrDuplicateInvoiceNumber = errors.New("invoice number already exists")
)

// Error carries a Kind alongside a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err. Untyped errors count as persistence failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPersistence
}

// Message returns the user-facing message of err. Wrapped causes stay internal.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

func unauthorized(msg string) *Error {
	return &Error{Kind: KindUnauthorized, Message: msg}
}

func validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// notFound is a validation failure that still matches sentinel via errors.Is.
func notFound(sentinel error, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...), Err: sentinel}
}

func duplicateNumber(number string) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf("invoice number %s already exists", number), Err: ErrDuplicateInvoiceNumber}
}

func numericf(format string, args ...any) *Error {
	return &Error{Kind: KindNumeric, Message: fmt.Sprintf(format, args...)}
}

// persistence wraps a store failure. Errors that already carry a kind pass through.
func persistence(msg string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindPersistence, Message: msg, Err: err}
}
