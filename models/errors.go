package models

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	ErrKindNotFound               ErrorKind = "NotFound"
	ErrKindInsufficientStock      ErrorKind = "InsufficientStock"
	ErrKindExpectedDateConflict   ErrorKind = "ExpectedDateConflict"
	ErrKindPaymentIncomplete      ErrorKind = "PaymentIncomplete"
	ErrKindInvalidStateTransition ErrorKind = "InvalidStateTransition"
	ErrKindIncomingNotArrived     ErrorKind = "IncomingNotArrived"
	ErrKindOverRelease            ErrorKind = "OverRelease"
	ErrKindLockTimeout            ErrorKind = "LockTimeout"

	ErrKindInvalidInput           ErrorKind = "InvalidInput"
	ErrKindConcurrentModification ErrorKind = "ConcurrentModification"
	ErrKindInvariantViolation     ErrorKind = "InvariantViolation"
)

// StockError is returned for every rejected stock operation.
// Kind is machine-checkable, Message is meant for the user.
type StockError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *StockError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *StockError) Unwrap() error {
	return e.Err
}

// Is matches any StockError of the same kind, so errors.Is(err, ErrNotFound) works
// regardless of the message.
func (e *StockError) Is(target error) bool {
	t, ok := target.(*StockError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrNotFound               = &StockError{Kind: ErrKindNotFound}
	ErrInsufficientStock      = &StockError{Kind: ErrKindInsufficientStock}
	ErrExpectedDateConflict   = &StockError{Kind: ErrKindExpectedDateConflict}
	ErrPaymentIncomplete      = &StockError{Kind: ErrKindPaymentIncomplete}
	ErrInvalidStateTransition = &StockError{Kind: ErrKindInvalidStateTransition}
	ErrIncomingNotArrived     = &StockError{Kind: ErrKindIncomingNotArrived}
	ErrOverRelease            = &StockError{Kind: ErrKindOverRelease}
	ErrLockTimeout            = &StockError{Kind: ErrKindLockTimeout}
	ErrInvalidInput           = &StockError{Kind: ErrKindInvalidInput}
	ErrConcurrentModification = &StockError{Kind: ErrKindConcurrentModification}
	ErrInvariantViolation     = &StockError{Kind: ErrKindInvariantViolation}
)

func NewStockError(kind ErrorKind, format string, args ...any) *StockError {
	return &StockError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func WrapStockError(kind ErrorKind, err error, format string, args ...any) *StockError {
	return &StockError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func NotFoundError(entity string, id string) *StockError {
	return NewStockError(ErrKindNotFound, "%s %s not found", entity, id)
}

// KindOf returns the kind of the first StockError in err's chain, or "" for anything else.
func KindOf(err error) ErrorKind {
	var se *StockError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// IsRetryable reports whether the caller may simply try the same request again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout) || errors.Is(err, ErrConcurrentModification)
}

// IsBusinessRejection reports whether err is a rule rejection that left state unchanged.
func IsBusinessRejection(err error) bool {
	switch KindOf(err) {
	case ErrKindInsufficientStock, ErrKindExpectedDateConflict, ErrKindPaymentIncomplete,
		ErrKindInvalidStateTransition, ErrKindIncomingNotArrived, ErrKindOverRelease:
		return true
	}
	return false
}
