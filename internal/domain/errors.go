package domain

import (
	"errors"
	"fmt"
)

// ErrorKind - стабильный код ошибки, отдается клиенту
type ErrorKind string

const (
	KindValidation          ErrorKind = "validation_error"
	KindNotEligible         ErrorKind = "not_eligible"
	KindInsufficientBalance ErrorKind = "insufficient_balance"
	KindLimitExceeded       ErrorKind = "limit_exceeded"
	KindOfferUnavailable    ErrorKind = "offer_unavailable"
	KindConflict            ErrorKind = "conflict"
	KindStateTransition     ErrorKind = "state_transition"
	KindNotFound            ErrorKind = "not_found"
	KindForbidden           ErrorKind = "forbidden"
	KindUnauthorized        ErrorKind = "unauthorized"
)

// Error - типизированная бизнес-ошибка. errors.Is сравнивает по Kind
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrValidation          = &Error{Kind: KindValidation, Message: "invalid input"}
	ErrNotEligible         = &Error{Kind: KindNotEligible, Message: "not eligible"}
	ErrInsufficientBalance = &Error{Kind: KindInsufficientBalance, Message: "insufficient balance"}
	ErrLimitExceeded       = &Error{Kind: KindLimitExceeded, Message: "limit exceeded"}
	ErrOfferUnavailable    = &Error{Kind: KindOfferUnavailable, Message: "offer unavailable"}
	ErrConflict            = &Error{Kind: KindConflict, Message: "concurrent update, retry later"}
	ErrStateTransition     = &Error{Kind: KindStateTransition, Message: "invalid state transition"}
	ErrNotFound            = &Error{Kind: KindNotFound, Message: "not found"}
	ErrForbidden           = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrUnauthorized        = &Error{Kind: KindUnauthorized, Message: "unauthorized"}
)

func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error {
	return NewError(KindValidation, format, args...)
}

func NotEligible(format string, args ...any) *Error {
	return NewError(KindNotEligible, format, args...)
}

func LimitExceeded(format string, args ...any) *Error {
	return NewError(KindLimitExceeded, format, args...)
}

func OfferUnavailable(format string, args ...any) *Error {
	return NewError(KindOfferUnavailable, format, args...)
}

func InsufficientBalance(format string, args ...any) *Error {
	return NewError(KindInsufficientBalance, format, args...)
}

func StateTransition(format string, args ...any) *Error {
	return NewError(KindStateTransition, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return NewError(KindNotFound, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return NewError(KindForbidden, format, args...)
}

// Conflict оборачивает ошибку хранилища (serialization failure, deadlock)
func Conflict(err error) *Error {
	return &Error{Kind: KindConflict, Message: "concurrent update, retry later", Err: err}
}

// KindOf возвращает вид ошибки или "" для инфраструктурных
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
