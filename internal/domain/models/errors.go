package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures across the decision and learning loop.
type ErrorKind string

const (
	KindBadInput         ErrorKind = "BadInput"
	KindInsufficientData ErrorKind = "InsufficientData"
	KindLabelDegenerate  ErrorKind = "LabelDegenerate"
	KindStoreUnavailable ErrorKind = "StoreUnavailable"
	KindModelAbsent      ErrorKind = "ModelAbsent"
	KindBrokerRejected   ErrorKind = "BrokerRejected"
	KindTimeout          ErrorKind = "Timeout"
	KindInternal         ErrorKind = "Internal"
)

// Error is a kinded domain error.
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

// NewError builds a kinded error.
func NewError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// Errorf builds a kinded error with a formatted message.
func Errorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
