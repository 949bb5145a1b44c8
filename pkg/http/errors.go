package http

import (
	"fmt"
	"net/http"
)

// Error kinds shown to clients as error_kind.
const (
	KindBadInput         = "BadInput"
	KindInsufficientData = "InsufficientData"
	KindStoreUnavailable = "StoreUnavailable"
	KindBrokerRejected   = "BrokerRejected"
	KindTimeout          = "Timeout"
	KindInternal         = "Internal"
)

// AppError is an error already mapped to a status and a client-facing kind.
type AppError struct {
	Code    string
	Message string
	Field   string
	Status  int
	Err     error
}

func NewAppError(code, field, message string, status int) *AppError {
	return &AppError{Code: code, Field: field, Message: message, Status: status}
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

func TooManyRequestsError(message string) *AppError {
	return NewAppError(KindBadInput, "", message, http.StatusTooManyRequests)
}
