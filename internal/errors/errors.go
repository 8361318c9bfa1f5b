package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, machine-readable error classification.
type Code string

const (
	CodeInternal     Code = "internal"
	CodeValidation   Code = "validation"
	CodeNotFound     Code = "not_found"
	CodeProvider     Code = "provider"
	CodeExpiredQuote Code = "expired_quote"
	CodeUserRejected Code = "user_rejected"
	CodeNetwork      Code = "network"
	CodeUnavailable  Code = "unavailable"
	CodeUnsupported  Code = "unsupported"
	CodeRateLimited  Code = "rate_limited"
	CodeAuth         Code = "auth"
)

// Error is a typed domain error carrying a stable code.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if domainErr, ok := As(err); ok {
		return domainErr.Code
	}
	return CodeInternal
}

func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// HTTPStatus maps a domain error to the status code served by the route API.
// Provider errors never map directly: they are contained at the adapter
// boundary and only surface when they cause a not-found aggregation result.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case "":
		return http.StatusOK
	case CodeValidation, CodeUnsupported:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeExpiredQuote:
		return http.StatusGone
	case CodeUserRejected:
		return http.StatusConflict
	case CodeAuth:
		return http.StatusUnauthorized
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUnavailable, CodeNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
