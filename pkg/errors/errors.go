package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is the machine-readable code carried in API error bodies.
type ErrorCode string

const (
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden          ErrorCode = "FORBIDDEN"
	ErrCodeConflict           ErrorCode = "CONFLICT"
	ErrCodeGone               ErrorCode = "GONE"
	ErrCodeRateLimit          ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeBadGateway         ErrorCode = "BAD_GATEWAY"
)

// AppError is an error with the HTTP status and code it is reported as,
// on the relay side when written and on the client side when decoded.
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Temporary reports whether retrying the same request may succeed.
func (e *AppError) Temporary() bool {
	switch e.HTTPStatus {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// New builds an error for status with the code that status maps to.
func New(status int, message string) *AppError {
	return FromStatus(status, "", message)
}

// Wrap is New with err kept as the cause.
func Wrap(err error, status int, message string) *AppError {
	appErr := New(status, message)
	appErr.Cause = err
	return appErr
}

// FromStatus builds the error for a non-2xx response. An empty code or
// message is filled in from the status.
func FromStatus(status int, code ErrorCode, message string) *AppError {
	if code == "" {
		code = codeForStatus(status)
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return &AppError{Code: code, Message: message, HTTPStatus: status}
}

func codeForStatus(status int) ErrorCode {
	switch status {
	case http.StatusBadRequest:
		return ErrCodeInvalidInput
	case http.StatusUnauthorized:
		return ErrCodeUnauthorized
	case http.StatusForbidden:
		return ErrCodeForbidden
	case http.StatusNotFound:
		return ErrCodeNotFound
	case http.StatusConflict:
		return ErrCodeConflict
	case http.StatusGone:
		return ErrCodeGone
	case http.StatusTooManyRequests:
		return ErrCodeRateLimit
	case http.StatusBadGateway:
		return ErrCodeBadGateway
	case http.StatusServiceUnavailable:
		return ErrCodeServiceUnavailable
	default:
		return ErrCodeInternal
	}
}

func NewInvalidInputError(message string) *AppError {
	return New(http.StatusBadRequest, message)
}

func NewUnauthorizedError(message string) *AppError {
	return New(http.StatusUnauthorized, message)
}

func NewRateLimitError() *AppError {
	return New(http.StatusTooManyRequests, "rate limit exceeded")
}

func NewInternalError(message string) *AppError {
	return New(http.StatusInternalServerError, message)
}

func NewServiceUnavailableError(message string) *AppError {
	return New(http.StatusServiceUnavailable, message)
}

// GetAppError returns the first AppError in err's chain, or nil.
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}
