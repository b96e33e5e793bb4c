package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Conversation error codes surfaced to HTTP callers and in WebSocket error frames.
const (
	CodeNotAParticipant   = "NOT_A_PARTICIPANT"
	CodeThreadNotFound    = "THREAD_NOT_FOUND"
	CodeInvalidBody       = "INVALID_BODY"
	CodeDuplicate         = "DUPLICATE"
	CodeStoreUnavailable  = "STORE_UNAVAILABLE"
	CodeSlowConsumer      = "SLOW_CONSUMER"
	CodeIdleTimeout       = "IDLE_TIMEOUT"
	CodeProtocolViolation = "PROTOCOL_VIOLATION"
	CodeTransportFailure  = "TRANSPORT_FAILURE"
	CodeRateLimited       = "RATE_LIMITED"
	CodeSessionReplaced   = "SESSION_REPLACED"
)

type AppError struct {
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WireCode is the lower-case form used in WebSocket error frames.
func (e *AppError) WireCode() string {
	return strings.ToLower(e.Code)
}

func New(code string, message string, status int, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

func NotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
		Err:     err,
	}
}

func BadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    "BAD_REQUEST",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     err,
	}
}

func Unauthorized(message string, err error) *AppError {
	return &AppError{
		Code:    "UNAUTHORIZED",
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     err,
	}
}

func Forbidden(message string, err error) *AppError {
	return &AppError{
		Code:    "FORBIDDEN",
		Message: message,
		Status:  http.StatusForbidden,
		Err:     err,
	}
}

func Internal(message string, err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: message,
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func TooManyRequests(message string) *AppError {
	return &AppError{
		Code:    "TOO_MANY_REQUESTS",
		Message: message,
		Status:  http.StatusTooManyRequests,
	}
}

func NotAParticipant(message string) *AppError {
	return &AppError{
		Code:    CodeNotAParticipant,
		Message: message,
		Status:  http.StatusForbidden,
	}
}

func ThreadNotFound(threadID string, err error) *AppError {
	return &AppError{
		Code:    CodeThreadNotFound,
		Message: fmt.Sprintf("thread %s not found", threadID),
		Status:  http.StatusNotFound,
		Err:     err,
	}
}

func InvalidBody(message string) *AppError {
	return &AppError{
		Code:    CodeInvalidBody,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

func Duplicate(message string) *AppError {
	return &AppError{
		Code:    CodeDuplicate,
		Message: message,
		Status:  http.StatusConflict,
	}
}

func StoreUnavailable(message string, err error) *AppError {
	return &AppError{
		Code:    CodeStoreUnavailable,
		Message: message,
		Status:  http.StatusServiceUnavailable,
		Err:     err,
	}
}

func ProtocolViolation(message string, err error) *AppError {
	return &AppError{
		Code:    CodeProtocolViolation,
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     err,
	}
}

func TransportFailure(message string, err error) *AppError {
	return &AppError{
		Code:    CodeTransportFailure,
		Message: message,
		Status:  http.StatusBadGateway,
		Err:     err,
	}
}

func RateLimited(message string) *AppError {
	return &AppError{
		Code:    CodeRateLimited,
		Message: message,
		Status:  http.StatusTooManyRequests,
	}
}

func Is(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// As returns the AppError in err's chain, if any.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
