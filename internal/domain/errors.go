package domain

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error codes.
const (
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeConfiguration  = "CONFIGURATION_ERROR"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeRateLimited    = "RATE_LIMITED"
	ErrCodeBadRequest     = "BAD_REQUEST"
	ErrCodeInternal       = "INTERNAL_ERROR"
	ErrCodeServiceUnavail = "SERVICE_UNAVAILABLE"

	ErrCodeNavigation     = "NAVIGATION_ERROR"
	ErrCodeInteraction    = "INTERACTION_ERROR"
	ErrCodeAIFallback     = "AI_FALLBACK_ERROR"
	ErrCodeSessionTimeout = "SESSION_TIMEOUT"
	ErrCodeSessionFailed  = "SESSION_FAILED"
	ErrCodeUnparsable     = "UNPARSABLE_RESULT"
)

// AppError is a coded error with the HTTP status it maps to. Two AppErrors
// match under errors.Is when their codes are equal.
type AppError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	HTTPStatus int            `json:"-"`
	Cause      error          `json:"-"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Retryable  bool           `json:"retryable"`
	RetryAfter time.Duration  `json:"retry_after,omitempty"`
}

// ErrNotFound matches every not-found AppError.
var ErrNotFound = &AppError{Code: ErrCodeNotFound, Message: "not found", HTTPStatus: http.StatusNotFound}

func NewError(code, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus, Timestamp: time.Now().UTC()}
}

func (e *AppError) Error() string {
	if e.Cause == nil {
		return "[" + e.Code + "] " + e.Message
	}
	return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
}

func (e *AppError) Unwrap() error { return e.Cause }

func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

func (e *AppError) WithMetadata(key string, value any) *AppError {
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	e.Metadata[key] = value
	return e
}

func (e *AppError) WithRetry(after time.Duration) *AppError {
	e.Retryable = true
	e.RetryAfter = after
	return e
}

// ErrValidationField rejects one input field.
func ErrValidationField(field, message string) *AppError {
	return NewError(ErrCodeValidation, message, http.StatusBadRequest).WithMetadata("field", field)
}

// ErrConfiguration reports invalid test input. No browser work has started
// when this is returned.
func ErrConfiguration(message string) *AppError {
	return NewError(ErrCodeConfiguration, message, http.StatusBadRequest)
}

// NotFoundError reports a missing resource; it matches ErrNotFound.
func NotFoundError(resource string, id any) *AppError {
	return NewError(ErrCodeNotFound, fmt.Sprintf("%s not found: %v", resource, id), http.StatusNotFound).
		WithMetadata("resource", resource).
		WithMetadata("id", id)
}

func ErrRateLimited(retryAfter time.Duration) *AppError {
	return NewError(ErrCodeRateLimited, "Rate limit exceeded", http.StatusTooManyRequests).WithRetry(retryAfter)
}

// ErrNavigation is fatal to a session.
func ErrNavigation(url string, err error) *AppError {
	return NewError(ErrCodeNavigation, "Navigation failed: "+url, http.StatusBadGateway).
		WithCause(err).
		WithMetadata("url", url)
}

// ErrInteraction is recovered locally by the form and submit drivers.
func ErrInteraction(target string, err error) *AppError {
	return NewError(ErrCodeInteraction, "Interaction failed: "+target, http.StatusUnprocessableEntity).
		WithCause(err).
		WithMetadata("target", target)
}

// ErrAIFallback is recovered locally by the orchestrator.
func ErrAIFallback(err error) *AppError {
	return NewError(ErrCodeAIFallback, "AI navigation failed", http.StatusBadGateway).WithCause(err)
}

// AsAppError finds the first AppError in err's chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	ok := errors.As(err, &appErr)
	return appErr, ok
}

// GetErrorCode returns ErrCodeInternal for errors that carry no code.
func GetErrorCode(err error) string {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

func IsCode(err error, code string) bool {
	return GetErrorCode(err) == code
}
