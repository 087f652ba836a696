package domain

import (
	"errors"
	"net/http"
	"time"
)

// Caller-facing messages of a failed session.
const (
	MsgURLRequired = "URL is verplicht"
	MsgTestTimeout = "Test timeout"
	MsgTestFailed  = "Test failed: "
	MsgCannotParse = "Could not parse results"
)

// ErrSessionTimeout ends a session that outlived its budget.
func ErrSessionTimeout(after time.Duration) *AppError {
	return NewError(ErrCodeSessionTimeout, MsgTestTimeout, http.StatusGatewayTimeout).
		WithMetadata("timeout", after.String())
}

// ErrSessionFailed wraps a fatal session error; its message is
// "Test failed: " followed by the error text.
func ErrSessionFailed(err error) *AppError {
	return NewError(ErrCodeSessionFailed, MsgTestFailed+describe(err), http.StatusOK).WithCause(err)
}

// describe renders err without the [CODE] prefix of an AppError.
func describe(err error) string {
	if err == nil {
		return ""
	}
	appErr, ok := AsAppError(err)
	switch {
	case !ok:
		return err.Error()
	case appErr.Cause != nil:
		return appErr.Message + ": " + appErr.Cause.Error()
	default:
		return appErr.Message
	}
}

// SessionError is the payload of the Errored state.
type SessionError struct {
	Message string `json:"error"`
	Stack   string `json:"stack,omitempty"`
	State   string `json:"state,omitempty"`
	Err     error  `json:"-"`
}

func (e *SessionError) Error() string { return e.Message }

func (e *SessionError) Unwrap() error { return e.Err }

// RawOutputError is returned when a runner produced output that is not a
// SessionResult. Raw is forwarded to the caller unchanged.
type RawOutputError struct {
	Raw string
	Err error
}

func (e *RawOutputError) Error() string { return MsgCannotParse }

func (e *RawOutputError) Unwrap() error { return e.Err }

// FailureOf returns the error code and caller-facing message for a session
// that ended with err.
func FailureOf(err error) (code, message string) {
	var raw *RawOutputError
	if errors.As(err, &raw) {
		return ErrCodeUnparsable, MsgCannotParse
	}
	if appErr, ok := AsAppError(err); ok {
		switch appErr.Code {
		case ErrCodeSessionTimeout:
			return ErrCodeSessionTimeout, MsgTestTimeout
		case ErrCodeSessionFailed, ErrCodeConfiguration, ErrCodeValidation:
			return appErr.Code, appErr.Message
		}
	}
	var se *SessionError
	if errors.As(err, &se) {
		return ErrCodeSessionFailed, MsgTestFailed + se.Message
	}
	return ErrCodeSessionFailed, MsgTestFailed + describe(err)
}
