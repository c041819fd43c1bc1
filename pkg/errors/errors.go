package errors

import (
	"fmt"
)

// ForwardError is a coded error carrying the failing channel and an
// optional underlying cause.
type ForwardError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Channel string `json:"channel,omitempty"`
	Cause   error  `json:"-"`
}

// Error implements the error interface.
func (e *ForwardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error.
func (e *ForwardError) Unwrap() error {
	return e.Cause
}

// Is matches on error code so callers can test categories with errors.Is.
func (e *ForwardError) Is(target error) bool {
	if fe, ok := target.(*ForwardError); ok {
		return e.Code == fe.Code
	}
	return false
}

// WithChannel tags the error with the channel it occurred on.
func (e *ForwardError) WithChannel(channel string) *ForwardError {
	e.Channel = channel
	return e
}

// WithDetails adds free-form details to the error.
func (e *ForwardError) WithDetails(details string) *ForwardError {
	e.Details = details
	return e
}

// New creates a ForwardError with the given code and message.
func New(code Code, message string) *ForwardError {
	return &ForwardError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a ForwardError around an underlying cause.
func Wrap(code Code, message string, cause error) *ForwardError {
	e := New(code, message)
	e.Cause = cause
	if cause != nil {
		e.Details = cause.Error()
	}
	return e
}

// CodeOf extracts the code from an error, or ErrTransportOther when the
// error is not a ForwardError.
func CodeOf(err error) Code {
	if fe, ok := err.(*ForwardError); ok {
		return fe.Code
	}
	return ErrTransportOther
}
