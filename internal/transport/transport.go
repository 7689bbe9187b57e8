// Package transport delivers rendered notifications. Email goes through
// one Transport implementation picked at startup; operational alerts go
// through a separate, narrower Alerter channel.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// Transport sends one email-shaped message and returns the provider's
// message ID when it has one.
type Transport interface {
	Send(ctx context.Context, to, cc []string, subject, bodyText, bodyHTML string) (string, error)
	Name() string
}

// Alerter carries short operational notices (failed or rejected runs).
type Alerter interface {
	Alert(ctx context.Context, message string) error
	Name() string
}

// Error marks a delivery failure as retryable or terminal.
type Error struct {
	Retryable bool
	Message   string
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func retryableErr(message string, cause error) *Error {
	return &Error{Retryable: true, Message: message, Cause: cause}
}

func terminalErr(message string, cause error) *Error {
	return &Error{Retryable: false, Message: message, Cause: cause}
}

// IsRetryable reports whether a delivery error is worth another attempt.
// Unknown error types count as retryable; a terminal verdict requires an
// explicit *Error.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Retryable
	}
	return true
}
