package auth

import (
	"errors"
	"fmt"
)

type Reason int

const (
	// ReasonRejected means the identity provider answered with a non-success status.
	ReasonRejected Reason = iota + 1
	// ReasonUnreachable means the identity provider could not be reached.
	ReasonUnreachable
	// ReasonUnauthorized means a request was still rejected after a refresh.
	ReasonUnauthorized
)

func (r Reason) String() string {
	switch r {
	case ReasonRejected:
		return "rejected"
	case ReasonUnreachable:
		return "unreachable"
	case ReasonUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// AuthError reports a credential failure.
type AuthError struct {
	Reason     Reason
	StatusCode int
	Body       string
	Err        error
}

func (e *AuthError) Error() string {
	if e == nil {
		return "auth failed"
	}
	msg := "auth " + e.Reason.String()
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsReason reports whether err carries an AuthError with the given reason.
func IsReason(err error, reason Reason) bool {
	var authErr *AuthError
	return errors.As(err, &authErr) && authErr.Reason == reason
}
