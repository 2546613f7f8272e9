package helix

import (
	"errors"
	"fmt"
	"net/http"

	"yambot/internal/auth"
)

// HTTPStatusError is a non-success Helix response other than an
// authentication failure.
type HTTPStatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "helix request failed"
	}
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("http status %d", e.StatusCode)
	}
	if e.Body != "" {
		return status + ": " + e.Body
	}
	return status
}

// DropError means Helix accepted a chat message request but did not
// deliver the message.
type DropError struct {
	Code    string
	Message string
}

func (e *DropError) Error() string {
	if e.Code == "" {
		return "message dropped: " + e.Message
	}
	return fmt.Sprintf("message dropped (%s): %s", e.Code, e.Message)
}

func IsUnauthorized(err error) bool {
	if auth.IsReason(err, auth.ReasonUnauthorized) {
		return true
	}
	var statusErr *HTTPStatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusUnauthorized
}

func IsForbidden(err error) bool {
	var statusErr *HTTPStatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusForbidden
}
