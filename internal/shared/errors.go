package shared

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)

// SafeMessager is implemented by errors that carry display text.
type SafeMessager interface {
	SafeMessage() string
}

// UserSafeMessage converts err into text that can be shown to an end user
// without leaking storage details.
func UserSafeMessage(err error) string {
	if err == nil {
		return ""
	}
	var sm SafeMessager
	if errors.As(err, &sm) {
		return sm.SafeMessage()
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return "The requested record does not exist."
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid email or password."
	case errors.Is(err, ErrCSRFTokenMissing), errors.Is(err, ErrCSRFTokenMismatch):
		return "Your form expired. Please try again."
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "The request took too long. Please try again."
	}
	return "Something went wrong. Please try again."
}
