package rbac

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound indicates that the referenced record does not exist.
	ErrNotFound = errors.New("rbac: not found")
	// ErrDuplicateName indicates a uniqueness violation on a name or email.
	ErrDuplicateName = errors.New("rbac: name already taken")
	// ErrInvalidInput indicates an empty or malformed value.
	ErrInvalidInput = errors.New("rbac: invalid input")
	// ErrUnknownPermission indicates a role referenced a permission id that does not exist.
	ErrUnknownPermission = errors.New("rbac: unknown permission")
	// ErrProtected indicates an attempt to delete or rename the super-admin role.
	ErrProtected = errors.New("rbac: role is protected")
	// ErrUnauthorized indicates the principal may not perform the action.
	ErrUnauthorized = errors.New("rbac: unauthorized")
	// ErrConflict indicates a concurrent write to the same record won.
	ErrConflict = errors.New("rbac: concurrent update")
)

// FieldError ties a validation failure to the form field that caused it.
// Detail, when set, overrides the generic message for Err.
type FieldError struct {
	Field  string
	Err    error
	Detail string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// SafeMessage returns the text shown next to the offending field.
func (e *FieldError) SafeMessage() string {
	if e.Detail != "" {
		return e.Detail
	}
	return Message(e.Err)
}

func fieldError(field string, err error) error {
	return &FieldError{Field: field, Err: err}
}

func invalid(field, detail string) error {
	return &FieldError{Field: field, Err: ErrInvalidInput, Detail: detail}
}

// FieldErrors extracts field addressed failures from err. Errors that carry
// no field association (ErrProtected, ErrUnauthorized, storage failures) are
// reported under "general".
func FieldErrors(err error) map[string]string {
	if err == nil {
		return map[string]string{}
	}
	var fe *FieldError
	if errors.As(err, &fe) {
		return map[string]string{fe.Field: fe.SafeMessage()}
	}
	return map[string]string{"general": Message(err)}
}

// Message returns display text for err without leaking storage details.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "The requested record does not exist."
	case errors.Is(err, ErrDuplicateName):
		return "This value is already taken."
	case errors.Is(err, ErrUnknownPermission):
		return "One or more selected permissions no longer exist."
	case errors.Is(err, ErrProtected):
		return "Cannot modify the " + SuperAdminRole + " role."
	case errors.Is(err, ErrUnauthorized):
		return "You are not allowed to perform this action."
	case errors.Is(err, ErrInvalidInput):
		return "This field is required."
	case errors.Is(err, ErrConflict):
		return "Someone else changed this record at the same time. Please reload and try again."
	default:
		return "Something went wrong. Please try again."
	}
}

// HTTPStatus maps err to the status code used by JSON endpoints.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateName), errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrUnknownPermission):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrProtected), errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
