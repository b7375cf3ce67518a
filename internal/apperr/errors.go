// Package apperr defines the error taxonomy shared by the presence, room,
// delivery and status layers. Callers branch on the sentinels with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation               = errors.New("invalid payload")
	ErrUnauthorized             = errors.New("unauthorized")
	ErrNotFound                 = errors.New("not found")
	ErrConflict                 = errors.New("conflict")
	ErrPersistenceUnavailable   = errors.New("persistence unavailable")
	ErrPresenceStoreUnavailable = errors.New("presence store unavailable")

	// ErrInvalidGroupMembership is a validation failure: a group needs members.
	ErrInvalidGroupMembership = fmt.Errorf("%w: invalid group membership", ErrValidation)
)

// Validation wraps ErrValidation with a description of the offending field.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Unauthorized wraps ErrUnauthorized.
func Unauthorized(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnauthorized, fmt.Sprintf(format, args...))
}

// NotFound wraps ErrNotFound.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Persistence wraps a datastore failure for the named operation.
func Persistence(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistenceUnavailable, op, err)
}

// PresenceStore wraps a shared online-set failure for the named operation.
func PresenceStore(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPresenceStoreUnavailable, op, err)
}

// Message renders err as the text of an outbound error event. Datastore
// details are not exposed to clients.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation), errors.Is(err, ErrUnauthorized), errors.Is(err, ErrNotFound):
		return err.Error()
	case errors.Is(err, ErrPersistenceUnavailable):
		return "storage unavailable, please retry"
	case errors.Is(err, ErrPresenceStoreUnavailable):
		return "presence is temporarily unavailable"
	default:
		return "something went wrong"
	}
}
