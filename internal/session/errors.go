package session

import (
	"errors"
	"fmt"
)

// InvalidMemberLoginMessage is the only failure text member-number login shows.
const InvalidMemberLoginMessage = "Invalid member ID or password"

// ProviderError reports a failed call to the auth provider or data API.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("session: provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NotFoundError reports a lookup miss.
type NotFoundError struct {
	Subject string
	Key     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("session: %s %q not found", e.Subject, e.Key)
}

// ValidationError reports malformed input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("session: invalid %s: %s", e.Field, e.Reason)
}

// StaleSessionError reports a session whose identity no longer verifies.
type StaleSessionError struct {
	UserID string
	Err    error
}

func (e *StaleSessionError) Error() string {
	return fmt.Sprintf("session: stale session for user %s: %v", e.UserID, e.Err)
}

func (e *StaleSessionError) Unwrap() error {
	return e.Err
}

// InvalidCredentialError reports a password that does not match the stored digest.
type InvalidCredentialError struct {
	Err error
}

func (e *InvalidCredentialError) Error() string {
	return fmt.Sprintf("session: invalid credential: %v", e.Err)
}

func (e *InvalidCredentialError) Unwrap() error {
	return e.Err
}

// LoginError is what a credential resolver returns on any failure. Its message
// is fixed. Cause is kept for logging and is not exposed through Unwrap.
type LoginError struct {
	Message string
	Cause   error
}

func (e *LoginError) Error() string {
	return e.Message
}

// IsStaleSession reports whether err carries a StaleSessionError.
func IsStaleSession(err error) bool {
	var stale *StaleSessionError
	return errors.As(err, &stale)
}
