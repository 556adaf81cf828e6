package types

import (
	"errors"
	"fmt"
)

// Sentinel errors. Typed errors below unwrap to one of these so callers can
// classify failures with errors.Is.
var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("entity not found")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrRemoteUnavailable  = errors.New("remote unavailable")
	ErrRemoteRejected     = errors.New("remote rejected")
	ErrIncompleteSetup    = errors.New("setup incomplete")
	ErrNoBinding          = errors.New("no remote document binding")
	ErrAnonymous          = errors.New("remote sync unavailable for anonymous identity")
	ErrStoreClosed        = errors.New("store is closed")
)

// ValidationError reports bad, missing, or duplicate input.
type ValidationError struct {
	Collection string
	Field      string
	Reason     string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Collection, e.Reason)
	}
	return fmt.Sprintf("%s.%s: %s", e.Collection, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError reports a referenced entity that does not exist.
type NotFoundError struct {
	Collection string
	ID         string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q: %s", e.Collection, e.ID, ErrNotFound)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// RemoteError wraps a failed remote call. Kind is ErrRemoteUnavailable
// (transient network or credential trouble) or ErrRemoteRejected (permission
// or quota).
type RemoteError struct {
	Kind error
	Op   string
	Err  error
}

func (e *RemoteError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the classification and the underlying cause.
func (e *RemoteError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Unavailable wraps err as a transient remote failure.
func Unavailable(op string, err error) error {
	return &RemoteError{Kind: ErrRemoteUnavailable, Op: op, Err: err}
}

// Rejected wraps err as a permission or quota failure.
func Rejected(op string, err error) error {
	return &RemoteError{Kind: ErrRemoteRejected, Op: op, Err: err}
}

// IncompleteSetupError blocks completion of the setup wizard.
type IncompleteSetupError struct {
	Missing []string
}

func (e *IncompleteSetupError) Error() string {
	return fmt.Sprintf("%s: no %v in draft", ErrIncompleteSetup, e.Missing)
}

func (e *IncompleteSetupError) Unwrap() error { return ErrIncompleteSetup }
