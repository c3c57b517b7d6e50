// Package common defines shared sentinel errors and error types used across
// pipeline stages. Callers should use errors.Is / errors.As to match them.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyTransitioned signals that a one-way status transition was
	// already taken by an earlier delivery of the same message. Stages treat
	// it as a no-op.
	ErrAlreadyTransitioned = errors.New("status already transitioned")

	// ErrBlobUnreadable marks a blob that cannot be fetched or parsed at all.
	// Retrying cannot help.
	ErrBlobUnreadable = errors.New("blob unreadable")
)

// ValidationError rejects a file synchronously at intake. It is never queued.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// TransientError wraps a failure that is expected to succeed on a later
// delivery (throttling, network, engine hiccup). The worker leaves the
// message in the queue so the visibility timeout redelivers it.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is marked for queue redelivery.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// PermanentMessageError marks a message that retrying cannot fix (malformed
// body, missing field, exhausted retry budget). The worker routes it to the
// dead-letter path immediately.
type PermanentMessageError struct {
	Reason string
	Err    error
}

func (e *PermanentMessageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("permanent message error: %s: %v", e.Reason, e.Err)
	}
	return "permanent message error: " + e.Reason
}

func (e *PermanentMessageError) Unwrap() error { return e.Err }

// Permanent builds a PermanentMessageError with an optional cause.
func Permanent(reason string, err error) error {
	return &PermanentMessageError{Reason: reason, Err: err}
}

// IsPermanent reports whether err should be dead-lettered without retry.
func IsPermanent(err error) bool {
	var p *PermanentMessageError
	return errors.As(err, &p)
}
