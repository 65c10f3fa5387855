// Package errors provides error wrapping utilities and the install error taxonomy.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Wrap wraps an error with additional context information.
// If err is nil, it returns nil without wrapping.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}

// Kind classifies why an install run ended without a bootable device.
type Kind string

const (
	KindInvalidOsSelection    Kind = "InvalidOsSelection"
	KindInvalidStorageTarget  Kind = "InvalidStorageTarget"
	KindInvalidAccount        Kind = "InvalidAccount"
	KindInstallBusy           Kind = "InstallBusy"
	KindCredentialHashFailed  Kind = "CredentialHashFailed"
	KindWriteFailed           Kind = "WriteFailed"
	KindBootPartitionNotFound Kind = "BootPartitionNotFound"
	KindProvisionWriteFailed  Kind = "ProvisionWriteFailed"
)

// Synchronous reports whether errors of this kind are raised before the
// image writer is spawned. Such errors are never broadcast to observers.
func (k Kind) Synchronous() bool {
	switch k {
	case KindInvalidOsSelection, KindInvalidStorageTarget, KindInvalidAccount,
		KindInstallBusy, KindCredentialHashFailed:
		return true
	}
	return false
}

// InstallError is a terminal pipeline error carrying its Kind.
type InstallError struct {
	Kind    Kind
	Message string
	Err     error
}

// New returns an InstallError of the given kind.
func New(kind Kind, message string) *InstallError {
	return &InstallError{Kind: kind, Message: message}
}

// Newf is New with fmt.Sprintf formatting.
func Newf(kind Kind, format string, args ...any) *InstallError {
	return &InstallError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithCause returns an InstallError of the given kind wrapping err.
func WithCause(kind Kind, message string, err error) *InstallError {
	return &InstallError{Kind: kind, Message: message, Err: err}
}

func (e *InstallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *InstallError) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of the first InstallError in err's chain,
// or the empty Kind if there is none.
func KindOf(err error) Kind {
	var ie *InstallError
	if stderrors.As(err, &ie) {
		return ie.Kind
	}
	return ""
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// As is errors.As from the standard library.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
