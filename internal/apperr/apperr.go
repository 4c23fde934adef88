// Package apperr classifies failures so consumers can tell retryable
// infrastructure errors from fatal ones.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind standardizes failure semantics across services.
type Kind string

const (
	KindMalformed         Kind = "malformed"
	KindTransient         Kind = "transient"
	KindIllegalTransition Kind = "illegal_transition"
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindInternal          Kind = "internal"
)

// Error is the canonical error wrapper.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	op := strings.TrimSpace(e.Op)
	msg := strings.TrimSpace(e.Message)
	switch {
	case op != "" && msg != "":
		return fmt.Sprintf("%s: %s (%s)", op, msg, e.Kind)
	case op != "":
		return fmt.Sprintf("%s (%s)", op, e.Kind)
	case msg != "":
		return fmt.Sprintf("%s (%s)", msg, e.Kind)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an error with explicit kind and operation.
func New(kind Kind, op, message string, cause error) error {
	return &Error{
		Kind:    kind,
		Op:      strings.TrimSpace(op),
		Message: strings.TrimSpace(message),
		Cause:   cause,
	}
}

// Wrap annotates err with a kind. A nil err stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return New(kind, op, err.Error(), err)
}

func Malformed(op, format string, args ...any) error {
	return New(KindMalformed, op, fmt.Sprintf(format, args...), nil)
}

func Validation(op, format string, args ...any) error {
	return New(KindValidation, op, fmt.Sprintf(format, args...), nil)
}

func NotFound(op, format string, args ...any) error {
	return New(KindNotFound, op, fmt.Sprintf(format, args...), nil)
}

func Transient(op string, err error) error { return Wrap(KindTransient, op, err) }

// IllegalTransition reports an attempt to move an aggregate out of a status
// that does not own the requested edge.
func IllegalTransition(aggregate, from, to string) error {
	return New(KindIllegalTransition, aggregate, fmt.Sprintf("cannot transition %s -> %s", from, to), nil)
}

// KindOf extracts the kind of err, or "" when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Kind
}

// Is reports whether err (or a wrapped error) carries kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether a consumer should try the message again.
// Unclassified errors are assumed to be infrastructure failures.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindMalformed, KindIllegalTransition, KindValidation:
		return false
	default:
		return true
	}
}
