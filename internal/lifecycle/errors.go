package lifecycle

import (
	"errors"
	"fmt"
)

// Kind partitions lifecycle failures so the API layer can map them to status
// codes without string matching.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindUnauthorized Kind = "unauthorized"
	KindConflict     Kind = "conflict"
	KindInvalidState Kind = "invalid_state"
	KindTransient    Kind = "transient"
)

// Error is the structured failure surfaced by the state machine and the
// coordinator. Conflicts carry the version currently stored so the caller can
// re-fetch and retry.
type Error struct {
	Kind           Kind
	Message        string
	CurrentVersion int64
	Err            error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func Validationf(format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...interface{}) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Unauthorizedf(format string, args ...interface{}) error {
	return &Error{Kind: KindUnauthorized, Message: fmt.Sprintf(format, args...)}
}

func Conflictf(currentVersion int64, format string, args ...interface{}) error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...), CurrentVersion: currentVersion}
}

func InvalidStatef(format string, args ...interface{}) error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

func Transient(msg string, err error) error {
	return &Error{Kind: KindTransient, Message: msg, Err: err}
}

// KindOf returns the Kind of err, or "" when err is not a lifecycle error.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

func IsKind(err error, kind Kind) bool { return KindOf(err) == kind }

// ConflictVersion extracts the stored version from a conflict error.
func ConflictVersion(err error) (int64, bool) {
	var le *Error
	if errors.As(err, &le) && le.Kind == KindConflict {
		return le.CurrentVersion, true
	}
	return 0, false
}
