// Package errkind defines the error taxonomy shared by the encoder, the vector
// store and the orchestration layers, plus the stage tag that tells a caller
// whether a failure happened while encoding the text or while talking to the
// store.
package errkind

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for the API boundary.
type Kind string

const (
	Validation        Kind = "validation"
	NotFound          Kind = "not_found"
	DimensionMismatch Kind = "dimension_mismatch"
	ModelUnavailable  Kind = "model_unavailable"
	Timeout           Kind = "timeout"
	StoreUnavailable  Kind = "store_unavailable"
	PoolExhausted     Kind = "pool_exhausted"
	Internal          Kind = "internal"
)

// Stage marks which pipeline stage produced an error.
type Stage string

const (
	StageEncoding Stage = "encoding"
	StageStorage  Stage = "storage"
)

// Error carries a kind, an optional stage tag and a human-readable message.
type Error struct {
	Kind    Kind
	Stage   Stage
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Stage != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Stage, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error. A nil err yields nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

// Tag returns err stamped with a stage. The input is never mutated: one
// encode failure can be shared by every caller of a coalesced batch, so each
// caller gets its own tagged copy. An already-staged *Error passes through;
// errors from other packages are wrapped as Internal at that stage.
func Tag(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Stage != "" {
			return err
		}
		return &Error{Kind: e.Kind, Stage: stage, Message: e.Message, Err: e.Err}
	}
	return &Error{Kind: Internal, Stage: stage, Err: err}
}

// KindOf extracts the kind from err, or Internal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// StageOf extracts the stage tag from err, empty when untagged.
func StageOf(err error) Stage {
	var e *Error
	if errors.As(err, &e) {
		return e.Stage
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool { return err != nil && KindOf(err) == kind }
