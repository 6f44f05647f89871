package batch

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies job errors. The set is closed: the skip policy and the
// job outcome only ever see these kinds.
type ErrorKind int

const (
	// KindValidation is a single record failing a field constraint.
	KindValidation ErrorKind = iota + 1
	// KindSkipLimitExceeded is a validation rejection past the skip budget.
	KindSkipLimitExceeded
	// KindResource is an unreadable source or unwritable destination.
	KindResource
	// KindFinalization is a failure while flushing the destination on close.
	KindFinalization
	// KindCancelled is a run stopped by its context.
	KindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "VALIDATION_REJECTION"
	case KindSkipLimitExceeded:
		return "SKIP_LIMIT_EXCEEDED"
	case KindResource:
		return "RESOURCE_FAULT"
	case KindFinalization:
		return "FINALIZATION_FAULT"
	case KindCancelled:
		return "CANCELLED"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error is a job error tagged with its kind. Line is the 1-based source line
// the error relates to, or 0 when it is not tied to a record.
type Error struct {
	Kind ErrorKind
	Line int
	Err  error
}

func (e *Error) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s at line %d: %v", e.Kind, e.Line, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError tags err with kind.
func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// ResourceError tags a source or destination failure.
func ResourceError(format string, args ...any) *Error {
	return &Error{Kind: KindResource, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the kind of err. Untagged errors are resource faults:
// anything the job does not recognise is never eligible for skipping.
func KindOf(err error) ErrorKind {
	if err == nil {
		return 0
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindResource
}
