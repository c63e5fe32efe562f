package backup

import (
	"errors"
	"fmt"
)

// Kind classifies where a run failed.
type Kind string

const (
	KindCapture     Kind = "capture"
	KindSerialize   Kind = "serialize"
	KindCompression Kind = "compression"
	KindUpload      Kind = "upload"
)

// Error is returned by Run; Err keeps the underlying cause (for uploads a
// *provider.MultiError when more than one destination is configured).
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("backup %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is a backup *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var be *Error
	return errors.As(err, &be) && be.Kind == kind
}
