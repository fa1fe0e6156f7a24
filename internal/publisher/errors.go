package publisher

import (
	"errors"
	"fmt"

	"github.com/clipcast/publisher/internal/model"
)

// Error is a classified platform failure. Remediation carries the operator
// guidance that ends up on the publish attempt.
type Error struct {
	Kind        model.ErrorKind
	Remediation string
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified platform error.
func NewError(kind model.ErrorKind, remediation string, err error) *Error {
	return &Error{Kind: kind, Remediation: remediation, Err: err}
}

// AsError extracts the classified error, if any.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
