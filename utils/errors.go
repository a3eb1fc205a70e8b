package utils

import (
	"github.com/pkg/errors"
)

// NewUnexpectedTypeError is used when there is a type mismatch, e.g. a constructor handed the
// configuration of another sensor.
func NewUnexpectedTypeError(expected interface{}, actual interface{}) error {
	return errors.Errorf("expected %T but got %T", expected, actual)
}

// NewUnregisteredError is used when looking up a name nothing registered.
func NewUnregisteredError(kind, name string) error {
	return errors.Errorf("no %s registered for %q", kind, name)
}
