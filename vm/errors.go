package vm

import (
	"errors"
	"fmt"
)

// Conditions raised while reading and writing attributes. All but
// ErrLayoutConflict are recovered inside the package by re-specializing;
// they are exported so hosts driving Locations directly can test for them.
var (
	// ErrIncompatibleValue: the value's type does not fit the Location.
	ErrIncompatibleValue = errors.New("incompatible value for location")

	// ErrFinalViolation: a second, different value written to a final Location.
	ErrFinalViolation = errors.New("write to final location")

	// ErrInvalidAssumption: a shape's validity token has been invalidated.
	ErrInvalidAssumption = errors.New("assumption invalidated")

	// ErrLayoutConflict: the transition engine cannot produce a consistent
	// shape for the requested mutation. The caller must report it.
	ErrLayoutConflict = errors.New("layout conflict")
)

// conflictf wraps ErrLayoutConflict with the attribute and the reason.
func conflictf(name string, format string, args ...interface{}) error {
	return fmt.Errorf("%w: attribute %q: %s", ErrLayoutConflict, name, fmt.Sprintf(format, args...))
}
