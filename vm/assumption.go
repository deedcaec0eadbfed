package vm

import "sync/atomic"

// invalidations counts Assumptions that have flipped to invalid, process wide.
var invalidations atomic.Uint64

// Assumption is a single-writer, many-reader validity flag. It starts valid
// and, once invalidated, stays invalid forever.
//
// Invalidation does not notify anyone. Cache entries check the tokens of the
// shapes they guard on every use and drop themselves when a check fails, so
// invalidating is O(1) no matter how many entries refer to the shape.
type Assumption struct {
	invalid atomic.Bool
	name    string
}

// NewAssumption creates a valid assumption. The name is used in diagnostics.
func NewAssumption(name string) *Assumption {
	return &Assumption{name: name}
}

// Check returns ErrInvalidAssumption if the assumption no longer holds.
func (a *Assumption) Check() error {
	if a.invalid.Load() {
		return ErrInvalidAssumption
	}
	return nil
}

// IsValid reports whether the assumption still holds.
func (a *Assumption) IsValid() bool {
	return !a.invalid.Load()
}

// Invalidate flips the assumption to invalid. Repeated calls are no-ops.
func (a *Assumption) Invalidate() {
	if a.invalid.CompareAndSwap(false, true) {
		invalidations.Add(1)
	}
}

// Name returns the diagnostic name.
func (a *Assumption) Name() string {
	return a.name
}

// Invalidations returns how many assumptions have been invalidated so far.
func Invalidations() uint64 {
	return invalidations.Load()
}
