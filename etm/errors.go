package etm

import "errors"

// ErrResourceExhausted is returned when a trace unit's comparator, selector
// or external-input pool has no remaining slot for the requested allocation.
// Configuration sequences do not recover from it: a half-wired event pipeline
// must not be enabled.
var ErrResourceExhausted = errors.New("trace unit resource exhausted")

// ErrPrecondition is returned when a caller-supplied parameter violates a
// hard constraint of the target hardware, e.g. a non-zero base slot for a
// chained 32-bit counter or an event-packet position outside 0..3.
var ErrPrecondition = errors.New("precondition violated")
