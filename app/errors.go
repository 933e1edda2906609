package app

import (
	"errors"
	"fmt"
)

// ErrNoCapacityFound is returned when the prober exhausts its probe budget
// without finding a schedulable slot. Callers must not continue as if a
// callback were armed.
var ErrNoCapacityFound = errors.New("no scheduler capacity found within probe budget")

// ScheduleCreationError reports a failure to arm a settlement callback
// against the external scheduler.
type ScheduleCreationError struct {
	Reason string
	Err    error
}

func (e *ScheduleCreationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("schedule creation failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("schedule creation failed: %s", e.Reason)
}

func (e *ScheduleCreationError) Unwrap() error { return e.Err }
