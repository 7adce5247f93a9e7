package domain

import (
	"errors"
	"fmt"
)

// Sentinel error kinds, matched with errors.Is against the wrapping types below.
var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidState  = errors.New("invalid state")
	ErrValidation    = errors.New("validation failed")
	ErrStore         = errors.New("store error")
	ErrDispatch      = errors.New("dispatch error")
)

// NotFoundError reports a missing plan, job, or workflow definition.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InvalidStateError reports an attempt to mutate a finished plan, or to
// complete a job twice. Callers on the worker path treat this as a silent
// no-op; direct API callers see it surfaced.
type InvalidStateError struct {
	PlanID string
	Reason string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state for plan %s: %s", e.PlanID, e.Reason)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// ValidationError reports a malformed EnqueueRequest or other caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// StoreError wraps a Plan Store (database) failure. The transaction has
// already been rolled back by the time this is returned; Queue Index ops
// staged in the same operation were never applied.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error during %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStore }

// DispatchError wraps a Queue Index script failure during the apply step of
// the Transaction Coordinator's commit. The durable write already succeeded;
// entity counters may drift until the next consistent update.
type DispatchError struct {
	Op  string
	Err error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch error during %s: %v", e.Op, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

func (e *DispatchError) Is(target error) bool { return target == ErrDispatch }
