// Package cerr defines the behavioral error kinds shared across the
// certification pipeline. Callers use errors.As to recover the kind they
// care about instead of comparing error strings.
package cerr

import "fmt"

// Validation reports that caller-supplied data is malformed or violates an
// invariant. Never retried; surfaced to the caller with Field and Code.
type Validation struct {
	Field string
	Code  string
}

func (e *Validation) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Code)
}

// NewValidation builds a Validation error.
func NewValidation(field, code string) error {
	return &Validation{Field: field, Code: code}
}

// InvalidFlowState reports an operation attempted on a state-machine
// instance in the wrong state (e.g. submitting a draft bulletin).
type InvalidFlowState struct {
	Flow  string
	State string
	Op    string
}

func (e *InvalidFlowState) Error() string {
	return fmt.Sprintf("invalid flow state: cannot %s a %s in state %s", e.Op, e.Flow, e.State)
}

// NewInvalidFlowState builds an InvalidFlowState error.
func NewInvalidFlowState(flow, state, op string) error {
	return &InvalidFlowState{Flow: flow, State: state, Op: op}
}

// NotReady reports that the caller is ahead of the system: e.g. requesting
// a proof before the bulletin is published. Retriable.
type NotReady struct {
	Resource  string
	Condition string
}

func (e *NotReady) Error() string {
	return fmt.Sprintf("not ready: %s: %s", e.Resource, e.Condition)
}

// NewNotReady builds a NotReady error.
func NewNotReady(resource, condition string) error {
	return &NotReady{Resource: resource, Condition: condition}
}

// Transient wraps a network, RPC, or storage error that is safe to retry.
type Transient struct {
	Cause error
}

func (e *Transient) Error() string {
	return fmt.Sprintf("transient: %v", e.Cause)
}

func (e *Transient) Unwrap() error {
	return e.Cause
}

// NewTransient wraps cause as a Transient error.
func NewTransient(cause error) error {
	return &Transient{Cause: cause}
}

// Fatal reports a condition the process cannot recover from: the signing
// wallet cannot be unlocked, the database is unreachable on startup.
type Fatal struct {
	Cause error
}

func (e *Fatal) Error() string {
	return fmt.Sprintf("fatal: %v", e.Cause)
}

func (e *Fatal) Unwrap() error {
	return e.Cause
}

// NewFatal wraps cause as a Fatal error.
func NewFatal(cause error) error {
	return &Fatal{Cause: cause}
}
