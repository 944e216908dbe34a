package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrInvalidSelection rejects a submission with an empty or malformed unit
// list before anything enters the queue.
var ErrInvalidSelection = errors.New("invalid selection: at least one unit is required")

// ErrTaskNotFound signals an unknown task id.
var ErrTaskNotFound = errors.New("task not found")

// ErrInvalidTransition signals a control action that is not valid for the
// task's current state (e.g. resuming a task that is not paused).
var ErrInvalidTransition = errors.New("invalid state transition")

// ErrorKind classifies unit execution failures for retry and terminal
// handling. Overload is deliberately absent: breaker backpressure is never
// surfaced as a unit failure.
type ErrorKind int

// Unit error kinds.
const (
	// KindTransient covers timeouts and collaborator unavailability; the
	// unit goes back to QUEUED with attempt+1.
	KindTransient ErrorKind = iota
	// KindPermanent covers validation rejections and malformed sources;
	// the unit is FAILED immediately, the task continues.
	KindPermanent
	// KindInfrastructure covers queue/store unreachability; it is
	// job-fatal and moves the task to FAILURE.
	KindInfrastructure
)

// UnitError wraps an execution failure with its classification.
type UnitError struct {
	Kind ErrorKind
	Err  error
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("unit error (%s): %v", e.kindString(), e.Err)
}

func (e *UnitError) Unwrap() error { return e.Err }

func (e *UnitError) kindString() string {
	switch e.Kind {
	case KindPermanent:
		return "permanent"
	case KindInfrastructure:
		return "infrastructure"
	default:
		return "transient"
	}
}

// Transient wraps err as a retryable unit error.
func Transient(err error) *UnitError {
	return &UnitError{Kind: KindTransient, Err: err}
}

// Permanent wraps err as a non-retryable unit error.
func Permanent(err error) *UnitError {
	return &UnitError{Kind: KindPermanent, Err: err}
}

// Infrastructure wraps err as a job-fatal fault.
func Infrastructure(err error) *UnitError {
	return &UnitError{Kind: KindInfrastructure, Err: err}
}

// ClassifyError derives an ErrorKind from an arbitrary collaborator error.
// Deadline expiry and network timeouts are transient; anything already
// wrapped keeps its classification; everything else is permanent.
func ClassifyError(err error) ErrorKind {
	var ue *UnitError
	if errors.As(err, &ue) {
		return ue.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}
	return KindPermanent
}
