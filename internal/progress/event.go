// Package progress defines the lifecycle events emitted by the orchestrator.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageTaskSubmit    Stage = "TASK_SUBMIT"
	StageTaskStart     Stage = "TASK_START"
	StageTaskDone      Stage = "TASK_DONE"
	StageUnitDone      Stage = "UNIT_DONE"
	StageUnitFailed    Stage = "UNIT_FAILED"
	StageUnitSkipped   Stage = "UNIT_SKIPPED"
	StageUnitRetry     Stage = "UNIT_RETRY"
	StageBreakerOpen   Stage = "BREAKER_OPEN"
	StageBreakerClosed Stage = "BREAKER_CLOSED"
)

// Event captures a single orchestration milestone.
type Event struct {
	// TaskID identifies the owning task; empty only for breaker events.
	TaskID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// UnitKey optionally scopes unit events to their dedup key.
	UnitKey string
	// Attempt carries the attempt number for unit events.
	Attempt int
	// Dur captures execution latency for unit completions.
	Dur time.Duration
	// Note lets emitters attach low-volume context (e.g. error text or a
	// terminal status).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageBreakerOpen, StageBreakerClosed:
	case StageTaskSubmit, StageTaskStart, StageTaskDone:
		if e.TaskID == "" {
			return errors.New("task events require a task id")
		}
	case StageUnitDone, StageUnitFailed, StageUnitSkipped, StageUnitRetry:
		if e.TaskID == "" {
			return errors.New("unit events require a task id")
		}
		if e.UnitKey == "" {
			return errors.New("unit events require a unit key")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
