// Package pipeline defines the core domain types for batch task orchestration.
package pipeline

import "time"

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

// Task lifecycle states. SUCCESS, FAILURE, and ABORTED are terminal.
const (
	TaskStatusPending TaskStatus = "PENDING"
	TaskStatusRunning TaskStatus = "RUNNING"
	TaskStatusPaused  TaskStatus = "PAUSED"
	TaskStatusSuccess TaskStatus = "SUCCESS"
	TaskStatusFailure TaskStatus = "FAILURE"
	TaskStatusAborted TaskStatus = "ABORTED"
)

// IsTerminal reports whether the status can never change again.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusSuccess, TaskStatusFailure, TaskStatusAborted:
		return true
	default:
		return false
	}
}

// UnitStatus is the per-attempt state of a WorkUnit.
type UnitStatus string

// Work unit states.
const (
	UnitStatusQueued     UnitStatus = "QUEUED"
	UnitStatusInProgress UnitStatus = "IN_PROGRESS"
	UnitStatusDone       UnitStatus = "DONE"
	UnitStatusFailed     UnitStatus = "FAILED"
	UnitStatusSkipped    UnitStatus = "SKIPPED"
)

// Priority orders units at dispatch time. Lower values dispatch first.
type Priority int

// Priority tiers; HIGH before MEDIUM before LOW, FIFO within a tier.
const (
	PriorityHigh Priority = iota
	PriorityMedium
	PriorityLow
)

// ParsePriority maps a wire string to a Priority, defaulting to MEDIUM.
func ParsePriority(s string) Priority {
	switch s {
	case "high", "HIGH":
		return PriorityHigh
	case "low", "LOW":
		return PriorityLow
	default:
		return PriorityMedium
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "HIGH"
	case PriorityLow:
		return "LOW"
	default:
		return "MEDIUM"
	}
}

// Outcome is the terminal result of one executed unit attempt.
type Outcome string

// Unit outcomes. OutcomeRetry is internal: it sends the unit back to QUEUED.
const (
	OutcomeDone    Outcome = "DONE"
	OutcomeSkipped Outcome = "SKIPPED"
	OutcomeFailed  Outcome = "FAILED"
	OutcomeRetry   Outcome = "RETRY"
)

// Task is one user-initiated batch of work units with its own lifecycle.
type Task struct {
	ID           string
	Status       TaskStatus
	Total        int
	Completed    int
	Errors       int
	CurrentLabel string
	Reason       string
	CreatedAt    time.Time
	StartedAt    *time.Time
	EndedAt      *time.Time
}

// WorkUnit is the smallest schedulable piece of work: one source document.
// Key doubles as the canonical dedup key (normalized source URL).
type WorkUnit struct {
	Key      string
	TaskID   string
	Label    string
	Priority Priority
	Status   UnitStatus
	Attempt  int
	ReadyAt  time.Time
}

// UnitSpec describes one unit in a submission selection.
type UnitSpec struct {
	URL      string
	Label    string
	Priority Priority
}

// UnitResult reports the outcome of one executed attempt.
type UnitResult struct {
	Outcome  Outcome
	Err      error
	Duration time.Duration
}

// ResourceSample is one point-in-time host utilization reading. Samples are
// ring-buffered for throttle computation and never persisted.
type ResourceSample struct {
	Timestamp  time.Time
	CPUPercent float64
	MemPercent float64
}

// ControlAction names a control-channel verb.
type ControlAction string

// Control actions. Repeated delivery is idempotent.
const (
	ControlPause  ControlAction = "PAUSE"
	ControlResume ControlAction = "RESUME"
	ControlAbort  ControlAction = "ABORT"
)

// ControlSignal is a pause/resume/abort request for one task.
type ControlSignal struct {
	TaskID   string
	Action   ControlAction
	IssuedAt time.Time
}

// Snapshot is the point-in-time task status served to pollers. Counters are
// copied under the queue lock, so Completed never decreases or exceeds Total
// between reads.
type Snapshot struct {
	TaskID              string
	Status              TaskStatus
	Completed           int
	Total               int
	Errors              int
	CurrentLabel        string
	Reason              string
	CreatedAt           time.Time
	StartedAt           *time.Time
	EndedAt             *time.Time
	EstimatedCompletion *time.Time
}

// ExtractedDocument is the structured result returned by the extraction
// collaborator for one source document.
type ExtractedDocument struct {
	Key         string
	SourceURL   string
	Title       string
	EffectiveAt *time.Time
	Codes       []string
	Fields      map[string]string
}

// ResultRecord is what the orchestrator persists per completed unit.
type ResultRecord struct {
	Key         string
	TaskID      string
	Document    ExtractedDocument
	ExtractedAt time.Time
}
