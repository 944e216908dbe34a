// Package queue owns the canonical state of every task and the ordering of
// not-yet-started work units.
package queue

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/policy-orchestrator/internal/control"
	"github.com/JakeFAU/policy-orchestrator/internal/metrics"
	"github.com/JakeFAU/policy-orchestrator/internal/pipeline"
	"github.com/JakeFAU/policy-orchestrator/internal/progress"
)

// Claim hands one unit to an execution slot. The unit is a copy; the queue
// keeps ownership of the canonical record.
type Claim struct {
	TaskID string
	Unit   pipeline.WorkUnit
}

// TaskQueue is the single writer for task and unit state. All mutations go
// through its API; no other component touches task fields directly.
type TaskQueue struct {
	mu      sync.Mutex
	tasks   map[string]*taskState
	seq     uint64
	signals *control.Registry
	store   pipeline.TaskStore
	clock   pipeline.Clock
	idGen   pipeline.IDGenerator
	emitter progress.Emitter
	retry   *pipeline.RetryPolicy
	pub     pipeline.Publisher
	topic   string
	logger  *zap.Logger
}

type taskState struct {
	task     pipeline.Task
	units    map[string]*pipeline.WorkUnit
	pending  [3][]pendingRef
	inflight int
}

// pendingRef orders queued units: tier first, then claim sequence. Sequence
// numbers are assigned at enqueue (and re-assigned at requeue), so FIFO holds
// within a tier while priority is still evaluated at claim time.
type pendingRef struct {
	key string
	seq uint64
}

// Options carries the queue's optional collaborators.
type Options struct {
	Publisher pipeline.Publisher
	Topic     string
	Logger    *zap.Logger
}

// New constructs a TaskQueue.
func New(
	store pipeline.TaskStore,
	signals *control.Registry,
	emitter progress.Emitter,
	clock pipeline.Clock,
	idGen pipeline.IDGenerator,
	retry *pipeline.RetryPolicy,
	opts Options,
) *TaskQueue {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}
	if retry == nil {
		retry = pipeline.NewRetryPolicy()
	}
	return &TaskQueue{
		tasks:   make(map[string]*taskState),
		signals: signals,
		store:   store,
		clock:   clock,
		idGen:   idGen,
		emitter: emitter,
		retry:   retry,
		pub:     opts.Publisher,
		topic:   opts.Topic,
		logger:  logger,
	}
}

// Submit creates a PENDING task from the selection and enqueues its units by
// priority. Duplicate keys within one selection collapse to a single unit.
// It returns pipeline.ErrInvalidSelection when no usable unit remains.
func (q *TaskQueue) Submit(ctx context.Context, specs []pipeline.UnitSpec) (string, error) {
	cleaned := make([]pipeline.UnitSpec, 0, len(specs))
	seen := make(map[string]struct{}, len(specs))
	for _, spec := range specs {
		key := strings.TrimSpace(spec.URL)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		spec.URL = key
		cleaned = append(cleaned, spec)
	}
	if len(cleaned) == 0 {
		return "", pipeline.ErrInvalidSelection
	}

	taskID, err := q.idGen.NewID()
	if err != nil {
		return "", pipeline.Infrastructure(err)
	}

	now := q.clock.Now()
	ts := &taskState{
		task: pipeline.Task{
			ID:        taskID,
			Status:    pipeline.TaskStatusPending,
			Total:     len(cleaned),
			CreatedAt: now,
		},
		units: make(map[string]*pipeline.WorkUnit, len(cleaned)),
	}

	q.mu.Lock()
	for _, spec := range cleaned {
		label := spec.Label
		if label == "" {
			label = spec.URL
		}
		unit := &pipeline.WorkUnit{
			Key:      spec.URL,
			TaskID:   taskID,
			Label:    label,
			Priority: spec.Priority,
			Status:   pipeline.UnitStatusQueued,
			Attempt:  1,
			ReadyAt:  now,
		}
		ts.units[unit.Key] = unit
		q.seq++
		ts.pending[unit.Priority] = append(ts.pending[unit.Priority], pendingRef{key: unit.Key, seq: q.seq})
	}
	q.tasks[taskID] = ts
	q.persistLocked(ctx, ts)
	q.mu.Unlock()

	q.emitter.Emit(progress.Event{TaskID: taskID, TS: now, Stage: progress.StageTaskSubmit})
	q.logger.Info("task submitted",
		zap.String("task_id", taskID),
		zap.Int("units", len(cleaned)),
	)
	return taskID, nil
}

// Claim pops the next dispatchable unit across all tasks: highest priority
// tier first, FIFO within a tier, skipping tasks that are paused, aborted,
// or terminal and units still waiting out a retry backoff. The second return
// is false when nothing is claimable right now.
func (q *TaskQueue) Claim(ctx context.Context) (Claim, bool) {
	now := q.clock.Now()

	q.mu.Lock()
	var (
		best     *taskState
		bestTier int
		bestIdx  int
		found    bool
	)
	for id, ts := range q.tasks {
		if ts.task.Status.IsTerminal() || ts.task.Status == pipeline.TaskStatusPaused {
			continue
		}
		if q.signals.Get(id) != control.ModeRun {
			continue
		}
		for tier := 0; tier < len(ts.pending); tier++ {
			if found && tier > bestTier {
				break
			}
			for idx, ref := range ts.pending[tier] {
				if ts.units[ref.key].ReadyAt.After(now) {
					continue
				}
				if !found || tier < bestTier || ref.seq < best.pending[bestTier][bestIdx].seq {
					best, bestTier, bestIdx, found = ts, tier, idx, true
				}
				break
			}
		}
	}
	if !found {
		q.mu.Unlock()
		return Claim{}, false
	}

	ref := best.pending[bestTier][bestIdx]
	best.pending[bestTier] = append(best.pending[bestTier][:bestIdx], best.pending[bestTier][bestIdx+1:]...)
	unit := best.units[ref.key]
	unit.Status = pipeline.UnitStatusInProgress
	best.inflight++
	best.task.CurrentLabel = unit.Label

	startedNow := false
	if best.task.Status == pipeline.TaskStatusPending {
		best.task.Status = pipeline.TaskStatusRunning
		started := now
		best.task.StartedAt = &started
		startedNow = true
	}
	claim := Claim{TaskID: best.task.ID, Unit: *unit}
	q.persistLocked(ctx, best)
	q.mu.Unlock()

	if startedNow {
		q.emitter.Emit(progress.Event{TaskID: claim.TaskID, TS: now, Stage: progress.StageTaskStart})
	}
	return claim, true
}

// RecordUnitResult is the single entry point for unit completions. It moves
// counters, requeues transient failures until the retry ceiling, and settles
// the task's terminal status once the last outstanding unit resolves.
func (q *TaskQueue) RecordUnitResult(ctx context.Context, taskID, unitKey string, res pipeline.UnitResult) error {
	now := q.clock.Now()

	q.mu.Lock()
	ts, ok := q.tasks[taskID]
	if !ok {
		q.mu.Unlock()
		return pipeline.ErrTaskNotFound
	}
	unit, ok := ts.units[unitKey]
	if !ok {
		q.mu.Unlock()
		return pipeline.ErrTaskNotFound
	}
	ts.inflight--

	outcome := res.Outcome
	if outcome == pipeline.OutcomeRetry {
		switch {
		case ts.task.Status == pipeline.TaskStatusAborted:
			// No retries once the task is draining.
			outcome = pipeline.OutcomeFailed
		case q.retry.Exhausted(unit.Attempt):
			outcome = pipeline.OutcomeFailed
		default:
			unit.Attempt++
			unit.Status = pipeline.UnitStatusQueued
			unit.ReadyAt = now.Add(q.retry.Backoff(unit.Attempt))
			q.seq++
			ts.pending[unit.Priority] = append(ts.pending[unit.Priority], pendingRef{key: unit.Key, seq: q.seq})
			q.persistLocked(ctx, ts)
			q.mu.Unlock()
			q.emitter.Emit(progress.Event{
				TaskID: taskID, TS: now, Stage: progress.StageUnitRetry,
				UnitKey: unitKey, Attempt: unit.Attempt, Dur: res.Duration,
			})
			return nil
		}
	}

	infraFault := false
	switch outcome {
	case pipeline.OutcomeDone:
		unit.Status = pipeline.UnitStatusDone
		ts.task.Completed++
	case pipeline.OutcomeSkipped:
		unit.Status = pipeline.UnitStatusSkipped
		ts.task.Completed++
	case pipeline.OutcomeFailed:
		unit.Status = pipeline.UnitStatusFailed
		ts.task.Errors++
		if res.Err != nil && pipeline.ClassifyError(res.Err) == pipeline.KindInfrastructure {
			infraFault = true
		}
	}
	metrics.ObserveUnit(string(outcome), res.Duration)

	events := []progress.Event{unitEvent(taskID, unitKey, unit.Attempt, now, outcome, res)}

	if infraFault && !ts.task.Status.IsTerminal() {
		events = append(events, q.settleLocked(ctx, ts, pipeline.TaskStatusFailure, "infrastructure_failure", now))
	} else if !ts.task.Status.IsTerminal() && ts.inflight == 0 && pendingEmpty(ts) {
		reason := ""
		if ts.task.Errors > 0 {
			reason = "completed_with_errors"
		}
		events = append(events, q.settleLocked(ctx, ts, pipeline.TaskStatusSuccess, reason, now))
	} else {
		q.persistLocked(ctx, ts)
	}
	q.mu.Unlock()

	for _, evt := range events {
		q.emitter.Emit(evt)
	}
	return nil
}

// Pause stops new dispatch for a RUNNING task; in-flight units keep draining
// and their results are still recorded. Pausing an already-paused task is a
// no-op.
func (q *TaskQueue) Pause(ctx context.Context, taskID string) (pipeline.TaskStatus, error) {
	return q.control(ctx, taskID, pipeline.ControlPause)
}

// Resume returns a PAUSED task to RUNNING; dispatch continues from the same
// queue position.
func (q *TaskQueue) Resume(ctx context.Context, taskID string) (pipeline.TaskStatus, error) {
	return q.control(ctx, taskID, pipeline.ControlResume)
}

// Abort immediately marks the task ABORTED, drops its queued units, and lets
// in-flight units drain. No unit of the task is claimed afterwards.
func (q *TaskQueue) Abort(ctx context.Context, taskID string) (pipeline.TaskStatus, error) {
	return q.control(ctx, taskID, pipeline.ControlAbort)
}

func (q *TaskQueue) control(ctx context.Context, taskID string, action pipeline.ControlAction) (pipeline.TaskStatus, error) {
	now := q.clock.Now()

	q.mu.Lock()
	ts, ok := q.tasks[taskID]
	if !ok {
		q.mu.Unlock()
		return "", pipeline.ErrTaskNotFound
	}
	status := ts.task.Status

	var events []progress.Event
	switch action {
	case pipeline.ControlPause:
		switch status {
		case pipeline.TaskStatusPaused:
		case pipeline.TaskStatusRunning:
			ts.task.Status = pipeline.TaskStatusPaused
			q.signals.Set(taskID, pipeline.ControlPause)
			q.persistLocked(ctx, ts)
		default:
			q.mu.Unlock()
			return status, pipeline.ErrInvalidTransition
		}
	case pipeline.ControlResume:
		switch status {
		case pipeline.TaskStatusRunning:
		case pipeline.TaskStatusPaused:
			ts.task.Status = pipeline.TaskStatusRunning
			q.signals.Set(taskID, pipeline.ControlResume)
			q.persistLocked(ctx, ts)
		default:
			q.mu.Unlock()
			return status, pipeline.ErrInvalidTransition
		}
	case pipeline.ControlAbort:
		switch status {
		case pipeline.TaskStatusAborted:
		case pipeline.TaskStatusRunning, pipeline.TaskStatusPaused:
			q.signals.Set(taskID, pipeline.ControlAbort)
			for tier := range ts.pending {
				for _, ref := range ts.pending[tier] {
					ts.units[ref.key].Status = pipeline.UnitStatusSkipped
				}
				ts.pending[tier] = nil
			}
			events = append(events, q.settleLocked(ctx, ts, pipeline.TaskStatusAborted, "aborted_by_caller", now))
		default:
			q.mu.Unlock()
			return status, pipeline.ErrInvalidTransition
		}
	}
	status = ts.task.Status
	q.mu.Unlock()

	for _, evt := range events {
		q.emitter.Emit(evt)
	}
	q.logger.Info("control signal applied",
		zap.String("task_id", taskID),
		zap.String("action", string(action)),
		zap.String("status", string(status)),
	)
	return status, nil
}

// settleLocked finalizes a task. Counters may still move afterwards while
// in-flight units drain, but the status never changes again.
func (q *TaskQueue) settleLocked(ctx context.Context, ts *taskState, status pipeline.TaskStatus, reason string, now time.Time) progress.Event {
	ts.task.Status = status
	ts.task.Reason = reason
	ended := now
	ts.task.EndedAt = &ended
	ts.task.CurrentLabel = ""
	q.persistLocked(ctx, ts)
	q.signals.Forget(ts.task.ID)
	metrics.ObserveTask(string(status))

	var dur time.Duration
	if ts.task.StartedAt != nil {
		dur = ended.Sub(*ts.task.StartedAt)
	}
	q.publish(ctx, ts.task)
	return progress.Event{
		TaskID: ts.task.ID,
		TS:     now,
		Stage:  progress.StageTaskDone,
		Dur:    dur,
		Note:   string(status),
	}
}

func (q *TaskQueue) publish(ctx context.Context, task pipeline.Task) {
	if q.pub == nil || q.topic == "" {
		return
	}
	payload := map[string]any{
		"task_id":   task.ID,
		"status":    string(task.Status),
		"completed": task.Completed,
		"errors":    task.Errors,
		"total":     task.Total,
		"reason":    task.Reason,
	}
	if _, err := q.pub.Publish(ctx, q.topic, payload); err != nil {
		q.logger.Warn("terminal notification publish failed",
			zap.String("task_id", task.ID),
			zap.Error(err),
		)
	}
}

func (q *TaskQueue) persistLocked(ctx context.Context, ts *taskState) {
	snap := snapshotOf(ts.task, q.clock.Now())
	if err := q.store.Put(ctx, snap); err != nil {
		q.logger.Error("task snapshot write failed",
			zap.String("task_id", ts.task.ID),
			zap.Error(err),
		)
	}
}

func unitEvent(taskID, unitKey string, attempt int, now time.Time, outcome pipeline.Outcome, res pipeline.UnitResult) progress.Event {
	stage := progress.StageUnitDone
	note := ""
	switch outcome {
	case pipeline.OutcomeSkipped:
		stage = progress.StageUnitSkipped
	case pipeline.OutcomeFailed:
		stage = progress.StageUnitFailed
		if res.Err != nil {
			note = res.Err.Error()
		}
	}
	return progress.Event{
		TaskID: taskID, TS: now, Stage: stage,
		UnitKey: unitKey, Attempt: attempt, Dur: res.Duration, Note: note,
	}
}

func pendingEmpty(ts *taskState) bool {
	for _, tier := range ts.pending {
		if len(tier) > 0 {
			return false
		}
	}
	return true
}

func snapshotOf(task pipeline.Task, now time.Time) pipeline.Snapshot {
	snap := pipeline.Snapshot{
		TaskID:       task.ID,
		Status:       task.Status,
		Completed:    task.Completed,
		Total:        task.Total,
		Errors:       task.Errors,
		CurrentLabel: task.CurrentLabel,
		Reason:       task.Reason,
		CreatedAt:    task.CreatedAt,
		StartedAt:    task.StartedAt,
		EndedAt:      task.EndedAt,
	}
	if task.Status == pipeline.TaskStatusRunning && task.Completed > 0 && task.StartedAt != nil {
		elapsed := now.Sub(*task.StartedAt)
		if elapsed > 0 {
			remaining := task.Total - task.Completed - task.Errors
			perUnit := elapsed / time.Duration(task.Completed)
			est := now.Add(perUnit * time.Duration(remaining))
			snap.EstimatedCompletion = &est
		}
	}
	return snap
}
