// Package executor runs one extraction attempt per claimed work unit. Retry
// scheduling lives in the queue; the executor only reports outcomes.
package executor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/policy-orchestrator/internal/pipeline"
)

// Executor executes work units against the extraction engine and persists
// results with dedup.
type Executor struct {
	extractor pipeline.Extractor
	results   pipeline.ResultStore
	clock     pipeline.Clock
	timeout   time.Duration
	logger    *zap.Logger
}

// New constructs an Executor. timeout bounds each attempt end to end
// (default 30s).
func New(extractor pipeline.Extractor, results pipeline.ResultStore, clock pipeline.Clock, timeout time.Duration, logger *zap.Logger) *Executor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		extractor: extractor,
		results:   results,
		clock:     clock,
		timeout:   timeout,
		logger:    logger,
	}
}

// Execute runs a single attempt: dedup check, extraction, conditional write.
// A unit whose key is already persisted is SKIPPED without calling the
// engine. Transient faults come back as RETRY so the queue can requeue.
func (e *Executor) Execute(ctx context.Context, unit pipeline.WorkUnit) pipeline.UnitResult {
	start := e.clock.Now()
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	exists, err := e.results.Exists(ctx, unit.Key)
	if err != nil {
		return e.finish(unit, start, failureResult(err))
	}
	if exists {
		return e.finish(unit, start, pipeline.UnitResult{Outcome: pipeline.OutcomeSkipped})
	}

	doc, err := e.extractor.Extract(ctx, unit)
	if err != nil {
		return e.finish(unit, start, failureResult(err))
	}

	inserted, err := e.results.Write(ctx, pipeline.ResultRecord{
		Key:         unit.Key,
		TaskID:      unit.TaskID,
		Document:    doc,
		ExtractedAt: e.clock.Now(),
	})
	if err != nil {
		return e.finish(unit, start, failureResult(err))
	}
	if !inserted {
		// A racing attempt of the same key won the insert.
		return e.finish(unit, start, pipeline.UnitResult{Outcome: pipeline.OutcomeSkipped})
	}
	return e.finish(unit, start, pipeline.UnitResult{Outcome: pipeline.OutcomeDone})
}

func (e *Executor) finish(unit pipeline.WorkUnit, start time.Time, res pipeline.UnitResult) pipeline.UnitResult {
	res.Duration = e.clock.Now().Sub(start)
	if res.Err != nil {
		e.logger.Debug("unit attempt failed",
			zap.String("task_id", unit.TaskID),
			zap.String("unit_key", unit.Key),
			zap.Int("attempt", unit.Attempt),
			zap.String("outcome", string(res.Outcome)),
			zap.Error(res.Err),
		)
	}
	return res
}

// failureResult maps an error to the outcome the queue expects: transient
// faults request a retry, everything else fails the unit. Infrastructure
// classification travels inside the error and settles the task upstream.
func failureResult(err error) pipeline.UnitResult {
	if pipeline.ClassifyError(err) == pipeline.KindTransient {
		return pipeline.UnitResult{Outcome: pipeline.OutcomeRetry, Err: err}
	}
	return pipeline.UnitResult{Outcome: pipeline.OutcomeFailed, Err: err}
}
