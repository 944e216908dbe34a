package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/policy-orchestrator/internal/progress"
)

// PrometheusSink exports orchestration progress metrics via Prometheus. It
// owns all collectors for tasks submitted/completed/running, unit outcomes,
// and breaker transitions.
type PrometheusSink struct {
	tasksSubmitted prometheus.Counter
	tasksCompleted *prometheus.CounterVec
	tasksRunning   prometheus.Gauge
	taskRuntime    *prometheus.HistogramVec

	unitOutcomes *prometheus.CounterVec
	unitRetries  prometheus.Counter
	unitDuration *prometheus.HistogramVec

	breakerTrips prometheus.Counter

	tracker *taskTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		tasksSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_tasks_submitted_total",
			Help: "Total tasks accepted for processing.",
		}),
		tasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_tasks_completed_total",
			Help: "Total tasks reaching a terminal state, partitioned by status.",
		}, []string{"status"}),
		tasksRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orchestrator_tasks_running",
			Help: "Current number of running tasks.",
		}),
		taskRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orchestrator_task_runtime_seconds",
			Help:    "Wall time per completed task.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"status"}),
		unitOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_unit_outcomes_total",
			Help: "Unit completions partitioned by outcome.",
		}, []string{"outcome"}),
		unitRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_unit_retries_total",
			Help: "Units sent back to the queue for another attempt.",
		}),
		unitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orchestrator_unit_attempt_duration_seconds",
			Help:    "Unit attempt duration partitioned by outcome.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"outcome"}),
		breakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_breaker_trips_total",
			Help: "Times the circuit breaker transitioned to OPEN.",
		}),
		tracker: newTaskTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.tasksSubmitted,
		s.tasksCompleted,
		s.tasksRunning,
		s.taskRuntime,
		s.unitOutcomes,
		s.unitRetries,
		s.unitDuration,
		s.breakerTrips,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageTaskSubmit:
		s.tasksSubmitted.Inc()
	case progress.StageTaskStart:
		if s.tracker.start(evt.TaskID) {
			s.tasksRunning.Inc()
		}
	case progress.StageTaskDone:
		status := evt.Note
		if status == "" {
			status = "SUCCESS"
		}
		s.tasksCompleted.WithLabelValues(status).Inc()
		if evt.Dur > 0 {
			s.taskRuntime.WithLabelValues(status).Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.TaskID) {
			s.tasksRunning.Dec()
		}
	case progress.StageUnitDone:
		s.observeUnit("done", evt)
	case progress.StageUnitFailed:
		s.observeUnit("failed", evt)
	case progress.StageUnitSkipped:
		s.observeUnit("skipped", evt)
	case progress.StageUnitRetry:
		s.unitRetries.Inc()
	case progress.StageBreakerOpen:
		s.breakerTrips.Inc()
	}
}

func (s *PrometheusSink) observeUnit(outcome string, evt progress.Event) {
	s.unitOutcomes.WithLabelValues(outcome).Inc()
	if evt.Dur > 0 {
		s.unitDuration.WithLabelValues(outcome).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type taskTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newTaskTracker() *taskTracker {
	return &taskTracker{running: make(map[string]struct{})}
}

func (t *taskTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *taskTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
