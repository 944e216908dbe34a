package monitor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/policy-orchestrator/internal/progress"
)

type stageRecorder struct {
	mu     sync.Mutex
	stages []progress.Stage
}

func (r *stageRecorder) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, evt.Stage)
}

func (r *stageRecorder) all() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progress.Stage(nil), r.stages...)
}

func TestBreakerIgnoresSingleSpike(t *testing.T) {
	t.Parallel()
	rec := &stageRecorder{}
	b := NewBreaker(60*time.Second, 15*time.Second, rec, nil)
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.Equal(t, BreakerClosed, b.Observe(1.0, start))
	require.Equal(t, BreakerClosed, b.Observe(0.2, start.Add(2*time.Second)))
	require.Equal(t, BreakerClosed, b.Observe(1.0, start.Add(4*time.Second)))
	require.False(t, b.IsOpen())
	require.Empty(t, rec.all())
}

func TestBreakerTripsAfterFullWindow(t *testing.T) {
	t.Parallel()
	rec := &stageRecorder{}
	b := NewBreaker(60*time.Second, 15*time.Second, rec, nil)
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for s := 0; s <= 59; s += 2 {
		require.Equal(t, BreakerClosed, b.Observe(1.0, start.Add(time.Duration(s)*time.Second)))
	}
	require.Equal(t, BreakerOpen, b.Observe(1.0, start.Add(60*time.Second)))
	require.Equal(t, []progress.Stage{progress.StageBreakerOpen}, rec.all())
}

func TestBreakerBreachResetOnDip(t *testing.T) {
	t.Parallel()
	b := NewBreaker(60*time.Second, 15*time.Second, nil, nil)
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	b.Observe(1.0, start)
	b.Observe(1.0, start.Add(58*time.Second))
	// Dip below the maximum restarts the window.
	b.Observe(0.9, start.Add(59*time.Second))
	require.Equal(t, BreakerClosed, b.Observe(1.0, start.Add(61*time.Second)))
	require.Equal(t, BreakerClosed, b.Observe(1.0, start.Add(2*time.Minute)))
	require.Equal(t, BreakerOpen, b.Observe(1.0, start.Add(61*time.Second+60*time.Second)))
}

func TestBreakerRecoversAfterCleanWindow(t *testing.T) {
	t.Parallel()
	rec := &stageRecorder{}
	b := NewBreaker(60*time.Second, 15*time.Second, rec, nil)
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	b.Observe(1.0, start)
	require.Equal(t, BreakerOpen, b.Observe(1.0, start.Add(60*time.Second)))

	recoveryStart := start.Add(62 * time.Second)
	require.Equal(t, BreakerOpen, b.Observe(0, recoveryStart))
	require.Equal(t, BreakerOpen, b.Observe(0, recoveryStart.Add(14*time.Second)))
	require.Equal(t, BreakerClosed, b.Observe(0, recoveryStart.Add(15*time.Second)))
	require.Equal(t, []progress.Stage{progress.StageBreakerOpen, progress.StageBreakerClosed}, rec.all())
}

func TestBreakerRecoveryResetOnResidualPressure(t *testing.T) {
	t.Parallel()
	b := NewBreaker(60*time.Second, 15*time.Second, nil, nil)
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	b.Observe(1.0, start)
	require.Equal(t, BreakerOpen, b.Observe(1.0, start.Add(60*time.Second)))

	recoveryStart := start.Add(62 * time.Second)
	b.Observe(0, recoveryStart)
	// Any residual pressure restarts the recovery window.
	b.Observe(0.1, recoveryStart.Add(10*time.Second))
	require.Equal(t, BreakerOpen, b.Observe(0, recoveryStart.Add(16*time.Second)))
	require.Equal(t, BreakerOpen, b.Observe(0, recoveryStart.Add(30*time.Second)))
	require.Equal(t, BreakerClosed, b.Observe(0, recoveryStart.Add(31*time.Second)))
}
