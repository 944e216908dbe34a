package monitor

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/policy-orchestrator/internal/metrics"
	"github.com/JakeFAU/policy-orchestrator/internal/progress"
)

// BreakerState is the circuit breaker position.
type BreakerState string

// Breaker states. OPEN halts all dispatch.
const (
	BreakerClosed BreakerState = "CLOSED"
	BreakerOpen   BreakerState = "OPEN"
)

// Breaker trips when the throttle level has been pinned at the maximum for a
// full trip window and recovers only after the level has been clean for a
// full recovery window. A single spike never trips it.
type Breaker struct {
	mu             sync.Mutex
	state          BreakerState
	tripWindow     time.Duration
	recoveryWindow time.Duration
	breachSince    *time.Time
	cleanSince     *time.Time
	emitter        progress.Emitter
	logger         *zap.Logger
}

// NewBreaker constructs a closed Breaker with the given windows.
func NewBreaker(tripWindow, recoveryWindow time.Duration, emitter progress.Emitter, logger *zap.Logger) *Breaker {
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		state:          BreakerClosed,
		tripWindow:     tripWindow,
		recoveryWindow: recoveryWindow,
		emitter:        emitter,
		logger:         logger,
	}
}

// Observe feeds one throttle reading into the breaker and returns the
// resulting state. Callers must pass monotonically non-decreasing times.
func (b *Breaker) Observe(level float64, now time.Time) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		if level < 1.0 {
			b.breachSince = nil
			break
		}
		if b.breachSince == nil {
			t := now
			b.breachSince = &t
			break
		}
		if now.Sub(*b.breachSince) >= b.tripWindow {
			b.state = BreakerOpen
			b.cleanSince = nil
			metrics.SetBreakerOpen(true)
			b.emitter.Emit(progress.Event{TS: now, Stage: progress.StageBreakerOpen})
			b.logger.Warn("circuit breaker opened",
				zap.Duration("sustained", now.Sub(*b.breachSince)),
			)
		}
	case BreakerOpen:
		if level > 0 {
			b.cleanSince = nil
			break
		}
		if b.cleanSince == nil {
			t := now
			b.cleanSince = &t
			break
		}
		if now.Sub(*b.cleanSince) >= b.recoveryWindow {
			b.state = BreakerClosed
			b.breachSince = nil
			metrics.SetBreakerOpen(false)
			b.emitter.Emit(progress.Event{TS: now, Stage: progress.StageBreakerClosed})
			b.logger.Info("circuit breaker closed",
				zap.Duration("clean", now.Sub(*b.cleanSince)),
			)
		}
	}
	return b.state
}

// State returns the current breaker position.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsOpen reports whether dispatch should halt.
func (b *Breaker) IsOpen() bool {
	return b.State() == BreakerOpen
}
