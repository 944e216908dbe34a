// Package pool runs the adaptive execution slots that pull units from the
// queue. Slot count follows the monitor's throttle level; the breaker halts
// claiming entirely while open.
package pool

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/policy-orchestrator/internal/executor"
	"github.com/JakeFAU/policy-orchestrator/internal/metrics"
	"github.com/JakeFAU/policy-orchestrator/internal/queue"
)

// Config tunes the pool.
//   - MaxWorkers: slot ceiling (default 4).
//   - MaxUnitsPerSlot: units one slot processes before it is torn down and
//     replaced, bounding per-goroutine resource accrual (default 50).
//   - DispatchDelay: pause between claims on one slot (default 100ms).
//   - ResizeInterval: how often the desired slot count is recomputed
//     (default 5s).
type Config struct {
	MaxWorkers      int
	MaxUnitsPerSlot int
	DispatchDelay   time.Duration
	ResizeInterval  time.Duration
	Logger          *zap.Logger
}

const (
	defaultMaxWorkers      = 4
	defaultMaxUnitsPerSlot = 50
	defaultDispatchDelay   = 100 * time.Millisecond
	defaultResizeInterval  = 5 * time.Second
)

// PressureSource supplies the throttle level and breaker position that size
// the pool.
type PressureSource interface {
	ThrottleLevel() float64
	BreakerOpen() bool
}

// Pool supervises execution slots. Each slot is one goroutine claiming and
// executing units sequentially.
type Pool struct {
	cfg      Config
	queue    *queue.TaskQueue
	exec     *executor.Executor
	pressure PressureSource
	logger   *zap.Logger

	mu      sync.Mutex
	desired int
	active  atomic.Int32
}

// New constructs a Pool.
func New(cfg Config, q *queue.TaskQueue, exec *executor.Executor, pressure PressureSource) *Pool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = defaultMaxWorkers
	}
	if cfg.MaxUnitsPerSlot <= 0 {
		cfg.MaxUnitsPerSlot = defaultMaxUnitsPerSlot
	}
	if cfg.DispatchDelay <= 0 {
		cfg.DispatchDelay = defaultDispatchDelay
	}
	if cfg.ResizeInterval <= 0 {
		cfg.ResizeInterval = defaultResizeInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Pool{
		cfg:      cfg,
		queue:    q,
		exec:     exec,
		pressure: pressure,
		logger:   cfg.Logger,
	}
}

// effectiveSlots maps a throttle level onto a slot count. At least one slot
// always survives so paused-for-pressure never deadlocks a task.
func effectiveSlots(maxWorkers int, level float64) int {
	slots := int(math.Floor(float64(maxWorkers) * (1 - level)))
	if slots < 1 {
		slots = 1
	}
	if slots > maxWorkers {
		slots = maxWorkers
	}
	return slots
}

// Run supervises slots until ctx finishes, then waits for in-flight units to
// drain. Slots retire themselves when their id falls outside the desired
// count and after MaxUnitsPerSlot units; the supervisor respawns as needed.
func (p *Pool) Run(ctx context.Context) error {
	exitCh := make(chan int, p.cfg.MaxWorkers)
	live := make(map[int]struct{}, p.cfg.MaxWorkers)
	var wg sync.WaitGroup

	p.resize()
	p.reconcile(ctx, live, exitCh, &wg)

	ticker := time.NewTicker(p.cfg.ResizeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			p.resize()
			p.reconcile(ctx, live, exitCh, &wg)
		case id := <-exitCh:
			delete(live, id)
			if ctx.Err() == nil {
				p.reconcile(ctx, live, exitCh, &wg)
			}
		}
	}
}

func (p *Pool) resize() {
	level := p.pressure.ThrottleLevel()
	slots := effectiveSlots(p.cfg.MaxWorkers, level)

	p.mu.Lock()
	prev := p.desired
	p.desired = slots
	p.mu.Unlock()

	metrics.SetEffectiveSlots(slots)
	if prev != slots {
		p.logger.Info("pool resized",
			zap.Int("slots", slots),
			zap.Int("max_workers", p.cfg.MaxWorkers),
			zap.Float64("throttle_level", level),
		)
	}
}

// ActiveSlots reports how many slots are executing a unit right now.
func (p *Pool) ActiveSlots() int {
	return int(p.active.Load())
}

func (p *Pool) desiredSlots() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.desired
}

func (p *Pool) reconcile(ctx context.Context, live map[int]struct{}, exitCh chan int, wg *sync.WaitGroup) {
	desired := p.desiredSlots()
	for id := 0; id < desired; id++ {
		if _, ok := live[id]; ok {
			continue
		}
		live[id] = struct{}{}
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.runSlot(ctx, id)
			exitCh <- id
		}(id)
	}
}

// runSlot claims and executes units until the slot retires. Retirement
// happens on context cancellation, pool shrink, or unit-count recycling.
func (p *Pool) runSlot(ctx context.Context, id int) {
	processed := 0
	for {
		if ctx.Err() != nil {
			return
		}
		if id >= p.desiredSlots() {
			return
		}
		if p.pressure.BreakerOpen() {
			if !sleep(ctx, p.cfg.DispatchDelay) {
				return
			}
			continue
		}
		claim, ok := p.queue.Claim(ctx)
		if !ok {
			if !sleep(ctx, p.cfg.DispatchDelay) {
				return
			}
			continue
		}

		p.active.Add(1)
		metrics.IncActiveSlots()
		res := p.exec.Execute(ctx, claim.Unit)
		metrics.DecActiveSlots()
		p.active.Add(-1)
		if err := p.queue.RecordUnitResult(ctx, claim.TaskID, claim.Unit.Key, res); err != nil {
			p.logger.Error("record unit result failed",
				zap.String("task_id", claim.TaskID),
				zap.String("unit_key", claim.Unit.Key),
				zap.Error(err),
			)
		}

		processed++
		if processed >= p.cfg.MaxUnitsPerSlot {
			return
		}
		if !sleep(ctx, p.cfg.DispatchDelay) {
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
