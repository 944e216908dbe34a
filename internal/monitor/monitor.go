// Package monitor watches host resource utilization, derives the throttle
// level that shrinks the worker pool, and drives the overload circuit
// breaker.
package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/policy-orchestrator/internal/metrics"
	"github.com/JakeFAU/policy-orchestrator/internal/pipeline"
)

// Config tunes the resource monitor.
//   - CPUThreshold/MemThreshold: utilization percentages above which
//     throttling begins (defaults 70 and 80).
//   - SampleInterval: time between host samples (default 2s).
//   - LookbackSamples: ring buffer size for the rolling average (default 30).
type Config struct {
	CPUThreshold    float64
	MemThreshold    float64
	SampleInterval  time.Duration
	LookbackSamples int
	Logger          *zap.Logger
}

const (
	defaultCPUThreshold    = 70.0
	defaultMemThreshold    = 80.0
	defaultSampleInterval  = 2 * time.Second
	defaultLookbackSamples = 30
)

// Monitor keeps a rolling window of resource samples and exposes the current
// throttle level in [0, 1]. Zero means no pressure; one means fully
// throttled.
type Monitor struct {
	mu      sync.RWMutex
	samples []pipeline.ResourceSample
	next    int
	count   int

	cfg     Config
	sampler Sampler
	breaker *Breaker
	clock   pipeline.Clock
	logger  *zap.Logger
}

// New constructs a Monitor. The breaker may be nil when overload protection
// is handled elsewhere.
func New(cfg Config, sampler Sampler, breaker *Breaker, clock pipeline.Clock) *Monitor {
	if cfg.CPUThreshold <= 0 || cfg.CPUThreshold >= 100 {
		cfg.CPUThreshold = defaultCPUThreshold
	}
	if cfg.MemThreshold <= 0 || cfg.MemThreshold >= 100 {
		cfg.MemThreshold = defaultMemThreshold
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = defaultSampleInterval
	}
	if cfg.LookbackSamples <= 0 {
		cfg.LookbackSamples = defaultLookbackSamples
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Monitor{
		samples: make([]pipeline.ResourceSample, cfg.LookbackSamples),
		cfg:     cfg,
		sampler: sampler,
		breaker: breaker,
		clock:   clock,
		logger:  cfg.Logger,
	}
}

// Record pushes one sample into the rolling window.
func (m *Monitor) Record(sample pipeline.ResourceSample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples[m.next] = sample
	m.next = (m.next + 1) % len(m.samples)
	if m.count < len(m.samples) {
		m.count++
	}
}

// ThrottleLevel derives the current throttle from the windowed averages.
// Whichever resource is deeper past its threshold wins; below both
// thresholds the level is zero.
func (m *Monitor) ThrottleLevel() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.count == 0 {
		return 0
	}
	var cpuSum, memSum float64
	for i := 0; i < m.count; i++ {
		cpuSum += m.samples[i].CPUPercent
		memSum += m.samples[i].MemPercent
	}
	avgCPU := cpuSum / float64(m.count)
	avgMem := memSum / float64(m.count)

	cpuLevel := (avgCPU - m.cfg.CPUThreshold) / (100 - m.cfg.CPUThreshold)
	memLevel := (avgMem - m.cfg.MemThreshold) / (100 - m.cfg.MemThreshold)
	level := cpuLevel
	if memLevel > level {
		level = memLevel
	}
	if level < 0 {
		return 0
	}
	if level > 1 {
		return 1
	}
	return level
}

// BreakerOpen reports whether the overload breaker currently halts dispatch.
func (m *Monitor) BreakerOpen() bool {
	return m.breaker != nil && m.breaker.IsOpen()
}

// Run samples the host on the configured interval until ctx finishes,
// feeding the rolling window, the throttle gauge, and the breaker. Sampling
// errors are logged and the tick skipped; stale pressure readings are worse
// than a short gap.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sample, err := m.sampler.Sample(ctx)
			if err != nil {
				m.logger.Warn("resource sample failed", zap.Error(err))
				continue
			}
			m.Record(sample)
			level := m.ThrottleLevel()
			metrics.SetThrottleLevel(level)
			if m.breaker != nil {
				m.breaker.Observe(level, m.clock.Now())
			}
		}
	}
}
