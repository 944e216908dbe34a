package monitor

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/JakeFAU/policy-orchestrator/internal/pipeline"
)

// Sampler reads host utilization at a point in time.
type Sampler interface {
	Sample(ctx context.Context) (pipeline.ResourceSample, error)
}

// HostSampler reads aggregate CPU and virtual memory utilization from the
// host the process runs on.
type HostSampler struct {
	clock pipeline.Clock
}

// NewHostSampler constructs a HostSampler.
func NewHostSampler(clock pipeline.Clock) *HostSampler {
	return &HostSampler{clock: clock}
}

// Sample returns one utilization reading. CPU percent is measured since the
// previous call, so the first reading after startup may report zero.
func (s *HostSampler) Sample(ctx context.Context) (pipeline.ResourceSample, error) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return pipeline.ResourceSample{}, fmt.Errorf("sample cpu: %w", err)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return pipeline.ResourceSample{}, fmt.Errorf("sample memory: %w", err)
	}
	sample := pipeline.ResourceSample{
		Timestamp:  s.clock.Now(),
		MemPercent: vm.UsedPercent,
	}
	if len(percents) > 0 {
		sample.CPUPercent = percents[0]
	}
	return sample, nil
}
