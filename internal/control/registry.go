// Package control delivers pause/resume/abort signals to running tasks.
package control

import (
	"sync"

	"github.com/JakeFAU/policy-orchestrator/internal/pipeline"
)

// Mode is the dispatch-facing verdict for a task.
type Mode int

// Dispatch modes. The dispatch loop consults Get on every iteration; the
// lookup is a single map read, so the check stays O(1) per task.
const (
	ModeRun Mode = iota
	ModePaused
	ModeAborted
)

// Registry maps task ids to their current control mode.
type Registry struct {
	mu    sync.RWMutex
	modes map[string]Mode
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{modes: make(map[string]Mode)}
}

// Set records the mode implied by a control signal. Repeated signals are
// idempotent.
func (r *Registry) Set(taskID string, action pipeline.ControlAction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch action {
	case pipeline.ControlPause:
		r.modes[taskID] = ModePaused
	case pipeline.ControlResume:
		r.modes[taskID] = ModeRun
	case pipeline.ControlAbort:
		r.modes[taskID] = ModeAborted
	}
}

// Get returns the task's mode; unknown tasks run.
func (r *Registry) Get(taskID string) Mode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mode, ok := r.modes[taskID]
	if !ok {
		return ModeRun
	}
	return mode
}

// Forget drops the entry once a task is terminal.
func (r *Registry) Forget(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.modes, taskID)
}
