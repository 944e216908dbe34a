package control

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/policy-orchestrator/internal/pipeline"
)

func TestRegistryDefaultsToRun(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	require.Equal(t, ModeRun, r.Get("unknown"))
}

func TestRegistryTransitions(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	r.Set("t1", pipeline.ControlPause)
	require.Equal(t, ModePaused, r.Get("t1"))

	// Repeated signals are idempotent.
	r.Set("t1", pipeline.ControlPause)
	require.Equal(t, ModePaused, r.Get("t1"))

	r.Set("t1", pipeline.ControlResume)
	require.Equal(t, ModeRun, r.Get("t1"))

	r.Set("t1", pipeline.ControlAbort)
	require.Equal(t, ModeAborted, r.Get("t1"))
}

func TestRegistryForget(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Set("t1", pipeline.ControlAbort)
	r.Forget("t1")
	require.Equal(t, ModeRun, r.Get("t1"))
}
