package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTaskStatusIsTerminal(t *testing.T) {
	t.Parallel()
	require.True(t, TaskStatusSuccess.IsTerminal())
	require.True(t, TaskStatusFailure.IsTerminal())
	require.True(t, TaskStatusAborted.IsTerminal())
	require.False(t, TaskStatusPending.IsTerminal())
	require.False(t, TaskStatusRunning.IsTerminal())
	require.False(t, TaskStatusPaused.IsTerminal())
}

func TestParsePriority(t *testing.T) {
	t.Parallel()
	require.Equal(t, PriorityHigh, ParsePriority("high"))
	require.Equal(t, PriorityHigh, ParsePriority("HIGH"))
	require.Equal(t, PriorityLow, ParsePriority("low"))
	require.Equal(t, PriorityMedium, ParsePriority("medium"))
	require.Equal(t, PriorityMedium, ParsePriority(""))
	require.Equal(t, PriorityMedium, ParsePriority("urgent"))
}

func TestPriorityOrdering(t *testing.T) {
	t.Parallel()
	require.Less(t, int(PriorityHigh), int(PriorityMedium))
	require.Less(t, int(PriorityMedium), int(PriorityLow))
	require.Equal(t, "HIGH", PriorityHigh.String())
	require.Equal(t, "MEDIUM", PriorityMedium.String())
	require.Equal(t, "LOW", PriorityLow.String())
}
