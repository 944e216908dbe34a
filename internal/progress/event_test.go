package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validUnitEvent() Event {
	return Event{
		TaskID:  "t1",
		TS:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Stage:   StageUnitDone,
		UnitKey: "https://example.com/p/1",
		Attempt: 1,
	}
}

func TestEventValidate(t *testing.T) {
	t.Parallel()
	require.NoError(t, validUnitEvent().Validate())
}

func TestEventValidateRequiresTimestamp(t *testing.T) {
	t.Parallel()
	evt := validUnitEvent()
	evt.TS = time.Time{}
	require.Error(t, evt.Validate())
}

func TestEventValidateUnitFields(t *testing.T) {
	t.Parallel()
	evt := validUnitEvent()
	evt.UnitKey = ""
	require.Error(t, evt.Validate())

	evt = validUnitEvent()
	evt.TaskID = ""
	require.Error(t, evt.Validate())
}

func TestEventValidateBreakerNeedsNoTask(t *testing.T) {
	t.Parallel()
	evt := Event{TS: time.Now(), Stage: StageBreakerOpen}
	require.NoError(t, evt.Validate())
}

func TestEventValidateRejectsUnknownStage(t *testing.T) {
	t.Parallel()
	evt := Event{TS: time.Now(), Stage: Stage("WAT")}
	require.Error(t, evt.Validate())
}

func TestEventValidateRejectsNegativeDuration(t *testing.T) {
	t.Parallel()
	evt := validUnitEvent()
	evt.Dur = -time.Second
	require.Error(t, evt.Validate())
}
