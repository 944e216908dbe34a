package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type collectingSink struct {
	mu      sync.Mutex
	events  []Event
	batches int
	closed  bool
}

func (s *collectingSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	s.batches++
	return nil
}

func (s *collectingSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *collectingSink) snapshot() ([]Event, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...), s.batches, s.closed
}

func unitEvent(key string) Event {
	return Event{
		TaskID:  "t1",
		TS:      time.Now().UTC(),
		Stage:   StageUnitDone,
		UnitKey: key,
	}
}

func TestHubDeliversOnBatchSize(t *testing.T) {
	t.Parallel()
	sink := &collectingSink{}
	hub := NewHub(Config{MaxBatchEvents: 2, MaxBatchWait: time.Hour}, sink)
	defer hub.Close(context.Background())

	hub.Emit(unitEvent("a"))
	hub.Emit(unitEvent("b"))

	require.Eventually(t, func() bool {
		events, _, _ := sink.snapshot()
		return len(events) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestHubFlushesOnTimer(t *testing.T) {
	t.Parallel()
	sink := &collectingSink{}
	hub := NewHub(Config{MaxBatchEvents: 100, MaxBatchWait: 10 * time.Millisecond}, sink)
	defer hub.Close(context.Background())

	hub.Emit(unitEvent("a"))

	require.Eventually(t, func() bool {
		events, _, _ := sink.snapshot()
		return len(events) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHubCloseDrainsAndClosesSinks(t *testing.T) {
	t.Parallel()
	sink := &collectingSink{}
	hub := NewHub(Config{MaxBatchEvents: 100, MaxBatchWait: time.Hour}, sink)

	for i := 0; i < 5; i++ {
		hub.Emit(unitEvent("k"))
	}
	require.NoError(t, hub.Close(context.Background()))

	events, _, closed := sink.snapshot()
	require.Len(t, events, 5)
	require.True(t, closed)
}

func TestHubDropsInvalidEvents(t *testing.T) {
	t.Parallel()
	sink := &collectingSink{}
	hub := NewHub(Config{}, sink)

	hub.Emit(Event{Stage: StageUnitDone})
	require.NoError(t, hub.Close(context.Background()))

	events, _, _ := sink.snapshot()
	require.Empty(t, events)
}

func TestHubEmitAfterCloseIsNoOp(t *testing.T) {
	t.Parallel()
	sink := &collectingSink{}
	hub := NewHub(Config{}, sink)
	require.NoError(t, hub.Close(context.Background()))

	hub.Emit(unitEvent("late"))
	events, _, _ := sink.snapshot()
	require.Empty(t, events)
}

func TestNilHubIsSafe(t *testing.T) {
	t.Parallel()
	var hub *Hub
	hub.Emit(unitEvent("a"))
	require.NoError(t, hub.Close(context.Background()))
}
