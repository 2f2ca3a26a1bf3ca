package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHubFlushesFullBatch(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 8, MaxBatchEvents: 2, MaxBatchWait: time.Minute}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageMonitorStart))
	hub.Emit(sampleEvent(StageMonitorDone))

	require.Eventually(t, func() bool {
		batches := sink.Batches()
		return len(batches) == 1 && len(batches[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestHubFlushesPartialBatchAfterWait(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 10, MaxBatchWait: 25 * time.Millisecond}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageMonitorStart))

	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHubEmitNeverBlocks(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		cfg:    Config{},
		events: make(chan Event),
		logger: zap.NewNop(),
	}
	start := time.Now()
	hub.Emit(sampleEvent(StageMonitorStart))
	hub.Emit(sampleEvent(StageMonitorStart))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.EqualValues(t, 2, hub.Dropped())
}

func TestHubDrainsOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 100, MaxBatchWait: time.Minute}, sink)
	hub.Emit(sampleEvent(StageMonitorStart))
	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))

	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)
	require.True(t, sink.Closed())

	hub.Emit(sampleEvent(StageMonitorDone))
	require.Len(t, sink.Batches(), 1)
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchEvents: 1}, sink)
	hub.Emit(Event{Stage: StageMonitorStart})
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
}

func TestNilHubIsSafe(t *testing.T) {
	t.Parallel()

	var hub *Hub
	hub.Emit(sampleEvent(StageMonitorStart))
	require.Zero(t, hub.Dropped())
	require.NoError(t, hub.Close(context.Background()))
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	valid := sampleEvent(StageMonitorEvent)
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Event)
		want   string
	}{
		{name: "run id", mutate: func(e *Event) { e.RunID = [16]byte{} }, want: "run id"},
		{name: "timestamp", mutate: func(e *Event) { e.TS = time.Time{} }, want: "timestamp"},
		{name: "kind", mutate: func(e *Event) { e.Kind = "" }, want: "kind"},
		{name: "job id", mutate: func(e *Event) { e.JobID = "" }, want: "job id"},
		{name: "event type", mutate: func(e *Event) { e.EventType = "" }, want: "event type"},
		{name: "stage", mutate: func(e *Event) { e.Stage = "BOGUS" }, want: "unknown stage"},
		{name: "duration", mutate: func(e *Event) { e.Dur = -time.Second }, want: "duration"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			evt := sampleEvent(StageMonitorEvent)
			tc.mutate(&evt)
			require.ErrorContains(t, evt.Validate(), tc.want)
		})
	}
}

func TestStageTerminal(t *testing.T) {
	t.Parallel()

	require.False(t, StageMonitorStart.Terminal())
	require.False(t, StageMonitorEvent.Terminal())
	require.True(t, StageMonitorDone.Terminal())
	require.True(t, StageMonitorTimeout.Terminal())
	require.True(t, StageMonitorError.Terminal())
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func newStubSink() *stubSink {
	return &stubSink{}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	copy(out, s.batches)
	return out
}

func (s *stubSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func sampleEvent(stage Stage) Event {
	evt := Event{
		RunID: ulid.Make(),
		TS:    time.Now().UTC(),
		Stage: stage,
		Kind:  "crawl",
		JobID: "c1",
	}
	if stage == StageMonitorEvent {
		evt.EventType = "state"
		evt.JobStatus = "running"
		evt.Events = 1
	}
	return evt
}
