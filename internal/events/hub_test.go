package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

func (s *captureSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	return nil
}

func (s *captureSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func validEvent(jobID string, kind Kind) Event {
	evt := Event{
		JobID:   jobID,
		Kind:    kind,
		TS:      time.Now().UTC(),
		Attempt: 1,
	}
	if kind == KindJobFailed {
		evt.Note = "failure detail"
	}
	return evt
}

func TestHub_DeliversEventsToSinks(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchWait: 10 * time.Millisecond, Logger: zap.NewNop()}, sink)

	hub.Emit(validEvent("job-1", KindJobStarted))
	hub.Emit(validEvent("job-1", KindJobCompleted))

	require.Eventually(t, func() bool {
		return sink.count() == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Close(context.Background()))
	require.True(t, sink.closed)
}

func TestHub_DiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchWait: 10 * time.Millisecond, Logger: zap.NewNop()}, sink)

	hub.Emit(Event{Kind: KindJobStarted, TS: time.Now()})                // missing job id
	hub.Emit(Event{JobID: "job-1", Kind: KindJobFailed, TS: time.Now()}) // failed without note
	hub.Emit(Event{JobID: "job-1", Kind: Kind("BOGUS"), TS: time.Now()}) // unknown kind
	hub.Emit(validEvent("job-1", KindJobStarted))

	require.Eventually(t, func() bool {
		return sink.count() == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Close(context.Background()))
}

func TestHub_CloseDrainsBufferedEvents(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	// Long batch wait so flushing only happens on close.
	hub := NewHub(Config{MaxBatchWait: time.Hour, Logger: zap.NewNop()}, sink)

	for i := 0; i < 10; i++ {
		hub.Emit(validEvent("job-1", KindJobStarted))
	}
	require.NoError(t, hub.Close(context.Background()))
	require.Equal(t, 10, sink.count())
}

func TestHub_EmitAfterCloseIsNoop(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{Logger: zap.NewNop()}, sink)
	require.NoError(t, hub.Close(context.Background()))

	hub.Emit(validEvent("job-1", KindJobStarted))
	require.Equal(t, 0, sink.count())
}

func TestHub_NilHubIsSafe(t *testing.T) {
	t.Parallel()

	var hub *Hub
	hub.Emit(validEvent("job-1", KindJobStarted))
	require.NoError(t, hub.Close(context.Background()))
}

func TestEvent_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, validEvent("job-1", KindJobStarted).Validate())
	require.NoError(t, validEvent("job-1", KindJobFailed).Validate())

	require.Error(t, Event{Kind: KindJobStarted, TS: time.Now()}.Validate())
	require.Error(t, Event{JobID: "x", Kind: KindJobStarted}.Validate())
	require.Error(t, Event{JobID: "x", Kind: KindJobFailed, TS: time.Now()}.Validate())
	require.Error(t, Event{JobID: "x", Kind: "NOPE", TS: time.Now()}.Validate())
	require.Error(t, Event{JobID: "x", Kind: KindJobStarted, TS: time.Now(), Dur: -time.Second}.Validate())
}
