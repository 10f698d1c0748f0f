package event

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SeqStrictlyIncreases(t *testing.T) {
	s := NewMemoryStore()

	var last uint64
	for i := 0; i < 10; i++ {
		seq, err := s.Append(Event{RunID: "r1", Kind: KindStepStarted})
		require.NoError(t, err)
		assert.Equal(t, last+1, seq)
		last = seq
	}
}

func TestMemoryStore_AfterCursor(t *testing.T) {
	s := NewMemoryStore()
	for i := 0; i < 5; i++ {
		_, err := s.Append(Event{RunID: "r1", Kind: KindStepStarted})
		require.NoError(t, err)
	}

	got, err := s.After(2, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, uint64(3), got[0].Seq)
	assert.Equal(t, uint64(5), got[2].Seq)

	limited, err := s.After(0, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	empty, err := s.After(5, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryStore_AppendSetsCreated(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Append(Event{Kind: KindPipelineStarted})
	require.NoError(t, err)

	got, err := s.After(0, 1)
	require.NoError(t, err)
	assert.False(t, got[0].Created.IsZero())
}

func TestNotifier_SignalCoalesces(t *testing.T) {
	n := NewNotifier()
	ch := n.Subscribe()
	defer n.Unsubscribe(ch)

	n.NotifyAll()
	n.NotifyAll()
	n.NotifyAll()

	<-ch
	select {
	case <-ch:
		t.Fatal("signals should coalesce into one pending notification")
	default:
	}
}

func TestNotifier_UnsubscribeClosesChannel(t *testing.T) {
	n := NewNotifier()
	ch := n.Subscribe()
	n.Unsubscribe(ch)

	_, ok := <-ch
	assert.False(t, ok)

	// double unsubscribe is a no-op
	n.Unsubscribe(ch)
}

func TestLog_SubscribeBackfillThenLive(t *testing.T) {
	l := NewLog(NewMemoryStore())

	for i := 0; i < 3; i++ {
		_, err := l.Append(Event{RunID: "r1", Kind: KindStepStarted})
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := l.Subscribe(ctx, 0)

	// backfill
	for want := uint64(1); want <= 3; want++ {
		ev := recvEvent(t, events)
		assert.Equal(t, want, ev.Seq)
	}

	// live
	_, err := l.Append(Event{RunID: "r1", Kind: KindStageCompleted})
	require.NoError(t, err)
	ev := recvEvent(t, events)
	assert.Equal(t, uint64(4), ev.Seq)
	assert.Equal(t, KindStageCompleted, ev.Kind)
}

func TestLog_SubscribeFromCursor(t *testing.T) {
	l := NewLog(NewMemoryStore())
	for i := 0; i < 5; i++ {
		_, err := l.Append(Event{RunID: "r1", Kind: KindStepStarted})
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := l.Subscribe(ctx, 3)

	assert.Equal(t, uint64(4), recvEvent(t, events).Seq)
	assert.Equal(t, uint64(5), recvEvent(t, events).Seq)
}

func TestLog_SubscribeNoGapsUnderConcurrentAppends(t *testing.T) {
	l := NewLog(NewMemoryStore())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := l.Subscribe(ctx, 0)

	const total = 200
	go func() {
		for i := 0; i < total; i++ {
			l.Append(Event{RunID: "r1", Kind: KindStepStarted})
		}
	}()

	var last uint64
	for i := 0; i < total; i++ {
		ev := recvEvent(t, events)
		require.Equal(t, last+1, ev.Seq, "sequence gap or reorder")
		last = ev.Seq
	}
}

func TestLog_SubscribeClosesOnCancel(t *testing.T) {
	l := NewLog(NewMemoryStore())

	ctx, cancel := context.WithCancel(context.Background())
	events := l.Subscribe(ctx, 0)
	cancel()

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func recvEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "event channel closed early")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}
