package event

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps the run history in process memory. It is the
// default store; runs that must survive restarts use the sqlite
// store instead.
type MemoryStore struct {
	mu     sync.Mutex
	events []Event
	seq    uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(ev Event) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	ev.Seq = s.seq
	if ev.Created.IsZero() {
		ev.Created = time.Now()
	}
	s.events = append(s.events, ev)
	return ev.Seq, nil
}

func (s *MemoryStore) After(cursor uint64, limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.events {
		if ev.Seq <= cursor {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

// Log pairs a store with a notifier: appends land in the store and
// wake every live subscriber.
type Log struct {
	store Store
	n     *Notifier
}

func NewLog(store Store) *Log {
	return &Log{store: store, n: NewNotifier()}
}

func (l *Log) Append(ev Event) (uint64, error) {
	seq, err := l.store.Append(ev)
	if err != nil {
		return 0, err
	}
	l.n.NotifyAll()
	return seq, nil
}

func (l *Log) After(cursor uint64, limit int) ([]Event, error) {
	return l.store.After(cursor, limit)
}

func (l *Log) Notifier() *Notifier { return l.n }

const subscribeBatch = 100

// Subscribe streams events with Seq > cursor: full backfill first,
// then live events as they are appended, until ctx is cancelled.
// The returned channel is closed on cancellation.
func (l *Log) Subscribe(ctx context.Context, cursor uint64) <-chan Event {
	out := make(chan Event)
	signal := l.n.Subscribe()

	go func() {
		defer close(out)
		defer l.n.Unsubscribe(signal)

		for {
			// drain everything past the cursor before waiting
			for {
				batch, err := l.store.After(cursor, subscribeBatch)
				if err != nil || len(batch) == 0 {
					break
				}
				for _, ev := range batch {
					select {
					case out <- ev:
						cursor = ev.Seq
					case <-ctx.Done():
						return
					}
				}
			}

			select {
			case <-ctx.Done():
				return
			case _, ok := <-signal:
				if !ok {
					return
				}
			}
		}
	}()

	return out
}
