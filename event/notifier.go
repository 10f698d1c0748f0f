package event

import "sync"

// Notifier fans out a "new data" signal to subscribers. Signals
// carry no payload; subscribers pull fresh events from the store
// with their own cursor.
type Notifier struct {
	mu          sync.Mutex
	subscribers map[chan struct{}]struct{}
}

func NewNotifier() *Notifier {
	return &Notifier{
		subscribers: make(map[chan struct{}]struct{}),
	}
}

func (n *Notifier) Subscribe() chan struct{} {
	ch := make(chan struct{}, 1)
	n.mu.Lock()
	n.subscribers[ch] = struct{}{}
	n.mu.Unlock()
	return ch
}

func (n *Notifier) Unsubscribe(ch chan struct{}) {
	n.mu.Lock()
	if _, ok := n.subscribers[ch]; ok {
		delete(n.subscribers, ch)
		close(ch)
	}
	n.mu.Unlock()
}

func (n *Notifier) NotifyAll() {
	n.mu.Lock()
	for ch := range n.subscribers {
		select {
		case ch <- struct{}{}:
		default:
			// a pending signal is already queued
		}
	}
	n.mu.Unlock()
}
