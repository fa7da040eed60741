package snapshot

import "sync"

// Notifier fans out entry changes to subscribers. The zero value is ready to use.
type Notifier struct {
	mu   sync.Mutex
	subs map[chan *Entry]struct{}
}

// Subscribe registers a listener and returns its channel and an unsubscribe func.
// The channel buffers one update; unsubscribe closes it and may be called more than once.
func (n *Notifier) Subscribe() (<-chan *Entry, func()) {
	ch := make(chan *Entry, 1)
	n.mu.Lock()
	if n.subs == nil {
		n.subs = make(map[chan *Entry]struct{})
	}
	n.subs[ch] = struct{}{}
	n.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, ch)
			close(ch)
			n.mu.Unlock()
		})
	}
	return ch, unsub
}

// Publish notifies all listeners without blocking.
func (n *Notifier) Publish(e *Entry) {
	n.mu.Lock()
	for ch := range n.subs {
		select {
		case ch <- e:
		default: // slow subscriber, skip instead of blocking
		}
	}
	n.mu.Unlock()
}
