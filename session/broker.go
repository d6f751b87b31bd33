package session

import (
	"sync"
	"sync/atomic"

	"retro-api/domain"
)

// Subscriber is one connected observer of a board. Deltas arrive on a
// buffered channel in the exact order the board applied them.
type Subscriber struct {
	ch     chan *domain.Delta
	lagged atomic.Bool
}

// Deltas is the ordered delta stream for this observer.
func (s *Subscriber) Deltas() <-chan *domain.Delta { return s.ch }

// Lagged reports whether the observer fell behind and deltas were withheld.
// A lagged observer must resynchronize from a fresh snapshot.
func (s *Subscriber) Lagged() bool { return s.lagged.Load() }

// ClearLag resets the lag marker after the observer has resynchronized.
func (s *Subscriber) ClearLag() { s.lagged.Store(false) }

// broker fans deltas out to every subscriber of one board. Publishing never
// blocks: a subscriber whose buffer is full is marked lagged instead, and
// the transport layer resynchronizes it with a snapshot.
type broker struct {
	mu   sync.Mutex
	subs map[*Subscriber]struct{}
}

func newBroker() *broker {
	return &broker{subs: map[*Subscriber]struct{}{}}
}

func (b *broker) add(buffer int) *Subscriber {
	sub := &Subscriber{ch: make(chan *domain.Delta, buffer)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

func (b *broker) remove(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
}

func (b *broker) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *broker) publish(delta *domain.Delta) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		select {
		case sub.ch <- delta:
		default:
			// Shed the oldest delta so the newest always fits. The resulting
			// revision gap tells the transport to resynchronize the observer
			// from a snapshot.
			sub.lagged.Store(true)
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- delta:
			default:
			}
		}
	}
}

func (b *broker) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.ch)
	}
}
