// internal/events/local.go
package events

import (
	"context"
	"sync"
)

// subscriberBuffer is how many events a slow subscriber may lag behind before
// further events are dropped for it.
const subscriberBuffer = 16

// LocalBus fans events out to subscribers in the same process. It is used
// when no Redis address is configured and in tests.
type LocalBus struct {
	mu     sync.Mutex
	subs   map[int64]map[*localSub]struct{}
	closed bool
}

type localSub struct {
	ch   chan Event
	once sync.Once
}

// NewLocalBus returns an empty in-process bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[int64]map[*localSub]struct{})}
}

// Publish delivers ev to every current subscriber of ev.RoomID without blocking.
func (b *LocalBus) Publish(_ context.Context, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs[ev.RoomID] {
		select {
		case s.ch <- ev:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber for roomID.
func (b *LocalBus) Subscribe(ctx context.Context, roomID int64) (<-chan Event, func(), error) {
	s := &localSub{ch: make(chan Event, subscriberBuffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.ch)
		return s.ch, func() {}, nil
	}
	if b.subs[roomID] == nil {
		b.subs[roomID] = make(map[*localSub]struct{})
	}
	b.subs[roomID][s] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		s.once.Do(func() {
			b.mu.Lock()
			delete(b.subs[roomID], s)
			if len(b.subs[roomID]) == 0 {
				delete(b.subs, roomID)
			}
			b.mu.Unlock()
			close(s.ch)
		})
	}

	go func() {
		<-ctx.Done()
		cancel()
	}()

	return s.ch, cancel, nil
}

// Close ends every subscription.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	b.closed = true
	var all []*localSub
	for roomID, set := range b.subs {
		for s := range set {
			all = append(all, s)
		}
		delete(b.subs, roomID)
	}
	b.mu.Unlock()

	for _, s := range all {
		s.once.Do(func() { close(s.ch) })
	}
	return nil
}
