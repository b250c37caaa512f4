package engine

import (
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

// Broadcaster fans events out to subscribers of one mode. Publishing never
// blocks: a subscriber whose buffer is full is dropped and its channel
// closed, and it is expected to resubscribe and resync from a snapshot.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	buffer int
	logger *log.Logger
}

// Subscription is a subscriber handle. Receive from C until it is closed.
type Subscription struct {
	C <-chan Event

	ch      chan Event
	b       *Broadcaster
	userID  string
	all     bool
	dropped atomic.Bool
}

// NewBroadcaster returns a broadcaster giving each subscriber buffer slots.
func NewBroadcaster(logger *log.Logger, buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broadcaster{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// SubscribeOptions selects which targeted events a subscriber receives.
// Broadcast events are always delivered.
type SubscribeOptions struct {
	// UserID receives events targeted at this user.
	UserID string
	// AllUsers receives every targeted event, e.g. for relays.
	AllUsers bool
}

// Subscribe registers a new subscriber.
func (b *Broadcaster) Subscribe(opts SubscribeOptions) *Subscription {
	ch := make(chan Event, b.buffer)
	s := &Subscription{C: ch, ch: ch, b: b, userID: opts.UserID, all: opts.AllUsers}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Close unsubscribes and closes C. It is safe to call more than once.
func (s *Subscription) Close() {
	s.b.remove(s)
}

// Dropped reports whether the subscription was closed for falling behind.
func (s *Subscription) Dropped() bool {
	return s.dropped.Load()
}

func (s *Subscription) wants(ev Event) bool {
	target := ev.Meta().UserID
	return target == "" || s.all || target == s.userID
}

func (b *Broadcaster) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s.ch)
	}
}

// Publish delivers ev to every interested subscriber.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for s := range b.subs {
		if !s.wants(ev) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			b.logger.Warn("Subscriber buffer full, dropping subscriber", "event", ev.EventType(), "user", s.userID)
			s.dropped.Store(true)
			delete(b.subs, s)
			close(s.ch)
		}
	}
}

// Len returns the number of live subscribers.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
