package pubsub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuffer is the per-subscriber queue length used by NewBroker.
const DefaultBuffer = 64

// subscription is one subscriber's queue. unwatch detaches it from the
// subscriber's context.
type subscription[T any] struct {
	ch      chan Event[T]
	unwatch func() bool
}

// Broker delivers every published event to all current subscribers.
// Publish never blocks: a subscriber whose queue is full misses the
// event and the drop is counted. Safe for concurrent use.
type Broker[T any] struct {
	mu     sync.Mutex
	subs   map[*subscription[T]]struct{}
	buffer int
	closed bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewBroker returns a broker with DefaultBuffer-sized subscriber queues.
func NewBroker[T any]() *Broker[T] {
	return NewBufferedBroker[T](DefaultBuffer)
}

// NewBufferedBroker returns a broker whose subscriber queues hold size
// events.
func NewBufferedBroker[T any](size int) *Broker[T] {
	return &Broker[T]{
		subs:   make(map[*subscription[T]]struct{}),
		buffer: size,
	}
}

// Subscribe returns a channel that receives events until ctx is done or
// the broker is closed, after which the channel is closed. Subscribing to
// a closed broker returns an already closed channel.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan Event[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event[T])
		close(ch)
		return ch
	}

	sub := &subscription[T]{ch: make(chan Event[T], b.buffer)}
	b.subs[sub] = struct{}{}
	sub.unwatch = context.AfterFunc(ctx, func() { b.unsubscribe(sub) })
	return sub.ch
}

func (b *Broker[T]) unsubscribe(sub *subscription[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
}

// Publish offers one event to every subscriber and returns how many
// accepted it.
func (b *Broker[T]) Publish(eventType EventType, payload T) int {
	event := Event[T]{Type: eventType, Payload: payload, Timestamp: time.Now()}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0
	}
	b.published.Add(1)

	delivered := 0
	for sub := range b.subs {
		select {
		case sub.ch <- event:
			delivered++
		default:
			b.dropped.Add(1)
		}
	}
	return delivered
}

// Close closes every subscription. Later publishes are ignored. Close is
// idempotent.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		sub.unwatch()
		close(sub.ch)
	}
	clear(b.subs)
}

// SubscriberCount returns the number of open subscriptions.
func (b *Broker[T]) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Published returns how many events Publish accepted.
func (b *Broker[T]) Published() uint64 {
	return b.published.Load()
}

// Dropped returns how many deliveries were skipped because a
// subscriber's queue was full.
func (b *Broker[T]) Dropped() uint64 {
	return b.dropped.Load()
}
