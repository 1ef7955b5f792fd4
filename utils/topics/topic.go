// Package topics implements an in-process publish/subscribe mechanism for
// notifications like completed snapshot sends.
package topics

import (
	"context"
	"sync"
)

// HandleBufferSize is the subscription buffer used by Topic.Handle
const HandleBufferSize = 64

// New returns a new Topic
func New[T any]() *Topic[T] {
	return &Topic[T]{
		subscribers: make(map[subscriptionID]chan<- T),
	}
}

// Topic distributes published values to all current subscribers, and
// remembers the last one.
type Topic[T any] struct {
	mu          sync.Mutex
	subscribers map[subscriptionID]chan<- T
	nextID      subscriptionID
	last        T
	hasLast     bool
}

// Publish sends v to every subscriber and blocks until all of them have
// accepted it.
func (t *Topic[T]) Publish(v T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setLast(v)
	for _, ch := range t.subscribers {
		ch <- v
	}
}

// TryPublish sends v to the subscribers that can accept it without
// blocking, and returns how many could not.
func (t *Topic[T]) TryPublish(v T) (missed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setLast(v)
	for _, ch := range t.subscribers {
		select {
		case ch <- v:
		default:
			missed++
		}
	}
	return missed
}

func (t *Topic[T]) setLast(v T) {
	t.last = v
	t.hasLast = true
}

// Subscribers returns the number of open subscriptions
func (t *Topic[T]) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subscribers)
}

// Last returns the last published value, if any
func (t *Topic[T]) Last() (value T, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.hasLast
}

// Subscribe opens a Subscription with a channel buffer of size values.
// With sendLast, the last published value is queued immediately, which
// requires a size of at least 1.
// The Subscription must be closed when no longer needed.
func (t *Topic[T]) Subscribe(size int, sendLast bool) *Subscription[T] {
	if sendLast && size < 1 {
		size = 1
	}
	ch := make(chan T, size)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	t.subscribers[id] = ch
	if sendLast && t.hasLast {
		// Publishers need the lock, so the buffer is still empty
		ch <- t.last
	}
	return &Subscription[T]{
		id:    id,
		topic: t,
		ch:    ch,
	}
}

// Handle calls cb for every value published after the call, until cb
// returns an error or ctx is done. Values are buffered, so TryPublish only
// misses values when cb falls behind by more than HandleBufferSize.
func (t *Topic[T]) Handle(ctx context.Context, cb func(T) error) error {
	sub := t.Subscribe(HandleBufferSize, false)
	defer sub.Close()
	for {
		v, err := sub.Next(ctx)
		if err != nil {
			return err
		}
		if err := cb(v); err != nil {
			return err
		}
	}
}

func (t *Topic[T]) unsubscribe(id subscriptionID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch, exists := t.subscribers[id]; exists {
		close(ch)
		delete(t.subscribers, id)
	}
}
