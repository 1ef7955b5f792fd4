package topics

import (
	"context"
	"io"
	"sync"
)

// subscriptionID identifies a subscription within its Topic
type subscriptionID uint

// Subscription receives the values published to a Topic. A full
// subscription blocks Publish, and misses values sent with TryPublish.
type Subscription[T any] struct {
	id subscriptionID

	mu    sync.Mutex
	topic *Topic[T] // nil once closed
	ch    <-chan T
}

// Channel returns the channel that receives the values. It is closed when
// the Subscription is closed.
func (s *Subscription[T]) Channel() <-chan T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}

// Next waits for the next value. It returns io.ErrClosedPipe after Close,
// or the context error.
func (s *Subscription[T]) Next(ctx context.Context) (value T, err error) {
	ch := s.Channel()
	if ch == nil {
		return value, io.ErrClosedPipe
	}
	select {
	case <-ctx.Done():
		return value, ctx.Err()
	case v, ok := <-ch:
		if !ok {
			return value, io.ErrClosedPipe
		}
		return v, nil
	}
}

// Close ends the subscription. It is safe to call more than once and from
// any goroutine.
func (s *Subscription[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.topic == nil {
		return
	}
	s.topic.unsubscribe(s.id)
	s.topic = nil
	s.ch = nil
}
