// Package observe provides the publish/subscribe primitives behind the
// connection manager's observable state.
package observe

import "sync"

// DefaultStreamBuffer is the per-subscriber buffer of a Stream.
const DefaultStreamBuffer = 64

type subscriber[T any] struct {
	ch   chan T
	once sync.Once
}

func (s *subscriber[T]) close() {
	s.once.Do(func() { close(s.ch) })
}

// Value holds the latest value of some state. New subscribers receive the
// current value first; slow subscribers only ever see the newest value.
type Value[T any] struct {
	mu      sync.Mutex
	current T
	subs    map[*subscriber[T]]struct{}
	closed  bool
}

func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{current: initial, subs: map[*subscriber[T]]struct{}{}}
}

func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// Set stores next and offers it to every subscriber without blocking.
func (v *Value[T]) Set(next T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.current = next
	for s := range v.subs {
		offerLatest(s.ch, next)
	}
}

func (v *Value[T]) Subscribe() (<-chan T, func()) {
	v.mu.Lock()
	defer v.mu.Unlock()

	s := &subscriber[T]{ch: make(chan T, 1)}
	if v.closed {
		s.close()
		return s.ch, func() {}
	}
	s.ch <- v.current
	v.subs[s] = struct{}{}
	return s.ch, func() {
		v.mu.Lock()
		delete(v.subs, s)
		v.mu.Unlock()
		s.close()
	}
}

// Close ends every subscription. Later Sets are ignored.
func (v *Value[T]) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.closed = true
	for s := range v.subs {
		s.close()
	}
	v.subs = nil
}

func offerLatest[T any](ch chan T, value T) {
	select {
	case ch <- value:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- value:
	default:
	}
}

// Stream fans transient events out to subscribers. Events published while
// a subscriber's buffer is full are dropped for that subscriber.
type Stream[T any] struct {
	mu      sync.Mutex
	buffer  int
	subs    map[*subscriber[T]]struct{}
	closed  bool
	dropped uint64
}

func NewStream[T any](buffer int) *Stream[T] {
	if buffer <= 0 {
		buffer = DefaultStreamBuffer
	}
	return &Stream[T]{buffer: buffer, subs: map[*subscriber[T]]struct{}{}}
}

func (s *Stream[T]) Publish(event T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for sub := range s.subs {
		select {
		case sub.ch <- event:
		default:
			s.dropped++
		}
	}
}

func (s *Stream[T]) Subscribe() (<-chan T, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &subscriber[T]{ch: make(chan T, s.buffer)}
	if s.closed {
		sub.close()
		return sub.ch, func() {}
	}
	s.subs[sub] = struct{}{}
	return sub.ch, func() {
		s.mu.Lock()
		delete(s.subs, sub)
		s.mu.Unlock()
		sub.close()
	}
}

// Dropped counts deliveries skipped because a subscriber was full.
func (s *Stream[T]) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Stream[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for sub := range s.subs {
		sub.close()
	}
	s.subs = nil
}
