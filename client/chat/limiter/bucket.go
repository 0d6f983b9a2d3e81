// Package limiter gates outbound chat messages with a token bucket.
//
// Tokens are whole permits. A background ticker adds one permit per interval
// up to the bucket capacity, independent of connection state, until Stop.
package limiter

import (
	"sync"
	"time"
)

const (
	DefaultCapacity = 20
	DefaultInterval = time.Second
)

type TokenBucket struct {
	mu       sync.Mutex
	tokens   int
	capacity int
	interval time.Duration

	stopOnce sync.Once
	done     chan struct{}
	exited   chan struct{}
	onRefill func(tokens int)
}

// New returns a full bucket whose refill ticker is already running.
func New(capacity int, interval time.Duration) *TokenBucket {
	b := newBucket(capacity, interval)
	b.exited = make(chan struct{})
	go b.run()
	return b
}

func newBucket(capacity int, interval time.Duration) *TokenBucket {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// OnRefill registers a callback invoked after every ticker refill with the
// resulting token count. It runs on the ticker goroutine.
func (b *TokenBucket) OnRefill(fn func(tokens int)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onRefill = fn
}

// TryConsume takes one token if available. A denied call leaves the count
// untouched.
func (b *TokenBucket) TryConsume() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// Refill adds a single token, clamped to capacity.
func (b *TokenBucket) Refill() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tokens < b.capacity {
		b.tokens++
	}
	return b.tokens
}

func (b *TokenBucket) Tokens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

func (b *TokenBucket) Capacity() int {
	return b.capacity
}

// Drain empties the bucket.
func (b *TokenBucket) Drain() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = 0
}

// Stop halts the refill ticker and waits for it to exit, so no refill is
// observed after it returns. Safe to call more than once. Must not be called
// from an OnRefill callback.
func (b *TokenBucket) Stop() {
	b.stopOnce.Do(func() { close(b.done) })
	if b.exited != nil {
		<-b.exited
	}
}

func (b *TokenBucket) run() {
	defer close(b.exited)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			select {
			case <-b.done:
				return
			default:
			}
			tokens := b.Refill()
			b.mu.Lock()
			fn := b.onRefill
			b.mu.Unlock()
			if fn != nil {
				fn(tokens)
			}
		}
	}
}
