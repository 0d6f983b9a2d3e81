// Package queue buffers outbound socket actions that could not be sent.
package queue

import (
	"sync"

	"msg_client/client/chat/domain"
)

const DefaultCapacity = 200

// Sender is the live side of a flush: the transport as seen by the queue.
type Sender interface {
	Connected() bool
	Emit(event string, payload any) error
}

// Outbound is a bounded FIFO with a drop-oldest policy. Enqueue never
// rejects; when full the head is evicted to make room.
type Outbound struct {
	mu       sync.Mutex
	items    []domain.OutboundItem
	capacity int
	evicted  int
	onEvict  func(domain.OutboundItem)
}

func New(capacity int) *Outbound {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Outbound{items: make([]domain.OutboundItem, 0, capacity), capacity: capacity}
}

// OnEvict registers a callback for items dropped under capacity pressure.
// It is called with the queue lock held and must not touch the queue.
func (q *Outbound) OnEvict(fn func(domain.OutboundItem)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onEvict = fn
}

// Enqueue appends item and reports whether an older item was evicted.
func (q *Outbound) Enqueue(item domain.OutboundItem) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	evicted := false
	if len(q.items) >= q.capacity {
		dropped := q.items[0]
		q.items[0] = domain.OutboundItem{}
		q.items = q.items[1:]
		q.evicted++
		evicted = true
		if q.onEvict != nil {
			q.onEvict(dropped)
		}
	}
	q.items = append(q.items, item)
	return evicted
}

// Flush sends queued items in order while the sender reports itself
// connected. A failed send puts the item back at the head and ends the
// flush. It returns the number of items sent.
func (q *Outbound) Flush(sender Sender) int {
	return q.Release(sender, nil)
}

// Release sends items in order while allow admits the head. It stops at the
// first refused item or failed send and leaves that item at the head. A nil
// allow admits everything.
func (q *Outbound) Release(sender Sender, allow func(domain.OutboundItem) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	sent := 0
	for len(q.items) > 0 && sender.Connected() {
		head := q.items[0]
		if allow != nil && !allow(head) {
			break
		}
		if err := sender.Emit(head.Event, head.Payload); err != nil {
			break
		}
		q.items[0] = domain.OutboundItem{}
		q.items = q.items[1:]
		sent++
	}
	if len(q.items) == 0 {
		q.items = make([]domain.OutboundItem, 0, q.capacity)
	}
	return sent
}

func (q *Outbound) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Outbound) Capacity() int {
	return q.capacity
}

// Evicted returns how many items were dropped since construction.
func (q *Outbound) Evicted() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.evicted
}

// Snapshot returns a copy of the queued items, oldest first.
func (q *Outbound) Snapshot() []domain.OutboundItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.OutboundItem(nil), q.items...)
}

// Clear drops every queued item without counting them as evictions.
func (q *Outbound) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = make([]domain.OutboundItem, 0, q.capacity)
}
