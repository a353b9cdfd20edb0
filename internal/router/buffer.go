package router

import (
	"sync"
)

// growThreshold is the fill ratio, in percent, at which the ring doubles.
const growThreshold = 70

// GrowableBuffer is an unbounded FIFO queue. Producers never block: the
// ring doubles once it is 70% full. Consumers block until an item arrives
// or the queue is closed.
type GrowableBuffer[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ring   []T
	head   int // next read
	tail   int // next write
	count  int
	closed bool

	enqueued  int64
	dequeued  int64
	resizes   int
	highWater int
}

// BufferStats describes a GrowableBuffer.
type BufferStats struct {
	Count     int
	Capacity  int
	Enqueued  int64
	Dequeued  int64
	Resizes   int
	HighWater int // largest Count observed
}

// NewGrowableBuffer creates a buffer with the given starting capacity.
func NewGrowableBuffer[T any](initialCapacity int) *GrowableBuffer[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	b := &GrowableBuffer[T]{ring: make([]T, initialCapacity)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Send appends item. It returns false once the buffer is closed.
func (b *GrowableBuffer[T]) Send(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	if (b.count+1)*100 >= len(b.ring)*growThreshold {
		b.grow()
	}

	b.ring[b.tail] = item
	b.tail = (b.tail + 1) % len(b.ring)
	b.count++
	b.enqueued++
	if b.count > b.highWater {
		b.highWater = b.count
	}

	b.cond.Signal()
	return true
}

// Receive blocks for the oldest item. It returns false when the buffer is
// closed and empty.
func (b *GrowableBuffer[T]) Receive() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 && !b.closed {
		b.cond.Wait()
	}
	if b.count == 0 {
		var zero T
		return zero, false
	}
	return b.pop(), true
}

// TryReceive is Receive without blocking.
func (b *GrowableBuffer[T]) TryReceive() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		var zero T
		return zero, false
	}
	return b.pop(), true
}

// ReceiveBatch blocks until at least one item is queued, then takes up to
// max items (all of them when max <= 0). It returns false when the buffer
// is closed and empty.
func (b *GrowableBuffer[T]) ReceiveBatch(max int) ([]T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 && !b.closed {
		b.cond.Wait()
	}
	if b.count == 0 {
		return nil, false
	}
	return b.take(max), true
}

// DrainTo takes up to max queued items without blocking.
func (b *GrowableBuffer[T]) DrainTo(max int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}
	return b.take(max)
}

// Close stops further sends and wakes blocked receivers. Queued items can
// still be received.
func (b *GrowableBuffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.cond.Broadcast()
}

// Closed reports whether Close has been called.
func (b *GrowableBuffer[T]) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Len returns the number of queued items.
func (b *GrowableBuffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the current ring capacity.
func (b *GrowableBuffer[T]) Cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ring)
}

// Stats returns buffer statistics.
func (b *GrowableBuffer[T]) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		Count:     b.count,
		Capacity:  len(b.ring),
		Enqueued:  b.enqueued,
		Dequeued:  b.dequeued,
		Resizes:   b.resizes,
		HighWater: b.highWater,
	}
}

// pop removes the head item. Must be called with lock held and count > 0.
func (b *GrowableBuffer[T]) pop() T {
	var zero T
	item := b.ring[b.head]
	b.ring[b.head] = zero
	b.head = (b.head + 1) % len(b.ring)
	b.count--
	b.dequeued++
	return item
}

func (b *GrowableBuffer[T]) take(max int) []T {
	n := b.count
	if max > 0 && max < n {
		n = max
	}
	out := make([]T, n)
	for i := range out {
		out[i] = b.pop()
	}
	return out
}

// grow doubles the ring, unwrapping it so head is at 0. Must be called with
// lock held.
func (b *GrowableBuffer[T]) grow() {
	ring := make([]T, len(b.ring)*2)
	if b.count > 0 {
		if b.head < b.tail {
			copy(ring, b.ring[b.head:b.tail])
		} else {
			n := copy(ring, b.ring[b.head:])
			copy(ring[n:], b.ring[:b.tail])
		}
	}
	b.ring = ring
	b.head = 0
	b.tail = b.count
	b.resizes++
}
