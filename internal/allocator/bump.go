package allocator

import (
	alloqerrors "github.com/alloq-go/alloq/internal/errors"
)

// Bump is a monotonic forward arena. Allocation is O(1) with no per-call
// fragmentation cost; individual deallocations only ever decrement a live
// count; the cursor only rewinds to the heap start when that count returns
// to zero. This matches short-lived, scope-bounded allocation bursts where
// nothing needs to outlive the scope.
type Bump struct {
	heap

	mu        spinLock
	liveCount uintptr
	top       uintptr
}

// NewBump constructs a Bump over buf. The allocator starts empty: top at
// heap start, zero live allocations.
func NewBump(buf []byte) *Bump {
	h := newHeap(buf)

	return &Bump{heap: h, top: h.start}
}

// Allocate carves [p, p+L.Size) off the top of the arena.
func (b *Bump) Allocate(l Layout) (uintptr, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p := alignUp(b.top, l.Align)
	q := p + l.Size

	if q < p || q > b.end {
		return 0, alloqerrors.OutOfMemory("bump: %d bytes aligned to %d do not fit in %d remaining bytes",
			l.Size, l.Align, b.end-b.top)
	}

	b.top = q
	b.liveCount++

	return p, nil
}

// Deallocate decrements the live count; when it reaches zero the cursor
// resets to the heap start, reclaiming the whole arena in O(1). p and l are
// not otherwise inspected — a double-free or unknown-pointer free is
// undefined behaviour the bump policy cannot detect.
func (b *Bump) Deallocate(_ uintptr, _ Layout) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.liveCount == 0 {
		return nil
	}

	b.liveCount--
	if b.liveCount == 0 {
		b.top = b.start
	}

	return nil
}

// Reset returns the arena to its empty state.
func (b *Bump) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.liveCount = 0
	b.top = b.start
}

// HardReset is Reset plus a zero-fill of the backing buffer.
func (b *Bump) HardReset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.liveCount = 0
	b.top = b.start
	b.heap.zero()
}

// LiveCount reports the number of allocations not yet deallocated.
func (b *Bump) LiveCount() uintptr {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.liveCount
}
