package allocator

import (
	alloqerrors "github.com/alloq-go/alloq/internal/errors"
)

// Statiq is a two-ended bump allocator: left allocations grow a cursor
// upward from the heap start, right allocations grow a cursor downward from
// the heap end, and the two must never cross. It carries no metadata at all
// — deallocation is a no-op — which suits two call sites with independent
// lifetimes that never need individual frees.
//
// Left-allocation is defined symmetrically to right allocation: the left
// cursor advances upward by the aligned-up size, same shape as a plain bump
// allocator anchored at the heap start.
type Statiq struct {
	heap

	mu          spinLock
	left, right uintptr
}

// NewStatiq constructs a Statiq over buf with L at the heap start and R at
// the heap end.
func NewStatiq(buf []byte) *Statiq {
	h := newHeap(buf)

	return &Statiq{heap: h, left: h.start, right: h.end}
}

// Allocate is AllocateRight, the policy's default direction.
func (s *Statiq) Allocate(l Layout) (uintptr, error) {
	return s.AllocateRight(l)
}

// AllocateRight moves the right cursor down by L.Size, aligned down.
func (s *Statiq) AllocateRight(l Layout) (uintptr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l.Size > s.right-s.left {
		return 0, alloqerrors.OutOfMemory("statiq: %d bytes do not fit in %d remaining bytes", l.Size, s.right-s.left)
	}

	p := alignDown(s.right-l.Size, l.Align)
	if p < s.left {
		return 0, alloqerrors.OutOfMemory("statiq: %d bytes aligned to %d do not fit before left cursor", l.Size, l.Align)
	}

	s.right = p

	return p, nil
}

// AllocateLeft moves the left cursor up by L.Size, aligned up.
func (s *Statiq) AllocateLeft(l Layout) (uintptr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := alignUp(s.left, l.Align)
	q := p + l.Size

	if q < p || q > s.right {
		return 0, alloqerrors.OutOfMemory("statiq: %d bytes aligned to %d do not fit before right cursor", l.Size, l.Align)
	}

	s.left = q

	return p, nil
}

// Deallocate is a no-op: statiq carries no per-allocation metadata.
func (s *Statiq) Deallocate(_ uintptr, _ Layout) error {
	return nil
}

// Reset restores L to the heap start and R to the heap end.
func (s *Statiq) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.left = s.start
	s.right = s.end
}

// HardReset is Reset plus a zero-fill of the backing buffer.
func (s *Statiq) HardReset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.left = s.start
	s.right = s.end
	s.heap.zero()
}
