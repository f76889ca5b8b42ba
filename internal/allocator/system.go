package allocator

import (
	"sync"
	"unsafe"

	alloqerrors "github.com/alloq-go/alloq/internal/errors"
)

// System delegates every allocation to the Go runtime heap instead of a
// caller-supplied region, serving as a baseline to compare the fixed-region
// policies against. It has no fixed heap range: HeapStart, HeapEnd, and
// HeapRange panic.
type System struct {
	mu   sync.Mutex
	live map[uintptr][]byte
}

// NewSystem constructs a System allocator.
func NewSystem() *System {
	return &System{live: make(map[uintptr][]byte)}
}

// Allocate requests size+align bytes from the Go heap and returns an
// aligned address within them. The backing slice is retained until
// Deallocate so the garbage collector cannot reclaim it early.
func (s *System) Allocate(l Layout) (uintptr, error) {
	if l.Align == 0 || l.Align&(l.Align-1) != 0 {
		return 0, alloqerrors.InvalidLayout("system: alignment %d is not a power of two", l.Align)
	}

	buf := make([]byte, l.Size+l.Align)

	base := uintptr(0)
	if p := unsafe.SliceData(buf); p != nil {
		base = uintptr(unsafe.Pointer(p))
	}

	addr := alignUp(base, l.Align)

	s.mu.Lock()
	s.live[addr] = buf
	s.mu.Unlock()

	return addr, nil
}

// Deallocate releases the retaining reference for p, letting the garbage
// collector reclaim it.
func (s *System) Deallocate(p uintptr, _ Layout) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.live[p]; !ok {
		return alloqerrors.InvalidFree("system: address %d was not allocated by this instance", p)
	}

	delete(s.live, p)

	return nil
}

// Reset drops every retaining reference without inspecting live allocation
// count; the caller warrants nothing returned by Allocate is still in use.
func (s *System) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.live = make(map[uintptr][]byte)
}

// HardReset is Reset; there is no fixed region to zero.
func (s *System) HardReset() {
	s.Reset()
}

func (s *System) HeapStart() uintptr {
	panic("system: allocator has no fixed heap start")
}

func (s *System) HeapEnd() uintptr {
	panic("system: allocator has no fixed heap end")
}

func (s *System) HeapRange() HeapRange {
	panic("system: allocator has no fixed heap range")
}
