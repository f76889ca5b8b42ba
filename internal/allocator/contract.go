// Package allocator implements a family of allocation policies that carve
// byte-precise, aligned allocations out of a single caller-supplied backing
// buffer: bump, deallocatable-bump, statiq, pool, and free-list (first-fit /
// best-fit). Every policy embeds its own bookkeeping inside the backing
// buffer rather than leaning on a host allocator, and every public operation
// is safe to call from multiple goroutines against the same instance.
package allocator

import (
	"unsafe"

	alloqerrors "github.com/alloq-go/alloq/internal/errors"
)

// Layout describes a requested allocation: size in bytes and a power-of-two
// alignment. A zero Size is legal; the returned address must still satisfy
// Align and must be non-null.
type Layout struct {
	Size  uintptr
	Align uintptr
}

// NewLayout validates and constructs a Layout. Align must be a power of two
// and Size must not overflow when rounded up by Align.
func NewLayout(size, align uintptr) (Layout, error) {
	if align == 0 || align&(align-1) != 0 {
		return Layout{}, alloqerrors.InvalidLayout("alignment %d is not a power of two", align)
	}

	if size > ^uintptr(0)-align {
		return Layout{}, alloqerrors.InvalidLayout("size %d overflows under alignment %d", size, align)
	}

	return Layout{Size: size, Align: align}, nil
}

// LayoutOf is a convenience constructor for a natively-aligned Go type,
// mirroring the shape that host container types (growable arrays, boxed
// values) need when they ask the allocator for room for a T.
func LayoutOf(size, align uintptr) Layout {
	l, err := NewLayout(size, align)
	if err != nil {
		// Only reachable for a caller-constructed, non-power-of-two unsafe.Alignof,
		// which cannot happen for any real Go type.
		panic(err)
	}

	return l
}

// alignUp rounds addr up to the nearest multiple of the power-of-two a.
func alignUp(addr, a uintptr) uintptr {
	return (addr + a - 1) &^ (a - 1)
}

// alignDown rounds addr down to the nearest multiple of the power-of-two a.
func alignDown(addr, a uintptr) uintptr {
	return addr &^ (a - 1)
}

// HeapRange is the half-open byte range [Start, End) an allocator owns.
type HeapRange struct {
	Start uintptr
	End   uintptr
}

// Len returns the number of bytes in the range.
func (r HeapRange) Len() uintptr {
	return r.End - r.Start
}

// Allocator is the abstract contract every policy in this package satisfies.
// It is the interface host container types (growable arrays, boxed values)
// parameterize over.
type Allocator interface {
	// Allocate returns an address p with p%L.Align==0 and [p, p+L.Size)
	// disjoint from every other live allocation, or fails with an
	// *errors.AllocError of kind OutOfMemory.
	Allocate(l Layout) (uintptr, error)

	// Deallocate releases the allocation (p, l) previously returned by
	// Allocate on this instance. Passing a pointer this allocator did not
	// hand out is undefined behaviour; policies that can detect it cheaply
	// fail with an InvalidFree error instead of corrupting state.
	Deallocate(p uintptr, l Layout) error

	// Reset returns the allocator to its empty state without zeroing
	// memory. The caller warrants no previously allocated pointer is still
	// in use.
	Reset()

	// HardReset is Reset plus a zero-fill of the whole heap range.
	HardReset()

	HeapStart() uintptr
	HeapEnd() uintptr
	HeapRange() HeapRange
}

// heap is the shared backing-buffer bookkeeping embedded by every policy. It
// owns no memory itself — buf is caller-supplied and outlives the policy
// value for as long as the policy is in use.
type heap struct {
	buf   []byte
	start uintptr
	end   uintptr
}

// newHeap wraps buf as a heap range. A nil or empty buf is legal: start==end
// and every allocation but a zero-sized one fails with OutOfMemory.
func newHeap(buf []byte) heap {
	base := uintptr(0)
	if p := unsafe.SliceData(buf); p != nil {
		base = uintptr(unsafe.Pointer(p))
	}

	return heap{buf: buf, start: base, end: base + uintptr(len(buf))}
}

// ptr converts an address inside [start, end] to an unsafe.Pointer into buf.
// addr==end is legal (one-past-the-end, never dereferenced).
func (h *heap) ptr(addr uintptr) unsafe.Pointer {
	base := unsafe.Pointer(unsafe.SliceData(h.buf))

	return unsafe.Add(base, addr-h.start)
}

// zero fills the whole backing buffer with zero bytes.
func (h *heap) zero() {
	clear(h.buf)
}

func (h *heap) HeapStart() uintptr { return h.start }
func (h *heap) HeapEnd() uintptr   { return h.end }
func (h *heap) HeapRange() HeapRange {
	return HeapRange{Start: h.start, End: h.end}
}

// copyMemory copies size bytes from src to dst, both addresses inside the
// same backing buffer (or any two live Go allocations of sufficient length).
func copyMemory(dst, src unsafe.Pointer, size uintptr) {
	dstSlice := unsafe.Slice((*byte)(dst), size)
	srcSlice := unsafe.Slice((*byte)(src), size)
	copy(dstSlice, srcSlice)
}
