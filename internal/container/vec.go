// Package container provides growable-array and boxed-value types
// parameterised over an allocator.Allocator rather than the Go heap.
package container

import (
	"unsafe"

	"github.com/alloq-go/alloq/internal/allocator"
)

const initialVecCapacity = 4

// Vec is a growable array backed by an allocator.Allocator. Pushing beyond
// the current capacity reallocates: a new, larger buffer is requested from
// the allocator, the live elements are copied over, and the old buffer is
// handed back to Deallocate.
type Vec[T any] struct {
	alloc allocator.Allocator
	base  uintptr
	len   uintptr
	cap   uintptr
}

// NewVec constructs an empty Vec over alloc. No allocation happens until
// the first Push.
func NewVec[T any](alloc allocator.Allocator) *Vec[T] {
	return &Vec[T]{alloc: alloc}
}

// NewVecWithCapacity constructs a Vec with room for capacity elements
// preallocated in a single request, mirroring Rust's Vec::with_capacity_in
// against a custom allocator. Unlike NewVec, pushing up to capacity never
// triggers a reallocation, so it never leaves a stale buffer behind for a
// non-reclaiming policy (bump, debump, statiq) to strand.
func NewVecWithCapacity[T any](alloc allocator.Allocator, capacity int) (*Vec[T], error) {
	v := &Vec[T]{alloc: alloc}
	if capacity == 0 {
		return v, nil
	}

	var zero T

	layout, err := allocator.NewLayout(uintptr(capacity)*unsafe.Sizeof(zero), unsafe.Alignof(zero))
	if err != nil {
		return nil, err
	}

	base, err := alloc.Allocate(layout)
	if err != nil {
		return nil, err
	}

	v.base = base
	v.cap = uintptr(capacity)

	return v, nil
}

// Len returns the number of elements pushed so far.
func (v *Vec[T]) Len() int {
	return int(v.len)
}

func (v *Vec[T]) elemAddr(i uintptr) unsafe.Pointer {
	var zero T

	return unsafe.Pointer(v.base + i*unsafe.Sizeof(zero))
}

// Get returns the element at index i. i must be in [0, Len()).
func (v *Vec[T]) Get(i int) T {
	return *(*T)(v.elemAddr(uintptr(i)))
}

// Set overwrites the element at index i. i must be in [0, Len()).
func (v *Vec[T]) Set(i int, val T) {
	*(*T)(v.elemAddr(uintptr(i))) = val
}

// Push appends val, growing the backing allocation if necessary.
func (v *Vec[T]) Push(val T) error {
	if v.len == v.cap {
		if err := v.grow(); err != nil {
			return err
		}
	}

	*(*T)(v.elemAddr(v.len)) = val
	v.len++

	return nil
}

func (v *Vec[T]) grow() error {
	var zero T

	elemSize := unsafe.Sizeof(zero)
	elemAlign := unsafe.Alignof(zero)

	newCap := v.cap * 2
	if newCap == 0 {
		newCap = initialVecCapacity
	}

	newLayout, err := allocator.NewLayout(newCap*elemSize, elemAlign)
	if err != nil {
		return err
	}

	newBase, err := v.alloc.Allocate(newLayout)
	if err != nil {
		return err
	}

	if v.len > 0 {
		src := unsafe.Slice((*byte)(unsafe.Pointer(v.base)), v.len*elemSize)
		dst := unsafe.Slice((*byte)(unsafe.Pointer(newBase)), v.len*elemSize)
		copy(dst, src)

		oldLayout := allocator.LayoutOf(v.cap*elemSize, elemAlign)
		_ = v.alloc.Deallocate(v.base, oldLayout)
	}

	v.base = newBase
	v.cap = newCap

	return nil
}

// Free returns the Vec's backing allocation, if any, to its allocator. The
// Vec must not be used afterward.
func (v *Vec[T]) Free() error {
	if v.cap == 0 {
		return nil
	}

	var zero T

	layout := allocator.LayoutOf(v.cap*unsafe.Sizeof(zero), unsafe.Alignof(zero))

	return v.alloc.Deallocate(v.base, layout)
}
