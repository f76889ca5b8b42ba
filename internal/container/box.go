package container

import (
	"unsafe"

	"github.com/alloq-go/alloq/internal/allocator"
)

// Box holds a single value in allocator-owned memory.
type Box[T any] struct {
	alloc allocator.Allocator
	addr  uintptr
}

// NewBox allocates room for a T on alloc and stores val in it.
func NewBox[T any](alloc allocator.Allocator, val T) (*Box[T], error) {
	var zero T

	layout := allocator.LayoutOf(unsafe.Sizeof(zero), unsafe.Alignof(zero))

	addr, err := alloc.Allocate(layout)
	if err != nil {
		return nil, err
	}

	b := &Box[T]{alloc: alloc, addr: addr}
	b.Set(val)

	return b, nil
}

// Get returns the boxed value.
func (b *Box[T]) Get() T {
	return *(*T)(unsafe.Pointer(b.addr))
}

// Set overwrites the boxed value.
func (b *Box[T]) Set(val T) {
	*(*T)(unsafe.Pointer(b.addr)) = val
}

// Free returns the box's allocation to its allocator. The Box must not be
// used afterward.
func (b *Box[T]) Free() error {
	var zero T

	layout := allocator.LayoutOf(unsafe.Sizeof(zero), unsafe.Alignof(zero))

	return b.alloc.Deallocate(b.addr, layout)
}
