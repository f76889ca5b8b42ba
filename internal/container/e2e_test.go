package container

import (
	"context"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/alloq-go/alloq/internal/allocator"
)

// E1: stack-grow. Bump; push 0..10 then 255 onto a growable array.
func TestE1StackGrow(t *testing.T) {
	alloc := allocator.NewBump(make([]byte, 512))
	v := NewVec[int](alloc)

	for x := 0; x < 10; x++ {
		require.NoError(t, v.Push(x))
	}
	require.NoError(t, v.Push(255))

	require.Equal(t, 11, v.Len())

	sum := 0
	for i := 0; i < v.Len(); i++ {
		sum += v.Get(i)
	}
	require.Equal(t, 45+255, sum)
}

// E2: interleaved vectors. Deallocatable-bump; even x into v, odd x into w.
func TestE2InterleavedVectors(t *testing.T) {
	alloc, err := allocator.NewDebump(make([]byte, 1024))
	require.NoError(t, err)

	v := NewVec[int](alloc)
	w := NewVec[int](alloc)

	for x := 0; x < 128; x++ {
		if x%2 == 0 {
			require.NoError(t, v.Push(x))
		} else {
			require.NoError(t, w.Push(x))
		}
	}

	for i := 0; i < v.Len(); i++ {
		require.Zero(t, v.Get(i)%2, "v must contain only even elements")
	}

	for i := 0; i < w.Len(); i++ {
		require.Equal(t, 1, w.Get(i)%2, "w must contain only odd elements")
	}
}

// E3: pool fragmented push. Three arrays sharing one pool allocator.
func TestE3PoolFragmentedPush(t *testing.T) {
	alloc, err := allocator.NewPoolWithChunkSize(make([]byte, 1<<20), 1024, 8)
	require.NoError(t, err)

	v1 := NewVec[int](alloc)
	v2 := NewVec[int](alloc)
	v3 := NewVec[int](alloc)

	for x := 0; x < 128; x++ {
		if x%2 != 0 {
			require.NoError(t, v1.Push(x))
		} else {
			require.NoError(t, v2.Push(x))
		}

		require.NoError(t, v3.Push(-x))
	}

	sum := 0
	for i := 0; i < v1.Len(); i++ {
		sum += v1.Get(i)
	}
	for i := 0; i < v2.Len(); i++ {
		sum += v2.Get(i)
	}
	for i := 0; i < v3.Len(); i++ {
		sum += v3.Get(i)
	}

	require.Zero(t, sum)
}

// E4: best-fit placement. Allocate [64, 16, 64], free the middle, allocate
// 16 and assert it lands in the freed gap.
func TestE4BestFitPlacement(t *testing.T) {
	alloc, err := allocator.NewFreeList(make([]byte, 4096), allocator.BestFit)
	require.NoError(t, err)

	_, err = alloc.Allocate(allocator.LayoutOf(64, 8))
	require.NoError(t, err)

	mid, err := alloc.Allocate(allocator.LayoutOf(16, 8))
	require.NoError(t, err)

	_, err = alloc.Allocate(allocator.LayoutOf(64, 8))
	require.NoError(t, err)

	require.NoError(t, alloc.Deallocate(mid, allocator.LayoutOf(16, 8)))

	p, err := alloc.Allocate(allocator.LayoutOf(16, 8))
	require.NoError(t, err)
	require.Equal(t, mid, p)
}

// E5: out-of-memory. Bump heap sized for exactly 16 [32]uint16 arrays; the
// 17th push must fail. The vec preallocates its capacity in one request
// (NewVecWithCapacity) so that a non-reclaiming bump never strands a
// doubling-growth buffer and the arithmetic lines up exactly with the heap
// size.
func TestE5OutOfMemory(t *testing.T) {
	type arr = [32]uint16

	var zero arr

	elemSize := int(unsafe.Sizeof(zero))
	alloc := allocator.NewBump(make([]byte, elemSize*16))

	v, err := NewVecWithCapacity[arr](alloc, 16)
	require.NoError(t, err)

	for i := 0; i < 16; i++ {
		require.NoErrorf(t, v.Push(zero), "push %d should succeed", i)
	}

	err = v.Push(zero)
	require.Error(t, err, "the 17th push must fail")
}

// E6: multi-threaded churn. Two goroutines each perform 100 allocate/
// deallocate pairs of a single int32 against a shared allocator.
func TestE6MultiThreadedChurn(t *testing.T) {
	const recordSize = 200 * 4

	alloc, err := allocator.NewFreeList(make([]byte, recordSize*8), allocator.FirstFit)
	require.NoError(t, err)

	layout := allocator.LayoutOf(4, 4)

	churn := func() error {
		for i := 0; i < 100; i++ {
			p, err := alloc.Allocate(layout)
			if err != nil {
				return err
			}

			if err := alloc.Deallocate(p, layout); err != nil {
				return err
			}
		}

		return nil
	}

	g, _ := errgroup.WithContext(context.Background())
	g.Go(churn)
	g.Go(churn)

	require.NoError(t, g.Wait())

	_, err = alloc.Allocate(layout)
	require.NoError(t, err, "allocator must accept at least one more allocation after churn")
}
