package allocator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	alloqerrors "github.com/alloq-go/alloq/internal/errors"
)

func TestFreeListAllocateDisjoint(t *testing.T) {
	for _, policy := range []FitPolicy{FirstFit, BestFit} {
		f, err := NewFreeList(make([]byte, 4096), policy)
		require.NoError(t, err)

		seen := map[uintptr]bool{}

		for i := 0; i < 8; i++ {
			p, err := f.Allocate(LayoutOf(32, 8))
			require.NoError(t, err)
			require.False(t, seen[p])
			seen[p] = true
		}
	}
}

func TestFreeListBestFitFillsSmallestGap(t *testing.T) {
	f, err := NewFreeList(make([]byte, 4096), BestFit)
	require.NoError(t, err)

	a, err := f.Allocate(LayoutOf(64, 8))
	require.NoError(t, err)

	b, err := f.Allocate(LayoutOf(16, 8))
	require.NoError(t, err)

	_, err = f.Allocate(LayoutOf(64, 8))
	require.NoError(t, err)

	require.NoError(t, f.Deallocate(b, LayoutOf(16, 8)))

	c, err := f.Allocate(LayoutOf(16, 8))
	require.NoError(t, err)

	require.Equal(t, b, c, "best-fit should reuse the freed gap exactly")
	_ = a
}

func TestFreeListFirstFitVsBestFitSlack(t *testing.T) {
	build := func(policy FitPolicy) *FreeList {
		f, err := NewFreeList(make([]byte, 4096), policy)
		require.NoError(t, err)

		_, err = f.Allocate(LayoutOf(64, 8))
		require.NoError(t, err)

		mid, err := f.Allocate(LayoutOf(64, 8))
		require.NoError(t, err)

		_, err = f.Allocate(LayoutOf(64, 8))
		require.NoError(t, err)

		require.NoError(t, f.Deallocate(mid, LayoutOf(64, 8)))

		return f
	}

	slackFor := func(f *FreeList, l Layout) uintptr {
		back, meta, ok := f.findBack(l)
		require.True(t, ok)

		_, _, newEnd, _ := f.placement(back, l)
		_ = meta

		return f.gapBoundary(back) - newEnd
	}

	ff := build(FirstFit)
	bf := build(BestFit)

	l := LayoutOf(16, 8)

	require.LessOrEqual(t, int(slackFor(bf, l)), int(slackFor(ff, l)))
}

func TestFreeListInvalidFree(t *testing.T) {
	f, err := NewFreeList(make([]byte, 4096), FirstFit)
	require.NoError(t, err)

	err = f.Deallocate(f.HeapStart()+1000, LayoutOf(8, 8))
	require.Error(t, err)
	require.True(t, errors.Is(err, alloqerrors.ErrInvalidFree))
}

func TestFreeListReset(t *testing.T) {
	f, err := NewFreeList(make([]byte, 4096), FirstFit)
	require.NoError(t, err)

	_, err = f.Allocate(LayoutOf(64, 8))
	require.NoError(t, err)

	f.Reset()

	require.Equal(t, f.first, f.last)
}

func TestFreeListTooSmallHeap(t *testing.T) {
	_, err := NewFreeList(make([]byte, 1), FirstFit)
	require.Error(t, err)
	require.True(t, errors.Is(err, alloqerrors.ErrInvalidHeap))
}
