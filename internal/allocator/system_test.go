package allocator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSystemAllocateAlignedAndDisjoint(t *testing.T) {
	s := NewSystem()

	seen := map[uintptr]bool{}

	for _, align := range []uintptr{8, 16, 64} {
		p, err := s.Allocate(LayoutOf(32, align))
		require.NoError(t, err)
		require.Zero(t, p%align)
		require.False(t, seen[p])
		seen[p] = true
	}
}

func TestSystemDeallocateUnknownAddressFails(t *testing.T) {
	s := NewSystem()

	err := s.Deallocate(0x1, LayoutOf(8, 8))
	require.Error(t, err)
}

func TestSystemHeapBoundsPanic(t *testing.T) {
	s := NewSystem()

	require.Panics(t, func() { s.HeapStart() })
	require.Panics(t, func() { s.HeapEnd() })
	require.Panics(t, func() { s.HeapRange() })
}
