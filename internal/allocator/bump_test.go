package allocator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	alloqerrors "github.com/alloq-go/alloq/internal/errors"
)

func TestBumpAllocate(t *testing.T) {
	buf := make([]byte, 64)
	b := NewBump(buf)

	p1, err := b.Allocate(LayoutOf(8, 8))
	require.NoError(t, err)
	require.Equal(t, b.HeapStart(), p1)

	p2, err := b.Allocate(LayoutOf(8, 8))
	require.NoError(t, err)
	require.Equal(t, p1+8, p2)
}

func TestBumpOutOfMemory(t *testing.T) {
	buf := make([]byte, 16)
	b := NewBump(buf)

	_, err := b.Allocate(LayoutOf(8, 8))
	require.NoError(t, err)

	_, err = b.Allocate(LayoutOf(16, 8))
	require.Error(t, err)
	require.True(t, errors.Is(err, alloqerrors.ErrOutOfMemory))
}

func TestBumpReclaimsOnLastDeallocate(t *testing.T) {
	buf := make([]byte, 32)
	b := NewBump(buf)

	p1, err := b.Allocate(LayoutOf(8, 8))
	require.NoError(t, err)

	_, err = b.Allocate(LayoutOf(8, 8))
	require.NoError(t, err)

	require.NoError(t, b.Deallocate(0, Layout{}))
	require.Equal(t, uintptr(1), b.LiveCount())

	require.NoError(t, b.Deallocate(0, Layout{}))
	require.Equal(t, uintptr(0), b.LiveCount())

	p3, err := b.Allocate(LayoutOf(8, 8))
	require.NoError(t, err)
	require.Equal(t, p1, p3, "after live_count returns to zero, allocation restarts at heap start")
}

func TestBumpResetIdempotent(t *testing.T) {
	buf := make([]byte, 32)
	b := NewBump(buf)

	_, err := b.Allocate(LayoutOf(8, 8))
	require.NoError(t, err)

	b.Reset()
	b.Reset()

	require.Equal(t, uintptr(0), b.LiveCount())

	p, err := b.Allocate(LayoutOf(8, 8))
	require.NoError(t, err)
	require.Equal(t, b.HeapStart(), p)
}

func TestBumpHardResetZeroesHeap(t *testing.T) {
	buf := make([]byte, 32)
	b := NewBump(buf)

	p, err := b.Allocate(LayoutOf(16, 8))
	require.NoError(t, err)

	for i := range buf {
		buf[i] = 0xFF
	}

	b.HardReset()

	for i, by := range buf {
		require.Zerof(t, by, "byte %d not zeroed after HardReset", i)
	}

	require.Equal(t, uintptr(0), b.LiveCount())
	_ = p
}

func TestBumpAlignment(t *testing.T) {
	buf := make([]byte, 128)
	b := NewBump(buf)

	for _, align := range []uintptr{1, 2, 4, 8, 16, 32} {
		p, err := b.Allocate(LayoutOf(1, align))
		require.NoError(t, err)
		require.Zero(t, p%align)
	}
}

func TestBumpDisjointAllocations(t *testing.T) {
	buf := make([]byte, 256)
	b := NewBump(buf)

	seen := map[uintptr]bool{}

	for i := 0; i < 16; i++ {
		p, err := b.Allocate(LayoutOf(8, 8))
		require.NoError(t, err)
		require.False(t, seen[p], "address %d reused while still live", p)
		seen[p] = true
	}
}
