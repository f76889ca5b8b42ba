package allocator

import (
	"unsafe"

	alloqerrors "github.com/alloq-go/alloq/internal/errors"
)

// FitPolicy selects where a FreeList inserts a new extent among existing
// gaps.
type FitPolicy int

const (
	// FirstFit picks the first gap (walking head to tail) that admits the
	// new extent.
	FirstFit FitPolicy = iota
	// BestFit picks the admitting gap with the least leftover slack.
	BestFit
)

// freelistRecord is the in-band bookkeeping node for one live extent. It
// sits at the head of the extent it describes; the payload begins after it
// at the requested alignment. A zero-size sentinel record anchors the head
// of the list so every real allocation shares the same insertion code path.
type freelistRecord struct {
	end  uintptr
	prev uintptr
	next uintptr
}

const (
	freelistRecordSize  = unsafe.Sizeof(freelistRecord{})
	freelistRecordAlign = unsafe.Alignof(freelistRecord{})
)

// FreeList is a doubly linked list of live extents, ordered by address, with
// a fit policy choosing the insertion gap. Both allocate and deallocate are
// O(n) in the number of live extents; best-fit trades no extra asymptotic
// cost for smaller residual gaps than first-fit.
type FreeList struct {
	heap

	mu     spinLock
	policy FitPolicy
	first  uintptr // address of the sentinel record, == heap start
	last   uintptr // address of the tail record (== first when list is empty)
}

// NewFreeList constructs a FreeList over buf using the given fit policy,
// installing the sentinel record at the heap start.
func NewFreeList(buf []byte, policy FitPolicy) (*FreeList, error) {
	h := newHeap(buf)
	if h.end-h.start < freelistRecordSize {
		return nil, alloqerrors.InvalidHeap("freelist: heap of %d bytes too small for a %d-byte record", h.HeapRange().Len(), freelistRecordSize)
	}

	f := &FreeList{heap: h, policy: policy}
	f.installSentinel()

	return f, nil
}

func (f *FreeList) installSentinel() {
	f.first = f.start
	f.last = f.start
	rec := f.recordAt(f.start)
	*rec = freelistRecord{end: f.start + freelistRecordSize}
}

func (f *FreeList) recordAt(addr uintptr) *freelistRecord {
	return (*freelistRecord)(f.ptr(addr))
}

// gapBoundary returns the address a new extent placed after cur must not
// cross: the address of cur's successor record, or the heap end if cur is
// the tail.
func (f *FreeList) gapBoundary(cur uintptr) uintptr {
	rec := f.recordAt(cur)
	if rec.next != 0 {
		return rec.next
	}

	return f.end
}

// placement computes where a new record+payload for L would land if
// inserted right after cur, and whether it fits before the gap boundary.
func (f *FreeList) placement(cur uintptr, l Layout) (metaAddr, userAddr, newEnd uintptr, ok bool) {
	rec := f.recordAt(cur)
	metaAddr = alignUp(rec.end, freelistRecordAlign)
	userAddr = alignUp(metaAddr+freelistRecordSize, l.Align)
	newEnd = userAddr + l.Size

	boundary := f.gapBoundary(cur)

	return metaAddr, userAddr, newEnd, newEnd >= userAddr && newEnd <= boundary
}

// findBack locates the insertion predecessor per the configured fit policy.
func (f *FreeList) findBack(l Layout) (uintptr, uintptr, bool) {
	var (
		bestBack  uintptr
		bestMeta  uintptr
		bestSlack uintptr
		found     bool
	)

	for cur := f.first; ; {
		metaAddr, _, newEnd, ok := f.placement(cur, l)

		if ok {
			if f.policy == FirstFit {
				return cur, metaAddr, true
			}

			slack := f.gapBoundary(cur) - newEnd
			if !found || slack < bestSlack {
				bestBack, bestMeta, bestSlack, found = cur, metaAddr, slack, true
			}
		}

		next := f.recordAt(cur).next
		if next == 0 {
			break
		}

		cur = next
	}

	return bestBack, bestMeta, found
}

// Allocate inserts a new extent record for L at the gap chosen by the
// configured fit policy.
func (f *FreeList) Allocate(l Layout) (uintptr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	back, metaAddr, ok := f.findBack(l)
	if !ok {
		return 0, alloqerrors.OutOfMemory("freelist: no gap admits %d bytes aligned to %d", l.Size, l.Align)
	}

	_, userAddr, newEnd, _ := f.placement(back, l)

	backRec := f.recordAt(back)
	next := backRec.next

	newRec := f.recordAt(metaAddr)
	*newRec = freelistRecord{end: newEnd, prev: back, next: next}

	backRec.next = metaAddr

	if next != 0 {
		f.recordAt(next).prev = metaAddr
	} else {
		f.last = metaAddr
	}

	return userAddr, nil
}

// Deallocate finds the record whose end matches p+L.Size, walking tail-first
// since stack-like frees are common, and unlinks it.
func (f *FreeList) Deallocate(p uintptr, l Layout) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	ptrEnd := p + l.Size

	for cur := f.last; cur != f.first; {
		rec := f.recordAt(cur)

		if rec.end == ptrEnd {
			if rec.prev != 0 {
				f.recordAt(rec.prev).next = rec.next
			}

			if rec.next != 0 {
				f.recordAt(rec.next).prev = rec.prev
			} else {
				f.last = rec.prev
			}

			return nil
		}

		cur = rec.prev
	}

	return alloqerrors.InvalidFree("freelist: no live extent ends at %d", ptrEnd)
}

// Reset reinstalls the sentinel pad record at the heap start.
func (f *FreeList) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.installSentinel()
}

// HardReset is Reset plus a zero-fill of the backing buffer.
func (f *FreeList) HardReset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.heap.zero()
	f.installSentinel()
}
