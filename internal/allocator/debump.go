package allocator

import (
	"unsafe"

	alloqerrors "github.com/alloq-go/alloq/internal/errors"
)

// debumpRecord is the in-band bookkeeping node threaded through the heap by
// Debump, one per allocation, stored immediately after the payload it
// describes. live==0 marks the slot as logically freed; start/prev are
// meaningless once the slot is freed except for prev, which keeps the chain
// walkable.
type debumpRecord struct {
	start uintptr
	prev  uintptr
	live  uintptr
}

const (
	debumpRecordSize  = unsafe.Sizeof(debumpRecord{})
	debumpRecordAlign = unsafe.Alignof(debumpRecord{})
)

// Debump is a stack-like bump allocator where trailing freed allocations are
// reclaimed eagerly. Non-top frees are O(1) marks; a free at the top unwinds
// every trailing marked-absent record in one pass, so a fully freed sequence
// returns the cursor to its initial position regardless of free order.
type Debump struct {
	heap

	mu       spinLock
	lastMeta uintptr
}

// NewDebump constructs a Debump over buf, installing the initial sentinel
// record at the heap start.
func NewDebump(buf []byte) (*Debump, error) {
	h := newHeap(buf)
	if h.end-h.start < debumpRecordSize {
		return nil, alloqerrors.InvalidHeap("debump: heap of %d bytes too small for a %d-byte record", h.HeapRange().Len(), debumpRecordSize)
	}

	d := &Debump{heap: h}
	d.installSentinel()

	return d, nil
}

func (d *Debump) installSentinel() {
	d.lastMeta = d.start
	rec := (*debumpRecord)(d.ptr(d.start))
	*rec = debumpRecord{start: 0, prev: 0, live: 0}
}

func (d *Debump) recordAt(addr uintptr) *debumpRecord {
	return (*debumpRecord)(d.ptr(addr))
}

// Allocate appends a new record after the most recently inserted one.
func (d *Debump) Allocate(l Layout) (uintptr, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	end := d.lastMeta + debumpRecordSize
	p := alignUp(end, l.Align)
	newMeta := alignUp(p+l.Size, debumpRecordAlign)

	if newMeta < p || newMeta+debumpRecordSize > d.end {
		return 0, alloqerrors.OutOfMemory("debump: %d bytes aligned to %d do not fit before heap end", l.Size, l.Align)
	}

	rec := d.recordAt(newMeta)
	*rec = debumpRecord{start: p, prev: d.lastMeta, live: 1}
	d.lastMeta = newMeta

	return p, nil
}

// Deallocate marks the record for (p, l) absent and, if it was the top of the
// stack, unwinds every trailing absent record.
func (d *Debump) Deallocate(p uintptr, l Layout) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	metaAddr := alignUp(p+l.Size, debumpRecordAlign)
	if metaAddr+debumpRecordSize > d.end {
		return alloqerrors.InvalidFree("debump: (%d, %+v) does not correspond to a live record", p, l)
	}

	d.recordAt(metaAddr).live = 0

	for d.lastMeta != d.start {
		cur := d.recordAt(d.lastMeta)
		if cur.live != 0 {
			break
		}

		d.lastMeta = cur.prev
	}

	return nil
}

// Reset reinstalls the initial sentinel record.
func (d *Debump) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.installSentinel()
}

// HardReset is Reset plus a zero-fill of the backing buffer.
func (d *Debump) HardReset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.heap.zero()
	d.installSentinel()
}
