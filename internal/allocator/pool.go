package allocator

import (
	"sort"
	"unsafe"

	alloqerrors "github.com/alloq-go/alloq/internal/errors"
)

// DefaultChunkSize is the chunk size a Pool uses when none is given.
const DefaultChunkSize = 64

// poolDescriptor is the intrusive bookkeeping node for one pool chunk.
// Descriptors live at the high end of the heap, grown downward one at a
// time as chunks are first touched, while chunk payloads grow upward from
// the heap start — the two halves collide predictably once the pool is
// exhausted.
//
// Two duties share prev/next: while a descriptor sits on the free list
// those fields link it to its free-list neighbours; once lent out they
// instead record the run of chunks backing a multi-chunk allocation,
// anchored at the head descriptor and terminated by next==0. userAddr
// distinguishes free (0) from lent-out (the address returned to the
// caller), so deallocation never needs to search a second cross-allocation
// list to tell which state a descriptor is in.
type poolDescriptor struct {
	chunkBase uintptr
	userAddr  uintptr
	prev      uintptr
	next      uintptr
}

const (
	poolDescSize  = unsafe.Sizeof(poolDescriptor{})
	poolDescAlign = unsafe.Alignof(poolDescriptor{})
)

// Pool is a fixed-size chunked allocator that merges consecutive free chunks
// to satisfy allocations larger than one chunk, or over-aligned ones.
// Single-chunk allocate/free are O(1); the merge path is the fallback for
// everything else.
type Pool struct {
	heap

	mu        spinLock
	chunkSize uintptr
	align     uintptr
	highAlign uintptr // alignDown(end, poolDescAlign)
	descStep  uintptr // alignUp(poolDescSize, poolDescAlign)
	numChunks uintptr

	freeHead, freeTail uintptr
}

// NewPool constructs a Pool over buf using DefaultChunkSize and an 8-byte
// chunk alignment.
func NewPool(buf []byte) (*Pool, error) {
	return NewPoolWithChunkSize(buf, DefaultChunkSize, unsafe.Alignof(uintptr(0)))
}

// NewPoolWithChunkSize constructs a Pool over buf with the given chunk size
// and chunk alignment. chunkSize must exceed the descriptor size; align
// must be a power of two.
func NewPoolWithChunkSize(buf []byte, chunkSize, align uintptr) (*Pool, error) {
	if align == 0 || align&(align-1) != 0 {
		return nil, alloqerrors.InvalidHeap("pool: alignment %d is not a power of two", align)
	}

	if chunkSize <= poolDescSize {
		return nil, alloqerrors.InvalidHeap("pool: chunk size %d must exceed descriptor size %d", chunkSize, poolDescSize)
	}

	chunkSize = alignUp(chunkSize, align)

	h := newHeap(buf)
	p := &Pool{
		heap:      h,
		chunkSize: chunkSize,
		align:     align,
		highAlign: alignDown(h.end, poolDescAlign),
		descStep:  alignUp(poolDescSize, poolDescAlign),
	}

	if _, err := p.growChunk(); err != nil {
		return nil, alloqerrors.InvalidHeap("pool: heap too small to hold even one chunk descriptor: %v", err)
	}

	return p, nil
}

func (p *Pool) desc(addr uintptr) *poolDescriptor {
	return (*poolDescriptor)(p.ptr(addr))
}

// descAddr returns the address of the descriptor for chunk idx.
func (p *Pool) descAddr(idx uintptr) uintptr {
	return p.highAlign - (idx+1)*p.descStep
}

func (p *Pool) freePushTail(addr uintptr) {
	d := p.desc(addr)
	d.prev = p.freeTail
	d.next = 0

	if p.freeTail != 0 {
		p.desc(p.freeTail).next = addr
	} else {
		p.freeHead = addr
	}

	p.freeTail = addr
}

func (p *Pool) freePopTail() uintptr {
	addr := p.freeTail
	if addr == 0 {
		return 0
	}

	d := p.desc(addr)
	p.freeTail = d.prev

	if p.freeTail != 0 {
		p.desc(p.freeTail).next = 0
	} else {
		p.freeHead = 0
	}

	d.prev, d.next = 0, 0

	return addr
}

// growChunk appends a new chunk (and its descriptor) at the next index,
// failing with OutOfMemory if the descriptor would collide with chunk
// payload space.
func (p *Pool) growChunk() (uintptr, error) {
	idx := p.numChunks
	chunkBase := p.start + idx*p.chunkSize
	addr := p.descAddr(idx)

	if addr > p.highAlign || chunkBase+p.chunkSize > addr {
		return 0, alloqerrors.OutOfMemory("pool: chunk %d collides with descriptor storage", idx)
	}

	d := p.desc(addr)
	*d = poolDescriptor{chunkBase: chunkBase}
	p.numChunks++
	p.freePushTail(addr)

	return addr, nil
}

// Allocate satisfies L from a single chunk when it fits, otherwise splices a
// merged run of contiguous free chunks.
func (p *Pool) Allocate(l Layout) (uintptr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.freeTail == 0 {
		if _, err := p.growChunk(); err != nil {
			return 0, err
		}
	}

	d := p.desc(p.freeTail)
	padding := alignUp(d.chunkBase, l.Align) - d.chunkBase

	if padding < p.chunkSize && l.Size <= p.chunkSize-padding {
		return p.allocateSingleChunk(l)
	}

	return p.allocateMultiChunk(l)
}

func (p *Pool) allocateSingleChunk(l Layout) (uintptr, error) {
	addr := p.freePopTail()
	d := p.desc(addr)
	userAddr := alignUp(d.chunkBase, l.Align)
	d.userAddr = userAddr

	return userAddr, nil
}

// allocateMultiChunk sorts the free list into address order, then finds the
// first contiguous run whose aligned span satisfies L, growing more chunks
// if none yet exists.
func (p *Pool) allocateMultiChunk(l Layout) (uintptr, error) {
	for {
		p.sortFreeByAddress()

		if addr, ok := p.findRun(l); ok {
			return p.spliceRun(addr, l)
		}

		if _, err := p.growChunk(); err != nil {
			return 0, err
		}
	}
}

func (p *Pool) sortFreeByAddress() {
	var addrs []uintptr

	for a := p.freeHead; a != 0; a = p.desc(a).next {
		addrs = append(addrs, a)
	}

	sort.Slice(addrs, func(i, j int) bool {
		return p.desc(addrs[i]).chunkBase < p.desc(addrs[j]).chunkBase
	})

	p.freeHead, p.freeTail = 0, 0

	for _, a := range addrs {
		d := p.desc(a)
		d.prev, d.next = 0, 0
		p.freePushTail(a)
	}
}

// findRun walks the address-sorted free list for the first contiguous run
// whose aligned span, counted up to the chunk just visited, can hold L,
// returning the run's head descriptor address.
func (p *Pool) findRun(l Layout) (uintptr, bool) {
	runStart := uintptr(0)
	prevBase := uintptr(0)

	for a := p.freeHead; a != 0; a = p.desc(a).next {
		base := p.desc(a).chunkBase

		if runStart == 0 || base != prevBase+p.chunkSize {
			runStart = a
		}

		prevBase = base

		alignedStart := alignUp(p.desc(runStart).chunkBase, l.Align)
		span := base + p.chunkSize - alignedStart

		if alignedStart <= base && span >= l.Size {
			return runStart, true
		}
	}

	return 0, false
}

// spliceRun removes from the free list, as a single unit, the chunks of the
// run starting at head from the one containing the aligned user address up
// to the first one that reaches its end; chunks lying wholly before the user
// address stay free. It records the user address on the first removed
// descriptor, the one Deallocate finds by index, and returns it. The removed
// chunks' next chain, already in address order from the preceding sort,
// becomes the allocation's run chain.
func (p *Pool) spliceRun(head uintptr, l Layout) (uintptr, error) {
	userAddr := alignUp(p.desc(head).chunkBase, l.Align)

	for userAddr >= p.desc(head).chunkBase+p.chunkSize {
		head = p.desc(head).next
	}

	headDesc := p.desc(head)
	needEnd := userAddr + l.Size

	tail := head
	for {
		td := p.desc(tail)
		end := td.chunkBase + p.chunkSize

		if end >= needEnd {
			break
		}

		tail = td.next
	}

	tailDesc := p.desc(tail)
	before := headDesc.prev
	after := tailDesc.next

	if before != 0 {
		p.desc(before).next = after
	} else {
		p.freeHead = after
	}

	if after != 0 {
		p.desc(after).prev = before
	} else {
		p.freeTail = before
	}

	headDesc.prev = 0
	tailDesc.next = 0
	headDesc.userAddr = userAddr

	return userAddr, nil
}

// Deallocate locates the chunk descriptor for addr by index arithmetic in
// O(1), validates it, and returns the whole run to the free list.
func (p *Pool) Deallocate(addr uintptr, _ Layout) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	base := alignDown(addr, p.align)
	anchor := alignUp(p.start, p.align)

	if base < anchor {
		return alloqerrors.InvalidFree("pool: address %d precedes heap start", addr)
	}

	idx := (base - anchor) / p.chunkSize
	if idx >= p.numChunks {
		return alloqerrors.InvalidFree("pool: address %d does not belong to any allocated chunk", addr)
	}

	head := p.descAddr(idx)
	d := p.desc(head)

	if d.userAddr != addr {
		return alloqerrors.InvalidFree("pool: address %d does not match the chunk's recorded allocation", addr)
	}

	next := d.next
	d.userAddr = 0
	d.prev, d.next = 0, 0
	p.freePushTail(head)

	for next != 0 {
		nd := p.desc(next)
		following := nd.next
		nd.userAddr = 0
		nd.prev, nd.next = 0, 0
		p.freePushTail(next)
		next = following
	}

	return nil
}

// Reset empties the free list and reinstalls a single free descriptor for
// chunk 0 at the high end. The pool keeps no list of lent-out descriptors,
// so there is no second list to discard.
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.resetLocked()
}

func (p *Pool) resetLocked() {
	p.freeHead, p.freeTail = 0, 0
	p.numChunks = 0
	// growChunk cannot fail here: it succeeded at construction with the same geometry.
	_, _ = p.growChunk()
}

// HardReset is Reset plus a zero-fill of the backing buffer.
func (p *Pool) HardReset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.heap.zero()
	p.resetLocked()
}
