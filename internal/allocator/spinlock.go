package allocator

import (
	"runtime"
	"sync/atomic"
)

// spinLock serialises each policy's critical section. Every allocator
// operation holds it for the whole call and never yields to a channel or
// blocking syscall while it is held, so the allocators stay usable
// pre-runtime and on bare-metal targets that have no preemptive scheduler to
// hand a blocked sync.Mutex waiter back to.
type spinLock struct {
	state int32
}

func (s *spinLock) Lock() {
	for !atomic.CompareAndSwapInt32(&s.state, 0, 1) {
		runtime.Gosched()
	}
}

func (s *spinLock) Unlock() {
	atomic.StoreInt32(&s.state, 0)
}
