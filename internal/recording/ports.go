package recording

import "sync"

// portAllocator hands out RTP/RTCP port pairs from a fixed base.
// Released pairs go onto a free list and are reused before the range
// grows, so a long-running server does not walk off the top of the
// ephemeral range.
type portAllocator struct {
	mu   sync.Mutex
	next uint16
	free []uint16
}

func newPortAllocator(base uint16) *portAllocator {
	return &portAllocator{next: base}
}

// Get returns an (rtp, rtcp) pair. rtcp is always rtp+1.
func (a *portAllocator) Get() (rtp, rtcp uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n := len(a.free); n > 0 {
		rtp = a.free[n-1]
		a.free = a.free[:n-1]
		return rtp, rtp + 1
	}
	rtp = a.next
	a.next += 2
	return rtp, rtp + 1
}

// Put returns a pair to the free list, identified by its rtp port.
func (a *portAllocator) Put(rtp uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.free = append(a.free, rtp)
}
