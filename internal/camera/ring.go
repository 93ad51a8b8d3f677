package camera

import (
	"sync"
	"time"
)

const DefaultRingCapacity = 300

// Ring is a fixed-capacity frame buffer for one camera. Oldest frames are
// evicted FIFO; sequence numbers are strictly increasing.
type Ring struct {
	mu       sync.Mutex
	cond     *sync.Cond
	frames   []*Frame
	head     int // index of next write
	count    int
	capacity int
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	r := &Ring{
		frames:   make([]*Frame, capacity),
		capacity: capacity,
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Push appends a frame, evicting the oldest when full.
func (r *Ring) Push(f *Frame) {
	r.mu.Lock()
	r.frames[r.head] = f
	r.head = (r.head + 1) % r.capacity
	if r.count < r.capacity {
		r.count++
	}
	r.mu.Unlock()
	r.cond.Broadcast()
}

// Latest returns the most recent frame, or nil if none has been pushed.
func (r *Ring) Latest() *Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latestLocked()
}

func (r *Ring) latestLocked() *Frame {
	if r.count == 0 {
		return nil
	}
	idx := (r.head - 1 + r.capacity) % r.capacity
	return r.frames[idx]
}

// WaitForNew blocks until a frame with Seq > since is available, the timeout
// elapses, or the ring sees no producers. Returns nil on timeout.
func (r *Ring) WaitForNew(since uint64, timeout time.Duration) *Frame {
	deadline := time.Now().Add(timeout)

	// Wake waiters periodically so timeouts fire without a dedicated timer
	// per caller.
	stop := make(chan struct{})
	go func() {
		t := time.NewTicker(50 * time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				r.cond.Broadcast()
			}
		}
	}()
	defer close(stop)

	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		if f := r.latestLocked(); f != nil && f.Seq > since {
			return f
		}
		if !time.Now().Before(deadline) {
			return nil
		}
		r.cond.Wait()
	}
}

// Sampled returns up to n frames evenly spaced by sequence, oldest first.
func (r *Ring) Sampled(n int) []*Frame {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n <= 0 || r.count == 0 {
		return nil
	}
	if n > r.count {
		n = r.count
	}
	out := make([]*Frame, 0, n)
	oldest := (r.head - r.count + r.capacity) % r.capacity
	for i := 0; i < n; i++ {
		// Even spacing across the retained window.
		off := i * (r.count - 1) / max(n-1, 1)
		if n == 1 {
			off = r.count - 1
		}
		out = append(out, r.frames[(oldest+off)%r.capacity])
	}
	return out
}

// Len returns the number of retained frames.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
