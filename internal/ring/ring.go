// Package ring implements the fixed-capacity byte ring that decouples the
// serial poll loop (single producer) from the network sender (single
// consumer).
//
// Both sides wait for a bounded interval at most: a writer facing a full ring
// either drops the newest bytes that do not fit once its timeout expires
// (DropNewest) or discards the oldest unread bytes right away (DropOldest).
// Either way the ring is lossy under sustained backpressure.
package ring

import (
	"errors"
	"sync"
	"time"
)

// Policy selects what a full ring gives up.
type Policy int

const (
	DropNewest Policy = iota
	DropOldest
)

// ErrTimeout reports that a write gave up waiting for space and stored only
// part of its input.
var ErrTimeout = errors.New("ring write timeout")

// Ring is a circular byte buffer. Writes must come from one goroutine and
// reads from one other goroutine.
type Ring struct {
	mu      sync.Mutex
	buf     []byte
	head    int // next read position
	n       int // unread bytes
	policy  Policy
	dropped uint64

	// Edge-triggered wakeups; capacity 1 so a signal is never lost while
	// the peer is between checks.
	dataCh  chan struct{}
	spaceCh chan struct{}
}

// New allocates a ring holding up to size bytes.
func New(size int, policy Policy) *Ring {
	if size <= 0 {
		size = 1
	}
	return &Ring{
		buf:     make([]byte, size),
		policy:  policy,
		dataCh:  make(chan struct{}, 1),
		spaceCh: make(chan struct{}, 1),
	}
}

// Len returns the number of unread bytes.
func (r *Ring) Len() int { r.mu.Lock(); defer r.mu.Unlock(); return r.n }

// Dropped returns the total number of bytes discarded so far.
func (r *Ring) Dropped() uint64 { r.mu.Lock(); defer r.mu.Unlock(); return r.dropped }

// Write stores p, waiting at most timeout for room under DropNewest. It
// returns how many bytes of p were stored; ErrTimeout means the rest of p
// was dropped. Under DropOldest Write never waits and always stores the
// newest bytes of p that fit in the ring.
func (r *Ring) Write(p []byte, timeout time.Duration) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if r.policy == DropOldest {
		return r.overwrite(p), nil
	}
	var timer *time.Timer
	for {
		r.mu.Lock()
		if len(r.buf)-r.n >= len(p) {
			r.put(p)
			r.mu.Unlock()
			signal(r.dataCh)
			return len(p), nil
		}
		r.mu.Unlock()
		if timer == nil {
			if timeout <= 0 {
				return r.writeWhatFits(p)
			}
			timer = time.NewTimer(timeout)
			defer timer.Stop()
		}
		select {
		case <-r.spaceCh:
		case <-timer.C:
			return r.writeWhatFits(p)
		}
	}
}

func (r *Ring) writeWhatFits(p []byte) (int, error) {
	r.mu.Lock()
	n := min(len(r.buf)-r.n, len(p))
	r.put(p[:n])
	r.dropped += uint64(len(p) - n)
	r.mu.Unlock()
	if n > 0 {
		signal(r.dataCh)
	}
	return n, ErrTimeout
}

func (r *Ring) overwrite(p []byte) int {
	r.mu.Lock()
	if len(p) > len(r.buf) {
		r.dropped += uint64(len(p) - len(r.buf))
		p = p[len(p)-len(r.buf):]
	}
	if over := len(p) - (len(r.buf) - r.n); over > 0 {
		r.head = (r.head + over) % len(r.buf)
		r.n -= over
		r.dropped += uint64(over)
	}
	r.put(p)
	r.mu.Unlock()
	signal(r.dataCh)
	return len(p)
}

// put copies p behind the unread bytes; caller holds mu and guarantees room.
func (r *Ring) put(p []byte) {
	tail := (r.head + r.n) % len(r.buf)
	c := copy(r.buf[tail:], p)
	if c < len(p) {
		copy(r.buf, p[c:])
	}
	r.n += len(p)
}

// Read moves up to len(p) unread bytes into p, waiting at most timeout for
// the first byte. An empty ring after the wait yields 0 and no error.
func (r *Ring) Read(p []byte, timeout time.Duration) int {
	if len(p) == 0 {
		return 0
	}
	var timer *time.Timer
	for {
		r.mu.Lock()
		if r.n > 0 {
			n := r.take(p)
			r.mu.Unlock()
			signal(r.spaceCh)
			return n
		}
		r.mu.Unlock()
		if timeout <= 0 {
			return 0
		}
		if timer == nil {
			timer = time.NewTimer(timeout)
			defer timer.Stop()
		}
		select {
		case <-r.dataCh:
		case <-timer.C:
			return 0
		}
	}
}

func (r *Ring) take(p []byte) int {
	n := min(len(p), r.n)
	first := min(n, len(r.buf)-r.head)
	copy(p, r.buf[r.head:r.head+first])
	copy(p[first:n], r.buf[:n-first])
	r.head = (r.head + n) % len(r.buf)
	r.n -= n
	return n
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
