package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrQueueFull is returned by QueueWork when the backlog is at capacity.
	ErrQueueFull = errors.New("work queue full")
	// ErrQueueClosed is returned by QueueWork after Close.
	ErrQueueClosed = errors.New("work queue closed")
)

// WorkQueue is the transport's own execution context: queued units run one
// at a time, in order, on a single worker goroutine. Everything that writes
// to a client connection goes through it, so at most one write is ever in
// flight.
//
// QueueWork never blocks. When the backlog is full the unit is rejected
// with ErrQueueFull (after invoking OnDrop) so producers such as the serial
// poll loop are not held up by a slow network.
//
//	q := NewWorkQueue(ctx, 16, hooks)
//	q.QueueWork(fn)
//	q.Close()
type WorkQueue struct {
	mu     sync.Mutex
	ch     chan func()
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	hooks  Hooks
	closed atomic.Bool // set when Close is called; prevents enqueue after shutdown
}

// Hooks customize WorkQueue behavior.
type Hooks struct {
	// OnDrop is called when the backlog is full and a unit is rejected.
	OnDrop func()
	// OnPanic is called if a unit panics; the worker keeps running.
	OnPanic func(any)
}

// NewWorkQueue starts the worker with a backlog of buf units.
func NewWorkQueue(parent context.Context, buf int, hooks Hooks) *WorkQueue {
	if buf <= 0 {
		buf = 1
	}
	ctx, cancel := context.WithCancel(parent)
	q := &WorkQueue{
		ch:     make(chan func(), buf),
		ctx:    ctx,
		cancel: cancel,
		hooks:  hooks,
	}
	q.wg.Add(1)
	go q.loop()
	return q
}

func (q *WorkQueue) loop() {
	defer q.wg.Done()
	for {
		select {
		case fn, ok := <-q.ch:
			if !ok { // channel closed
				return
			}
			q.run(fn)
		case <-q.ctx.Done():
			return
		}
	}
}

func (q *WorkQueue) run(fn func()) {
	defer func() {
		if r := recover(); r != nil && q.hooks.OnPanic != nil {
			q.hooks.OnPanic(r)
		}
	}()
	fn()
}

// QueueWork schedules fn on the worker or returns ErrQueueFull / ErrQueueClosed.
func (q *WorkQueue) QueueWork(fn func()) error {
	// Fast-path check so steady-state calls avoid taking the lock when already shut down.
	if q.closed.Load() {
		return ErrQueueClosed
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed.Load() {
		return ErrQueueClosed
	}
	select {
	case q.ch <- fn:
		return nil
	default:
		if q.hooks.OnDrop != nil {
			q.hooks.OnDrop()
		}
		return ErrQueueFull
	}
}

// Close stops the worker and waits for the running unit to finish. Units
// still queued are discarded.
func (q *WorkQueue) Close() {
	if q.closed.Swap(true) { // already closed
		return
	}
	// Cancel context to stop loop, then close channel under the lock to avoid races.
	q.cancel()
	q.mu.Lock()
	close(q.ch)
	q.mu.Unlock()
	q.wg.Wait()
}
