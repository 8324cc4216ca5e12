// Package executor implements a bounded worker pool: a fixed set of
// goroutines dispatching (fn, arg) tasks through a single shared ring-
// buffer queue, with graceful or immediate shutdown. Every submission
// reserves one accounting slot from a pool.Pool and releases it once the
// task completes, mirroring the original thread pool's use of its paired
// memory pool for task-record storage.
//
// Go's garbage collector cannot scan pointers living inside the
// allocator's mmap'd regions, so the task record itself — a closure plus
// an opaque interface argument, both GC-managed values — stays an
// ordinary heap object; only its memory-accounting footprint is reserved
// and released through the pool, via AllocFixed/FreeFixed on a
// representative fixed-size slot. See DESIGN.md.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sync/errgroup"

	"github.com/orizon-lang/memexec/internal/pool"
	"github.com/orizon-lang/memexec/internal/ring"
)

// Sentinel errors mirror the original API surface's SHUTDOWN, QUEUE_FULL,
// THREAD_FAILURE and INVALID result codes. There is no counterpart to
// LOCK_FAILURE or MEMORY_ERROR.
var (
	ErrShutdown      = errors.New("executor: shut down")
	ErrQueueFull     = errors.New("executor: queue full")
	ErrInvalidArg    = errors.New("executor: invalid argument")
	ErrThreadFailure = errors.New("executor: worker group reported a failure")
)

// ShutdownFlags selects between graceful and immediate shutdown.
type ShutdownFlags int

const (
	// Graceful waits for the queue to drain and every in-flight task to
	// finish before returning.
	Graceful ShutdownFlags = 1 << iota
	// Immediate stops dequeueing; queued tasks are dropped and their
	// records released, in-flight tasks are allowed to finish naturally.
	Immediate
)

const (
	defaultThreadCount = 4
	defaultQueueCap    = 1024
	// recordSlotSize is the representative size of a task-record
	// accounting slot reserved from the pool per submission.
	recordSlotSize = unsafe.Sizeof(struct {
		fn  uintptr
		arg uintptr
	}{})
)

// taskRecord is the small record produced on submission, consumed by a
// worker, and released. Records have no identity beyond queue position.
type taskRecord struct {
	fn   func(any)
	arg  any
	slot uintptr // accounting handle into the pool, 0 if none was reserved
}

// state is the executor's lifecycle: RUNNING -> DRAINING (graceful) or
// CANCELLING (immediate) -> STOPPED. Terminal state rejects Submit and a
// second Shutdown.
type state int

const (
	stateRunning state = iota
	stateDraining
	stateCancelling
	stateStopped
)

// recordCache is the subset of *pool.Pool the executor depends on for
// task-record accounting, mirrored as an interface so the executor
// depends on a behavior, not a concrete allocator type — the same
// shape internal/io/threading.go's ThreadManager used for its
// allocator.Allocator dependency.
type recordCache interface {
	AllocFixed(n uintptr) (uintptr, error)
	FreeFixed(ptr uintptr) error
}

// Executor dispatches opaque tasks across a fixed goroutine set through a
// single shared ring-buffer queue.
type Executor struct {
	mu      sync.Mutex
	notify  *sync.Cond
	empty   *sync.Cond
	queue   *ring.Ring[*taskRecord]
	bounded bool

	pool   recordCache
	active int
	st     state
	group  *errgroup.Group
}

// New launches threadCount workers (threadCount <= 0 defaults to 4)
// dispatching through a ring FIFO of capacity exactly queueSize when
// queueSize > 0 (bounded), or an initially-1024, doubling-on-demand ring
// when queueSize == 0 (unbounded). p caches task-record accounting; nil is
// valid and every record is then purely heap-allocated.
func New(threadCount, queueSize int, p *pool.Pool) (*Executor, error) {
	if threadCount <= 0 {
		threadCount = defaultThreadCount
	}
	// queueSize == 0 means unbounded: start at defaultQueueCap and double
	// on demand. A bounded queue keeps exactly the capacity requested —
	// see the "Executor full" scenario, which requires queue=2 to behave
	// as bounded at 2, not floored up to defaultQueueCap.
	bounded := queueSize != 0
	capacity := queueSize
	if !bounded {
		capacity = defaultQueueCap
	}

	q, err := ring.New[*taskRecord](capacity, nil)
	if err != nil {
		return nil, fmt.Errorf("executor: %w", err)
	}

	e := &Executor{
		queue:   q,
		bounded: bounded,
		st:      stateRunning,
	}
	// p is a concrete *pool.Pool; assigning a nil one straight into the
	// recordCache interface field would produce a non-nil interface
	// wrapping a nil pointer, breaking the `e.pool == nil` fallback
	// checks in newRecord/releaseRecord.
	if p != nil {
		e.pool = p
	}
	e.notify = sync.NewCond(&e.mu)
	e.empty = sync.NewCond(&e.mu)

	g, _ := errgroup.WithContext(context.Background())
	e.group = g
	for i := 0; i < threadCount; i++ {
		g.Go(func() error {
			e.workerLoop()
			return nil
		})
	}
	return e, nil
}

// Submit enqueues fn(arg) for a worker to run. It fails with ErrShutdown
// once shutdown has begun, or ErrQueueFull if the queue is bounded and at
// capacity. An unbounded queue doubles its capacity instead of failing.
func (e *Executor) Submit(fn func(any), arg any) error {
	if fn == nil {
		return ErrInvalidArg
	}

	// Reserved/released outside e.mu: lock ordering is executor ≻ pool,
	// so the executor must never hold its own mutex while calling into
	// the pool (see the concurrency model notes).
	rec := e.newRecord(fn, arg)

	e.mu.Lock()
	if e.st != stateRunning {
		e.mu.Unlock()
		e.releaseRecord(rec)
		return ErrShutdown
	}
	if e.queue.IsFull() {
		if e.bounded {
			e.mu.Unlock()
			e.releaseRecord(rec)
			return ErrQueueFull
		}
		if err := e.queue.Resize(e.queue.Cap() * 2); err != nil {
			e.mu.Unlock()
			e.releaseRecord(rec)
			return fmt.Errorf("executor: grow queue: %w", err)
		}
	}
	if err := e.queue.Enqueue(rec); err != nil {
		e.mu.Unlock()
		e.releaseRecord(rec)
		return fmt.Errorf("executor: %w", err)
	}
	e.notify.Signal()
	e.mu.Unlock()
	return nil
}

// newRecord reserves an accounting slot from the pool (falling through to
// a bare heap record if the pool is nil or has no room) and returns the
// ordinary heap-allocated record that actually carries fn/arg.
func (e *Executor) newRecord(fn func(any), arg any) *taskRecord {
	rec := &taskRecord{fn: fn, arg: arg}
	if e.pool == nil {
		return rec
	}
	if slot, err := e.pool.AllocFixed(recordSlotSize); err == nil {
		rec.slot = slot
	}
	return rec
}

// releaseRecord returns rec's accounting slot to the pool, if one was
// reserved.
func (e *Executor) releaseRecord(rec *taskRecord) {
	if e.pool == nil || rec.slot == 0 {
		return
	}
	_ = e.pool.FreeFixed(rec.slot)
	rec.slot = 0
}

// Shutdown stops the executor. Graceful waits for the queue to drain and
// every in-flight task to finish; Immediate stops dequeueing and drops
// whatever remains queued. A second call returns ErrShutdown.
func (e *Executor) Shutdown(flags ShutdownFlags) error {
	e.mu.Lock()
	if e.st != stateRunning {
		e.mu.Unlock()
		return ErrShutdown
	}
	if flags&Immediate != 0 {
		e.st = stateCancelling
	} else {
		e.st = stateDraining
	}
	e.notify.Broadcast()

	if e.st == stateDraining {
		for e.queue.Len() > 0 || e.active > 0 {
			e.empty.Wait()
		}
	}
	e.mu.Unlock()

	groupErr := e.group.Wait()

	e.mu.Lock()
	e.st = stateStopped
	var leftover []*taskRecord
	for e.queue.Len() > 0 {
		rec, derr := e.queue.Dequeue()
		if derr != nil {
			break
		}
		leftover = append(leftover, rec)
	}
	e.mu.Unlock()

	for _, rec := range leftover {
		e.releaseRecord(rec)
	}

	if groupErr != nil {
		return fmt.Errorf("%w: %v", ErrThreadFailure, groupErr)
	}
	return nil
}

func (e *Executor) workerLoop() {
	for {
		e.mu.Lock()
		for e.queue.Len() == 0 && e.st == stateRunning {
			e.notify.Wait()
		}
		if e.st != stateRunning && (e.st == stateCancelling || e.queue.Len() == 0) {
			e.mu.Unlock()
			return
		}
		rec, err := e.queue.Dequeue()
		if err != nil {
			e.mu.Unlock()
			continue
		}
		e.active++
		e.mu.Unlock()

		e.invoke(rec)

		e.mu.Lock()
		e.active--
		if e.st == stateDraining && e.queue.Len() == 0 && e.active == 0 {
			e.empty.Broadcast()
		}
		e.mu.Unlock()
	}
}

// invoke runs the task under a recover so a panicking task cannot take
// down a worker goroutine — there is no analogue to this in the original
// C thread pool, since C has no panic/recover; it is the idiomatic Go
// equivalent of "a crashing task must not corrupt pool state."
func (e *Executor) invoke(rec *taskRecord) {
	defer func() {
		recover()
		e.releaseRecord(rec)
	}()
	rec.fn(rec.arg)
}

// ActiveCount reports the number of tasks currently executing.
func (e *Executor) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// QueueLen reports the number of tasks currently queued.
func (e *Executor) QueueLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.Len()
}
