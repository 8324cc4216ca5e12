package executor

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/orizon-lang/memexec/internal/pool"
)

func TestGracefulShutdownCompletesEverySubmittedTask(t *testing.T) {
	p, err := pool.New(1 << 16)
	if err != nil {
		t.Fatal(err)
	}
	e, err := New(4, 10, p)
	if err != nil {
		t.Fatal(err)
	}

	const n = 30
	var completed [n]int32
	for i := 0; i < n; i++ {
		i := i
		task := func(any) {
			time.Sleep(time.Millisecond)
			atomic.StoreInt32(&completed[i], 1)
		}
		// The queue is bounded at 10: a submission made while 10 tasks are
		// pending is rejected, so wait for the workers to make room.
		err := e.Submit(task, nil)
		for errors.Is(err, ErrQueueFull) {
			time.Sleep(time.Millisecond)
			err = e.Submit(task, nil)
		}
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	if err := e.Shutdown(Graceful); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	for i := 0; i < n; i++ {
		if atomic.LoadInt32(&completed[i]) != 1 {
			t.Fatalf("task %d did not complete", i)
		}
	}
}

func TestBoundedQueueRejectsWhenFull(t *testing.T) {
	e, err := New(1, 2, nil)
	if err != nil {
		t.Fatal(err)
	}

	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(1)

	if err := e.Submit(func(any) {
		started.Done()
		<-release
	}, nil); err != nil {
		t.Fatal(err)
	}
	started.Wait() // ensure the single worker is blocked inside the first task

	if err := e.Submit(func(any) {}, nil); err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if err := e.Submit(func(any) {}, nil); err != nil {
		t.Fatalf("third submit: %v", err)
	}
	err = e.Submit(func(any) {}, nil)
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	close(release)
	if err := e.Shutdown(Graceful); err != nil {
		t.Fatal(err)
	}
}

func TestSubmitAfterShutdownFails(t *testing.T) {
	e, err := New(2, 4, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Shutdown(Graceful); err != nil {
		t.Fatal(err)
	}
	if err := e.Submit(func(any) {}, nil); !errors.Is(err, ErrShutdown) {
		t.Fatalf("expected ErrShutdown, got %v", err)
	}
	if err := e.Shutdown(Graceful); !errors.Is(err, ErrShutdown) {
		t.Fatalf("expected second Shutdown to report ErrShutdown, got %v", err)
	}
}

func TestImmediateShutdownDropsQueuedTasks(t *testing.T) {
	e, err := New(1, 0, nil)
	if err != nil {
		t.Fatal(err)
	}

	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(1)
	if err := e.Submit(func(any) {
		started.Done()
		<-release
	}, nil); err != nil {
		t.Fatal(err)
	}
	started.Wait()

	var ran int32
	for i := 0; i < 5; i++ {
		if err := e.Submit(func(any) { atomic.AddInt32(&ran, 1) }, nil); err != nil {
			t.Fatal(err)
		}
	}

	// Shutdown(Immediate) blocks in group.Wait() until the in-flight task
	// returns, so release it from a goroutine after shutdown has already
	// flipped the state to cancelling — that is what guarantees the 5
	// queued tasks are dropped rather than raced against the worker loop.
	go func() {
		time.Sleep(10 * time.Millisecond)
		close(release)
	}()
	if err := e.Shutdown(Immediate); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&ran) != 0 {
		t.Fatalf("expected immediate shutdown to drop every queued task, ran=%d", ran)
	}
}

func TestPanickingTaskDoesNotKillWorker(t *testing.T) {
	e, err := New(1, 4, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Submit(func(any) { panic("boom") }, nil); err != nil {
		t.Fatal(err)
	}
	var ran int32
	if err := e.Submit(func(any) { atomic.StoreInt32(&ran, 1) }, nil); err != nil {
		t.Fatal(err)
	}
	if err := e.Shutdown(Graceful); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&ran) != 1 {
		t.Fatal("expected the worker to survive the panic and run the next task")
	}
}
