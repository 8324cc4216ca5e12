package ring

import (
	"errors"
	"testing"
)

func TestNewRejectsBadCapacity(t *testing.T) {
	if _, err := New[int](0, nil); !errors.Is(err, ErrInvalidCapacity) {
		t.Fatalf("expected ErrInvalidCapacity, got %v", err)
	}
}

func TestEnqueueDequeueFIFO(t *testing.T) {
	r, err := New[int](3, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !r.IsEmpty() || r.Len() != 0 {
		t.Fatal("expected empty ring")
	}
	for _, v := range []int{1, 2, 3} {
		if err := r.Enqueue(v); err != nil {
			t.Fatalf("enqueue %d: %v", v, err)
		}
	}
	if !r.IsFull() {
		t.Fatal("expected full ring")
	}
	if v, _ := r.Peek(); v != 1 {
		t.Fatalf("peek=%d, want 1", v)
	}
	for _, want := range []int{1, 2, 3} {
		v, err := r.Dequeue()
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if v != want {
			t.Fatalf("dequeue=%d, want %d", v, want)
		}
	}
	if !r.IsEmpty() {
		t.Fatal("expected empty ring after draining")
	}
}

func TestEnqueueFailsOnFull(t *testing.T) {
	r, _ := New[int](2, nil)
	r.Enqueue(1)
	r.Enqueue(2)
	if err := r.Enqueue(3); !errors.Is(err, ErrFull) {
		t.Fatalf("expected ErrFull, got %v", err)
	}
}

func TestDequeueFailsOnEmpty(t *testing.T) {
	r, _ := New[int](2, nil)
	if _, err := r.Dequeue(); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestWrapAroundPreservesOrder(t *testing.T) {
	r, _ := New[int](3, nil)
	r.Enqueue(1)
	r.Enqueue(2)
	r.Dequeue()
	r.Enqueue(3)
	r.Enqueue(4) // wraps past the slot freed by the first dequeue
	for _, want := range []int{2, 3, 4} {
		v, err := r.Dequeue()
		if err != nil {
			t.Fatal(err)
		}
		if v != want {
			t.Fatalf("got %d, want %d", v, want)
		}
	}
}

func TestClearInvokesDestructor(t *testing.T) {
	var destroyed []int
	r, _ := New[int](3, func(v int) { destroyed = append(destroyed, v) })
	r.Enqueue(1)
	r.Enqueue(2)
	r.Clear()
	if !r.IsEmpty() {
		t.Fatal("expected empty ring after Clear")
	}
	if len(destroyed) != 2 || destroyed[0] != 1 || destroyed[1] != 2 {
		t.Fatalf("destroyed=%v", destroyed)
	}
}

func TestResizeGrowsAndPreservesOrder(t *testing.T) {
	r, _ := New[int](2, nil)
	r.Enqueue(1)
	r.Enqueue(2)
	if err := r.Resize(4); err != nil {
		t.Fatal(err)
	}
	if r.Cap() != 4 || r.Len() != 2 {
		t.Fatalf("cap=%d len=%d", r.Cap(), r.Len())
	}
	r.Enqueue(3)
	for _, want := range []int{1, 2, 3} {
		v, _ := r.Dequeue()
		if v != want {
			t.Fatalf("got %d, want %d", v, want)
		}
	}
}

func TestResizeRejectsTooSmall(t *testing.T) {
	r, _ := New[int](4, nil)
	r.Enqueue(1)
	r.Enqueue(2)
	r.Enqueue(3)
	if err := r.Resize(2); !errors.Is(err, ErrInvalidCapacity) {
		t.Fatalf("expected ErrInvalidCapacity, got %v", err)
	}
}
