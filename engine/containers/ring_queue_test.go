package containers

import (
	"errors"
	"testing"
)

func TestRingQueueFIFO(t *testing.T) {
	rq := NewRingQueue[int](2)
	for i := 0; i < 5; i++ {
		rq.Enqueue(i)
	}
	if rq.Len() != 5 {
		t.Fatalf("expected 5 elements, got %d", rq.Len())
	}
	for i := 0; i < 5; i++ {
		v, err := rq.Dequeue()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v != i {
			t.Errorf("expected %d, got %d", i, v)
		}
	}
	if _, err := rq.Dequeue(); !errors.Is(err, ErrQueueEmpty) {
		t.Errorf("expected ErrQueueEmpty, got %v", err)
	}
}

func TestRingQueueGrowsAfterWrapping(t *testing.T) {
	rq := NewRingQueue[string](3)
	rq.Enqueue("a")
	rq.Enqueue("b")
	rq.Dequeue()
	rq.Enqueue("c")
	rq.Enqueue("d")
	// full and wrapped, this forces a grow
	rq.Enqueue("e")

	var got []string
	rq.Each(func(s string) { got = append(got, s) })
	want := []string{"b", "c", "d", "e"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %s at %d, got %s", want[i], i, got[i])
		}
		if rq.At(i) != want[i] {
			t.Errorf("expected At(%d) = %s, got %s", i, want[i], rq.At(i))
		}
	}
	front, err := rq.Peek()
	if err != nil || front != "b" {
		t.Errorf("expected peek b, got %s (%v)", front, err)
	}
}
