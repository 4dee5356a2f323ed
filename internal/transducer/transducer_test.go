package transducer

import "testing"

func TestEnqueueDrainDispatchesInOrder(t *testing.T) {
	q := New()
	var dispatched []string

	for _, msg := range []string{"a", "b", "c"} {
		m := msg
		q.Enqueue(Item{
			SessionID: 1,
			Message:   m,
			Dispatch:  func(rpcID int16, msg any) { dispatched = append(dispatched, msg.(string)) },
		})
	}

	if q.Len() != 3 {
		t.Fatalf("expected queue length 3, got %d", q.Len())
	}

	n := q.Drain(0)
	if n != 3 {
		t.Fatalf("expected 3 items drained, got %d", n)
	}
	if q.Len() != 0 {
		t.Fatalf("expected queue empty after drain, got %d", q.Len())
	}

	want := []string{"a", "b", "c"}
	for i, w := range want {
		if dispatched[i] != w {
			t.Errorf("index %d: expected %q, got %q", i, w, dispatched[i])
		}
	}
}

func TestDrainRespectsMaxItems(t *testing.T) {
	q := New()
	count := 0
	for i := 0; i < 5; i++ {
		q.Enqueue(Item{Dispatch: func(rpcID int16, msg any) { count++ }})
	}

	n := q.Drain(2)
	if n != 2 {
		t.Fatalf("expected 2 items drained, got %d", n)
	}
	if count != 2 {
		t.Fatalf("expected 2 dispatches, got %d", count)
	}
	if q.Len() != 3 {
		t.Fatalf("expected 3 items remaining, got %d", q.Len())
	}
}

func TestDrainEmptyQueueReturnsZero(t *testing.T) {
	q := New()
	if n := q.Drain(0); n != 0 {
		t.Fatalf("expected 0, got %d", n)
	}
}
