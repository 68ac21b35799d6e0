package queue

import (
	"sync"
	"testing"
)

type outboxEvent struct {
	Seq  int
	Kind string
}

func TestQueue_PushPopOrder(t *testing.T) {
	q := New[outboxEvent]()

	if !q.Empty() {
		t.Error("new queue should be empty")
	}

	q.Push(outboxEvent{Seq: 1, Kind: "marker"})
	q.Push(outboxEvent{Seq: 2, Kind: "line"}, outboxEvent{Seq: 3, Kind: "view"})
	if q.Len() != 3 {
		t.Fatalf("expected length 3, got %d", q.Len())
	}

	for want := 1; want <= 3; want++ {
		got := q.Pop()
		if got.Seq != want {
			t.Errorf("expected seq %d, got %d", want, got.Seq)
		}
	}
	if !q.Empty() {
		t.Error("queue should be empty after popping everything")
	}
}

func TestQueue_PopEmptyReturnsZero(t *testing.T) {
	q := New[outboxEvent]()
	got := q.Pop()
	if got.Seq != 0 || got.Kind != "" {
		t.Errorf("expected zero value, got %+v", got)
	}
}

func TestQueue_Clear(t *testing.T) {
	q := New[outboxEvent]()
	q.Push(outboxEvent{Seq: 1}, outboxEvent{Seq: 2})

	q.Clear()
	if !q.Empty() || q.Len() != 0 {
		t.Error("queue should be empty after Clear")
	}
}

func TestQueue_GetAndEmpty(t *testing.T) {
	q := New[outboxEvent]()
	q.Push(outboxEvent{Seq: 1}, outboxEvent{Seq: 2}, outboxEvent{Seq: 3})

	drained := q.GetAndEmpty()
	if len(drained) != 3 {
		t.Fatalf("expected 3 items, got %d", len(drained))
	}
	for i, e := range drained {
		if e.Seq != i+1 {
			t.Errorf("item %d has seq %d", i, e.Seq)
		}
	}
	if !q.Empty() {
		t.Error("queue should be empty after GetAndEmpty")
	}
	if again := q.GetAndEmpty(); again != nil {
		t.Errorf("expected nil from an empty drain, got %v", again)
	}
}

func TestQueue_InterleavedPopReusesStorage(t *testing.T) {
	q := New[outboxEvent]()
	q.Push(outboxEvent{Seq: 1}, outboxEvent{Seq: 2})
	q.Pop()
	q.Push(outboxEvent{Seq: 3})

	if q.Len() != 2 {
		t.Fatalf("expected length 2, got %d", q.Len())
	}
	if got := q.Pop(); got.Seq != 2 {
		t.Errorf("expected seq 2, got %d", got.Seq)
	}
	if got := q.Pop(); got.Seq != 3 {
		t.Errorf("expected seq 3, got %d", got.Seq)
	}
}

func TestQueue_ConcurrentPushPop(t *testing.T) {
	q := New[outboxEvent]()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(seq int) {
			defer wg.Done()
			q.Push(outboxEvent{Seq: seq})
		}(i)
	}
	wg.Wait()

	if q.Len() != 100 {
		t.Fatalf("expected 100 items, got %d", q.Len())
	}

	seen := make(map[int]bool)
	for !q.Empty() {
		seen[q.Pop().Seq] = true
	}
	if len(seen) != 100 {
		t.Errorf("expected 100 distinct items, got %d", len(seen))
	}
}
