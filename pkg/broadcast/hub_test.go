package broadcast

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
)

func drainQueue(q *Queue) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-q.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestHub_PublishReachesOpenObservers(t *testing.T) {
	hub := NewHub()
	a, b := NewQueue(8), NewQueue(8)
	hub.Subscribe(a)
	hub.Subscribe(b)

	hub.Publish(Progress(10))
	hub.Publish(Done())

	for name, q := range map[string]*Queue{"a": a, "b": b} {
		got := drainQueue(q)
		if len(got) != 2 || got[0].Type != EventProgress || got[1].Type != EventDone {
			t.Errorf("observer %s got %+v", name, got)
		}
	}
}

func TestHub_NoReplayForLateJoiners(t *testing.T) {
	hub := NewHub()
	early := NewQueue(8)
	unsubscribe := hub.Subscribe(early)

	hub.Publish(Progress(50))
	unsubscribe()
	early.Close()
	hub.Publish(Done())

	late := NewQueue(8)
	hub.Subscribe(late)
	hub.Publish(Progress(1))

	if got := drainQueue(early); len(got) != 1 {
		t.Errorf("disconnected observer should stop receiving, got %+v", got)
	}
	got := drainQueue(late)
	if len(got) != 1 || got[0].Type != EventProgress || *got[0].Progress != 1 {
		t.Errorf("late observer should only see events after it joined, got %+v", got)
	}
}

func TestHub_DeliveryToClosedObserverIsNoop(t *testing.T) {
	hub := NewHub()
	q := NewQueue(1)
	hub.Subscribe(q)
	q.Close()

	// must not panic on a closed channel
	hub.Publish(Error("Failed to write OS image"))

	if hub.Count() != 1 {
		t.Error("closed observers are pruned by their own disconnect, not by Publish")
	}
}

func TestQueue_DropsWhenFull(t *testing.T) {
	q := NewQueue(2)
	for i := 0; i < 5; i++ {
		q.Deliver(Progress(i))
	}
	if got := drainQueue(q); len(got) != 2 {
		t.Errorf("expected buffer of 2 events, got %d", len(got))
	}
}

func TestHub_ConcurrentSubscribeAndPublish(t *testing.T) {
	hub := NewHub()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			q := NewQueue(4)
			unsubscribe := hub.Subscribe(q)
			unsubscribe()
			unsubscribe()
			q.Close()
		}()
		go func(i int) {
			defer wg.Done()
			hub.Publish(Progress(i))
		}(i)
	}
	wg.Wait()

	if hub.Count() != 0 {
		t.Errorf("expected all observers removed, %d left", hub.Count())
	}
}

func TestEvent_JSON(t *testing.T) {
	tests := []struct {
		ev   Event
		want string
	}{
		{Progress(0), `{"type":"progress","progress":0}`},
		{Progress(55), `{"type":"progress","progress":55}`},
		{Done(), `{"type":"done"}`},
		{Error("Failed to write OS image"), `{"type":"error","message":"Failed to write OS image"}`},
	}

	for _, tt := range tests {
		b, err := json.Marshal(tt.ev)
		if err != nil {
			t.Fatal(err)
		}
		if string(b) != tt.want {
			t.Errorf("%s: got %s, want %s", fmt.Sprint(tt.ev.Type), b, tt.want)
		}
	}
}
