package eventbus

import (
	"testing"
	"time"
)

func TestPublishFanout(t *testing.T) {
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	done, unsubDone := b.Subscribe(4, TaskCompleted)
	defer unsubDone()

	b.Publish(Event{Type: TaskStarted, Data: TaskEvent{TaskID: "a"}})
	b.Publish(Event{Type: TaskCompleted, Data: TaskEvent{TaskID: "a"}})

	if e := <-all; e.Type != TaskStarted || e.Time.IsZero() {
		t.Fatalf("first event = %+v", e)
	}
	if e := <-all; e.Type != TaskCompleted {
		t.Fatalf("second event = %+v", e)
	}
	select {
	case e := <-done:
		if e.Data.(TaskEvent).TaskID != "a" {
			t.Fatalf("filtered event = %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("filtered subscriber got nothing")
	}
	select {
	case e := <-done:
		t.Fatalf("filtered subscriber got extra event %+v", e)
	default:
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	for i := 0; i < 3; i++ {
		b.Publish(Event{Type: TaskRetry})
	}
	if got := b.Dropped(); got != 2 {
		t.Fatalf("Dropped = %d, want 2", got)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	b.Publish(Event{Type: TaskFailed})
}
