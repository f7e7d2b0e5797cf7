package events

import (
	"context"
	"testing"
	"time"
)

func TestBroker_FanOut(t *testing.T) {
	b := NewBroker(4)
	a, cancelA := b.Subscribe()
	c, cancelC := b.Subscribe()
	defer cancelA()
	defer cancelC()

	b.Publish(context.Background(), Event{Type: AssignmentCreated, ChatID: "c1"})

	for i, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.ChatID != "c1" {
				t.Errorf("sub %d: ChatID = %q", i, e.ChatID)
			}
		case <-time.After(time.Second):
			t.Fatalf("sub %d: no event", i)
		}
	}
}

func TestBroker_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewBroker(1)
	ch, cancel := b.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(context.Background(), Event{Type: MessageAppended})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if len(ch) != 1 {
		t.Errorf("buffered = %d, want 1", len(ch))
	}
}

func TestBroker_CancelClosesChannel(t *testing.T) {
	b := NewBroker(1)
	ch, cancel := b.Subscribe()
	cancel()
	cancel() // idempotent
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}
	b.Publish(context.Background(), Event{Type: ChatOpened})
}

func TestBroker_Close(t *testing.T) {
	b := NewBroker(1)
	ch, cancel := b.Subscribe()
	defer cancel()
	b.Close()
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Close")
	}
	late, _ := b.Subscribe()
	if _, ok := <-late; ok {
		t.Error("subscribing to a closed broker should yield a closed channel")
	}
}

func TestMultiAndRecorder(t *testing.T) {
	r1, r2 := &Recorder{}, &Recorder{}
	m := Multi{r1, nil, r2}
	m.Publish(context.Background(), Event{Type: ChatEscalated, ChatID: "c9"})

	for _, r := range []*Recorder{r1, r2} {
		if got := r.OfType(ChatEscalated); len(got) != 1 || got[0].ChatID != "c9" {
			t.Errorf("recorded = %+v", r.Events())
		}
	}
}

func TestOr(t *testing.T) {
	if Or(nil) != Discard {
		t.Error("Or(nil) should be Discard")
	}
	r := &Recorder{}
	if Or(r) != Publisher(r) {
		t.Error("Or(r) should be r")
	}
}
