package events

import "testing"

func TestBus_PublishDeliversToSubscriber(t *testing.T) {
	b := NewBus()
	ch := make(chan Event, 1)
	b.Subscribe(ch)

	b.Info("file_imported", "proj", "/a/b.jsonl", "imported 3 chunks")

	select {
	case e := <-ch:
		if e.Type != "file_imported" || e.Project != "proj" {
			t.Errorf("unexpected event: %+v", e)
		}
	default:
		t.Fatal("expected event to be delivered")
	}
}

func TestBus_PublishNeverBlocksOnFullSubscriber(t *testing.T) {
	b := NewBus()
	ch := make(chan Event) // unbuffered, no reader
	b.Subscribe(ch)

	done := make(chan struct{})
	go func() {
		b.Publish(Event{Type: "x"})
		close(done)
	}()
	select {
	case <-done:
	default:
	}
	// Publish must return even though nothing drains ch.
	<-done
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	ch := make(chan Event, 1)
	b.Subscribe(ch)
	b.Unsubscribe(ch)

	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after Unsubscribe")
	}
}
