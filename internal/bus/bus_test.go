package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("conn.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindConnStateChanged, Timestamp: time.Now(), Payload: "test"})

	select {
	case evt := <-ch:
		if evt.Kind != KindConnStateChanged {
			t.Errorf("got kind %q, want %q", evt.Kind, KindConnStateChanged)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("chat.", 10)
	defer unsub()

	b.Emit(KindConnStateChanged, nil)
	b.Emit(KindChatMessage, nil)

	select {
	case evt := <-ch:
		if evt.Kind != KindChatMessage {
			t.Errorf("got kind %q, want %q", evt.Kind, KindChatMessage)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure the conn event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected: no more events.
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("chat.", 10)
	unsub()

	b.Emit(KindChatMessage, nil)

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
}

func TestOrderPreserved(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("chat.", 10)
	defer unsub()

	for i := 0; i < 5; i++ {
		b.Emit(KindChatMessage, i)
	}
	for i := 0; i < 5; i++ {
		select {
		case evt := <-ch:
			if evt.Payload.(int) != i {
				t.Fatalf("event %d delivered out of order: %v", i, evt.Payload)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for event")
		}
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("chat.", 1)
	defer unsub()

	// Fill buffer.
	b.Emit(KindChatMessage, "one")
	// This should be dropped (non-blocking).
	b.Emit(KindChatMessage, "two")

	evt := <-ch
	if evt.Payload != "one" {
		t.Errorf("got %v, want one", evt.Payload)
	}
}
