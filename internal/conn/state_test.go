package conn

import (
	"testing"
	"time"

	"github.com/andrelcm/pigeon/internal/bus"
)

func TestMachineStartsDisconnected(t *testing.T) {
	m := NewMachine(nil)
	if got := m.Current(); got != Disconnected {
		t.Fatalf("initial state = %s, want %s", got, Disconnected)
	}
}

func TestMachineValidTransitions(t *testing.T) {
	m := NewMachine(nil)

	steps := []State{Connecting, Connected, Disconnected, Connecting, Failed, Connecting, Connected}
	for _, next := range steps {
		if err := m.Transition(next); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
		if got := m.Current(); got != next {
			t.Fatalf("current = %s, want %s", got, next)
		}
	}
}

func TestMachineInvalidTransitions(t *testing.T) {
	cases := []struct {
		from State
		to   State
	}{
		{Disconnected, Connected},
		{Disconnected, Failed},
		{Connected, Connecting},
		{Connecting, Connecting},
	}

	for _, tc := range cases {
		m := NewMachine(nil)
		m.current = tc.from
		if err := m.Transition(tc.to); err == nil {
			t.Errorf("transition %s -> %s succeeded, want error", tc.from, tc.to)
		}
		if got := m.Current(); got != tc.from {
			t.Errorf("state moved to %s after rejected transition", got)
		}
	}
}

func TestMachinePublishesStateChange(t *testing.T) {
	b := bus.New()
	events, cancel := b.Subscribe("conn.", 8)
	defer cancel()

	m := NewMachine(b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-events:
		if ev.Kind != bus.KindConnStateChanged {
			t.Fatalf("kind = %s, want %s", ev.Kind, bus.KindConnStateChanged)
		}
		chg, ok := ev.Payload.(StateChange)
		if !ok {
			t.Fatalf("payload type %T", ev.Payload)
		}
		if chg.From != Disconnected || chg.To != Connecting {
			t.Fatalf("change = %+v", chg)
		}
	case <-time.After(time.Second):
		t.Fatal("no state change event")
	}
}
