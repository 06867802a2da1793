package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/andrelcm/pigeon/internal/bus"
	"github.com/andrelcm/pigeon/internal/conn"
	"github.com/andrelcm/pigeon/internal/stomp"
	"github.com/andrelcm/pigeon/internal/wire"
	"go.uber.org/zap"
)

type fakeTransport struct {
	frames chan stomp.Frame
	closed chan error

	mu   sync.Mutex
	subs map[string]string
	next int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		frames: make(chan stomp.Frame, 16),
		closed: make(chan error, 1),
		subs:   make(map[string]string),
	}
}

func (t *fakeTransport) Subscribe(destination string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	id := fmt.Sprintf("sub-%d", t.next)
	t.subs[destination] = id
	return id, nil
}

func (t *fakeTransport) Unsubscribe(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for dest, held := range t.subs {
		if held == id {
			delete(t.subs, dest)
		}
	}
	return nil
}

func (t *fakeTransport) Send(string, []byte) error  { return nil }
func (t *fakeTransport) Frames() <-chan stomp.Frame { return t.frames }
func (t *fakeTransport) Closed() <-chan error       { return t.closed }
func (t *fakeTransport) Close() error               { return nil }

func (t *fakeTransport) subscribed() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]string, len(t.subs))
	for k, v := range t.subs {
		out[k] = v
	}
	return out
}

func (t *fakeTransport) subscribeCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.next
}

// scriptedDialer hands out pre-arranged transports in order.
type scriptedDialer struct {
	mu         sync.Mutex
	transports []*fakeTransport
}

func (d *scriptedDialer) Dial(ctx context.Context, credential string) (conn.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil, errors.New("no transport scripted")
	}
	t := d.transports[0]
	d.transports = d.transports[1:]
	return t, nil
}

// fakeClock fires every armed backoff timer immediately.
func fakeClock(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func newConnected(t *testing.T, transports ...*fakeTransport) (*conn.Manager, *Registry) {
	t.Helper()
	d := &scriptedDialer{transports: transports}
	m := conn.NewManager(d, bus.New(), zap.NewNop(), conn.WithAfter(fakeClock))
	r := New(m, zap.NewNop())
	if err := m.Connect(context.Background(), "token"); err != nil {
		t.Fatal(err)
	}
	return m, r
}

func TestSubscribeIdempotent(t *testing.T) {
	tr := newFakeTransport()
	_, r := newConnected(t, tr)

	dest := wire.TopicMessages("general")
	for i := 0; i < 3; i++ {
		if err := r.Subscribe(context.Background(), dest); err != nil {
			t.Fatal(err)
		}
	}

	if got := tr.subscribeCalls(); got != 1 {
		t.Fatalf("transport SUBSCRIBE count = %d, want 1", got)
	}
	if !r.Active(dest) {
		t.Fatal("destination not active")
	}
}

func TestUnsubscribe(t *testing.T) {
	tr := newFakeTransport()
	_, r := newConnected(t, tr)

	dest := wire.TopicMessages("general")
	if err := r.Subscribe(context.Background(), dest); err != nil {
		t.Fatal(err)
	}
	if err := r.Unsubscribe(dest); err != nil {
		t.Fatal(err)
	}

	if r.Active(dest) {
		t.Fatal("destination still active")
	}
	if got := len(tr.subscribed()); got != 0 {
		t.Fatalf("transport subscriptions = %d, want 0", got)
	}

	// Unknown destination is a no-op.
	if err := r.Unsubscribe("/topic/messages/nope"); err != nil {
		t.Fatal(err)
	}
}

func TestRestoreAfterReconnect(t *testing.T) {
	t1 := newFakeTransport()
	t2 := newFakeTransport()
	m, r := newConnected(t, t1, t2)

	dests := []string{
		wire.TopicMessages("general"),
		wire.QueuePrivate,
		wire.QueueChats,
	}
	for _, dest := range dests {
		if err := r.Subscribe(context.Background(), dest); err != nil {
			t.Fatal(err)
		}
	}

	t1.closed <- errors.New("connection reset")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.State() == conn.Connected && len(t2.subscribed()) == len(dests) {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	got := t2.subscribed()
	for _, dest := range dests {
		if _, ok := got[dest]; !ok {
			t.Errorf("destination %s not restored", dest)
		}
	}
	if len(r.Destinations()) != len(dests) {
		t.Fatalf("held destinations = %v", r.Destinations())
	}
}

func TestDisconnectClearsSubscriptions(t *testing.T) {
	tr := newFakeTransport()
	m, r := newConnected(t, tr)

	if err := r.Subscribe(context.Background(), wire.QueuePrivate); err != nil {
		t.Fatal(err)
	}
	m.Disconnect()

	if r.Active(wire.QueuePrivate) {
		t.Fatal("subscription survived explicit disconnect")
	}
	if got := len(r.Destinations()); got != 0 {
		t.Fatalf("held destinations = %d, want 0", got)
	}
}
