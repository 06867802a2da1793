// Package conn owns the single persistent broker connection: the
// connect/disconnect lifecycle, single-flight connection attempts, and
// capped exponential-backoff reconnection. Consumers never see the
// underlying transport churn; they wait on readiness and read from a
// frame channel that survives reconnects.
package conn

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/andrelcm/pigeon/internal/bus"
	"github.com/andrelcm/pigeon/internal/stomp"
	"go.uber.org/zap"
)

// ErrAuthFailed marks a fatal authentication failure. Dialers wrap
// their credential-rejection errors with it; the manager does not
// schedule reconnection for it.
var ErrAuthFailed = errors.New("authentication failed")

// ErrDisconnected resolves connect waiters when Disconnect is called
// while their attempt is still in flight.
var ErrDisconnected = errors.New("connection torn down")

const (
	baseReconnectDelay = 3 * time.Second
	maxReconnectDelay  = 30 * time.Second
)

// Transport is one live connection to the broker.
type Transport interface {
	Subscribe(destination string) (id string, err error)
	Unsubscribe(id string) error
	Send(destination string, body []byte) error
	Frames() <-chan stomp.Frame
	Closed() <-chan error
	Close() error
}

// Dialer opens a transport, performing the authentication handshake
// with the credential.
type Dialer interface {
	Dial(ctx context.Context, credential string) (Transport, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, credential string) (Transport, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, credential string) (Transport, error) {
	return f(ctx, credential)
}

// attempt is one in-flight connection attempt. All concurrent Connect
// callers resolve from the same attempt.
type attempt struct {
	done chan struct{}
	err  error
}

func (a *attempt) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done:
		return a.err
	}
}

// Manager owns the connection. At most one physical transport exists at
// a time.
type Manager struct {
	dialer  Dialer
	machine *Machine
	logger  *zap.Logger

	// after is time.After, injectable for backoff tests.
	after func(time.Duration) <-chan time.Time

	frames chan stomp.Frame

	mu            sync.Mutex
	transport     Transport
	gen           int // transport generation, guards stale pump signals
	credential    string
	inflight      *attempt
	attempts      int // consecutive failures since last success
	retryCancel   chan struct{}
	notify        chan struct{} // closed and remade on every state change
	wantConnected bool
	fatalErr      error
	restoreHook   func(Transport)
	teardownHook  func()
}

// Option configures a Manager.
type Option func(*Manager)

// WithAfter overrides the reconnect timer source. Tests use it to fire
// backoff timers deterministically.
func WithAfter(after func(time.Duration) <-chan time.Time) Option {
	return func(m *Manager) {
		m.after = after
	}
}

// NewManager creates a connection manager around the dialer. State
// changes are published on the bus.
func NewManager(dialer Dialer, b *bus.Bus, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		dialer:  dialer,
		machine: NewMachine(b),
		logger:  logger,
		after:   time.After,
		frames:  make(chan stomp.Frame, 256),
		notify:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnRestore registers the hook invoked with the new transport after
// every successful (re)connection, before connect waiters resolve. The
// subscription registry uses it to re-issue subscriptions.
func (m *Manager) OnRestore(fn func(Transport)) {
	m.mu.Lock()
	m.restoreHook = fn
	m.mu.Unlock()
}

// OnTeardown registers the hook invoked after an explicit Disconnect.
func (m *Manager) OnTeardown(fn func()) {
	m.mu.Lock()
	m.teardownHook = fn
	m.mu.Unlock()
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	return m.machine.Current()
}

// Transport returns the live transport, if any.
func (m *Manager) Transport() (Transport, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transport, m.transport != nil && m.machine.Current() == Connected
}

// Frames returns the inbound frame channel. It survives reconnects.
func (m *Manager) Frames() <-chan stomp.Frame {
	return m.frames
}

// Connect establishes the connection with the credential. Idempotent
// when already connected; single-flight when an attempt is in flight —
// every concurrent caller resolves from the one underlying attempt. A
// transient failure resolves waiters with the error while background
// reconnection continues; an ErrAuthFailed failure is terminal.
func (m *Manager) Connect(ctx context.Context, credential string) error {
	m.mu.Lock()
	m.wantConnected = true
	m.credential = credential
	m.fatalErr = nil

	if m.machine.Current() == Connected {
		m.mu.Unlock()
		return nil
	}
	if a := m.inflight; a != nil {
		m.mu.Unlock()
		return a.wait(ctx)
	}

	// An explicit Connect supersedes any scheduled backoff retry.
	m.cancelRetryLocked()
	a := m.beginAttemptLocked()
	m.mu.Unlock()

	go m.dial(a)
	return a.wait(ctx)
}

// WaitReady suspends the caller until the connection is established.
// It returns the live transport, or the fatal authentication error.
func (m *Manager) WaitReady(ctx context.Context) (Transport, error) {
	for {
		m.mu.Lock()
		if m.transport != nil && m.machine.Current() == Connected {
			t := m.transport
			m.mu.Unlock()
			return t, nil
		}
		if m.fatalErr != nil {
			err := m.fatalErr
			m.mu.Unlock()
			return nil, err
		}
		ch := m.notify
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ch:
		}
	}
}

// Disconnect tears the connection down: cancels any scheduled retry,
// closes the transport, and stays down until the next Connect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.wantConnected = false
	m.cancelRetryLocked()
	t := m.transport
	m.transport = nil
	m.gen++
	if m.machine.Current() != Disconnected {
		_ = m.machine.Transition(Disconnected)
	}
	m.broadcastLocked()
	hook := m.teardownHook
	m.mu.Unlock()

	if t != nil {
		_ = t.Close()
	}
	if hook != nil {
		hook()
	}
	m.logger.Info("disconnected")
}

// beginAttemptLocked registers a new in-flight attempt and enters
// Connecting. Caller holds m.mu.
func (m *Manager) beginAttemptLocked() *attempt {
	a := &attempt{done: make(chan struct{})}
	m.inflight = a
	_ = m.machine.Transition(Connecting)
	m.broadcastLocked()
	return a
}

// dial runs one connection attempt to completion.
func (m *Manager) dial(a *attempt) {
	m.mu.Lock()
	cred := m.credential
	m.mu.Unlock()

	t, err := m.dialer.Dial(context.Background(), cred)

	m.mu.Lock()
	m.inflight = nil

	if !m.wantConnected {
		// Disconnect raced the attempt; discard the result.
		m.mu.Unlock()
		if t != nil {
			_ = t.Close()
		}
		a.err = ErrDisconnected
		close(a.done)
		return
	}

	if err != nil {
		_ = m.machine.Transition(Failed)
		fatal := errors.Is(err, ErrAuthFailed)
		if fatal {
			m.fatalErr = err
		}
		attemptNo := m.attempts
		m.attempts++
		m.broadcastLocked()
		m.mu.Unlock()

		a.err = err
		close(a.done)

		if fatal {
			m.logger.Error("authentication failed, not retrying", zap.Error(err))
			return
		}
		m.logger.Warn("connection attempt failed", zap.Error(err), zap.Int("attempt", attemptNo+1))
		m.scheduleReconnect(attemptNo)
		return
	}

	m.transport = t
	m.gen++
	gen := m.gen
	m.attempts = 0
	_ = m.machine.Transition(Connected)
	m.broadcastLocked()
	restore := m.restoreHook
	m.mu.Unlock()

	go m.pump(t, gen)

	// Re-establish registered subscriptions before resolving waiters so
	// callers observe a fully restored session.
	if restore != nil {
		restore(t)
	}

	m.logger.Info("connected")
	a.err = nil
	close(a.done)
}

// pump forwards inbound frames from one transport generation onto the
// stable frame channel and reacts to transport death.
func (m *Manager) pump(t Transport, gen int) {
	frames := t.Frames()
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				m.transportDown(gen, errors.New("frame channel closed"))
				return
			}
			m.frames <- f
		case err := <-t.Closed():
			m.transportDown(gen, err)
			return
		}
	}
}

// transportDown handles unexpected transport closure for the given
// generation. Stale signals from an already-replaced transport are
// ignored.
func (m *Manager) transportDown(gen int, cause error) {
	m.mu.Lock()
	if gen != m.gen || m.transport == nil || !m.wantConnected {
		m.mu.Unlock()
		return
	}
	t := m.transport
	m.transport = nil
	_ = m.machine.Transition(Disconnected)
	attemptNo := m.attempts
	m.attempts++
	m.broadcastLocked()
	m.mu.Unlock()

	_ = t.Close()
	m.logger.Warn("transport lost, reconnecting", zap.Error(cause))
	m.scheduleReconnect(attemptNo)
}

// scheduleReconnect arms the backoff timer for the given attempt number.
func (m *Manager) scheduleReconnect(attemptNo int) {
	m.mu.Lock()
	if !m.wantConnected {
		m.mu.Unlock()
		return
	}
	m.cancelRetryLocked()
	cancel := make(chan struct{})
	m.retryCancel = cancel
	m.mu.Unlock()

	delay := reconnectDelay(attemptNo)
	m.logger.Info("reconnect scheduled",
		zap.Duration("delay", delay),
		zap.Int("attempt", attemptNo+1),
	)

	go func() {
		select {
		case <-m.after(delay):
		case <-cancel:
			return
		}
		m.retry()
	}()
}

// retry runs a scheduled reconnection attempt.
func (m *Manager) retry() {
	m.mu.Lock()
	if !m.wantConnected || m.inflight != nil || m.machine.Current() == Connected {
		m.mu.Unlock()
		return
	}
	a := m.beginAttemptLocked()
	m.mu.Unlock()
	m.dial(a)
}

func (m *Manager) cancelRetryLocked() {
	if m.retryCancel != nil {
		close(m.retryCancel)
		m.retryCancel = nil
	}
}

func (m *Manager) broadcastLocked() {
	close(m.notify)
	m.notify = make(chan struct{})
}

// reconnectDelay returns the capped exponential backoff delay:
// 3s, 6s, 12s, 24s, 30s, 30s, ...
func reconnectDelay(attemptNo int) time.Duration {
	if attemptNo > 30 {
		return maxReconnectDelay
	}
	d := baseReconnectDelay << uint(attemptNo)
	if d > maxReconnectDelay || d <= 0 {
		return maxReconnectDelay
	}
	return d
}
