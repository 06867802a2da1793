// Package registry tracks the set of broker subscriptions and restores
// them after every reconnection, so room subscriptions survive
// transport churn without the caller's involvement.
package registry

import (
	"context"
	"slices"
	"sync"

	"github.com/andrelcm/pigeon/internal/conn"
	"go.uber.org/zap"
)

// Registry keeps destination -> subscription id for the live
// transport. Subscribing to a destination already held is a no-op.
type Registry struct {
	manager *conn.Manager
	logger  *zap.Logger

	mu  sync.Mutex
	ids map[string]string
}

// New creates a registry bound to the connection manager. It hooks the
// manager's lifecycle: re-subscribes everything on reconnect and
// forgets everything on explicit disconnect.
func New(manager *conn.Manager, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		manager: manager,
		logger:  logger,
		ids:     make(map[string]string),
	}
	manager.OnRestore(r.restore)
	manager.OnTeardown(r.clear)
	return r
}

// Subscribe registers interest in a destination, waiting for the
// connection to become ready first. Idempotent per destination.
func (r *Registry) Subscribe(ctx context.Context, destination string) error {
	r.mu.Lock()
	_, held := r.ids[destination]
	r.mu.Unlock()
	if held {
		return nil
	}

	t, err := r.manager.WaitReady(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another caller may have won while we waited.
	if _, held := r.ids[destination]; held {
		return nil
	}
	id, err := t.Subscribe(destination)
	if err != nil {
		return err
	}
	r.ids[destination] = id
	r.logger.Debug("subscribed",
		zap.String("destination", destination),
		zap.String("subscription_id", id),
	)
	return nil
}

// Unsubscribe drops a destination. Unknown destinations are ignored.
func (r *Registry) Unsubscribe(destination string) error {
	r.mu.Lock()
	id, held := r.ids[destination]
	delete(r.ids, destination)
	r.mu.Unlock()
	if !held {
		return nil
	}
	t, live := r.manager.Transport()
	if !live {
		return nil
	}
	return t.Unsubscribe(id)
}

// UnsubscribeAll drops every held destination.
func (r *Registry) UnsubscribeAll() {
	r.mu.Lock()
	ids := r.ids
	r.ids = make(map[string]string)
	r.mu.Unlock()

	t, live := r.manager.Transport()
	if !live {
		return
	}
	for _, id := range ids {
		_ = t.Unsubscribe(id)
	}
}

// Active reports whether a destination is currently held.
func (r *Registry) Active(destination string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, held := r.ids[destination]
	return held
}

// Destinations returns the held destinations, sorted.
func (r *Registry) Destinations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.ids))
	for dest := range r.ids {
		out = append(out, dest)
	}
	slices.Sort(out)
	return out
}

// restore re-issues every held subscription on a fresh transport. Runs
// on every successful connection, before connect waiters resolve.
func (r *Registry) restore(t conn.Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for dest := range r.ids {
		id, err := t.Subscribe(dest)
		if err != nil {
			r.logger.Warn("resubscribe failed",
				zap.String("destination", dest),
				zap.Error(err),
			)
			delete(r.ids, dest)
			continue
		}
		r.ids[dest] = id
	}
	if len(r.ids) > 0 {
		r.logger.Info("subscriptions restored", zap.Int("count", len(r.ids)))
	}
}

// clear forgets all subscriptions after an explicit disconnect.
func (r *Registry) clear() {
	r.mu.Lock()
	n := len(r.ids)
	r.ids = make(map[string]string)
	r.mu.Unlock()
	if n > 0 {
		r.logger.Debug("subscriptions cleared", zap.Int("count", n))
	}
}
