package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/andrelcm/pigeon/internal/bus"
	"github.com/andrelcm/pigeon/internal/reconcile"
	"github.com/andrelcm/pigeon/internal/wire"
	"go.uber.org/zap"
)

// RoomSession is one open room: a live timeline plus the subscription
// that feeds it.
type RoomSession struct {
	roomID   string
	receiver string // peer username for private rooms
	client   *Client

	mu       sync.Mutex
	timeline *reconcile.Timeline

	events chan reconcile.Entry
	unsub  func()
	stop   chan struct{}
	done   chan struct{}
}

// OpenRoom subscribes to a room and seeds its timeline with history:
// fresh from the API when reachable, from the local cache otherwise.
func (c *Client) OpenRoom(ctx context.Context, roomID string) (*RoomSession, error) {
	if c.username == "" {
		return nil, fmt.Errorf("open room: not logged in")
	}
	if err := c.registry.Subscribe(ctx, wire.TopicMessages(roomID)); err != nil {
		return nil, fmt.Errorf("subscribe room: %w", err)
	}

	s := &RoomSession{
		roomID:   roomID,
		client:   c,
		timeline: reconcile.NewTimeline(c.username),
		events:   make(chan reconcile.Entry, 64),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	// Room metadata tells us the peer for private sends. Best effort;
	// a group room works fine without it.
	if room, err := c.api.Room(ctx, roomID); err == nil {
		s.receiver = c.otherMember(room)
	}

	s.timeline.Seed(c.roomHistory(ctx, roomID))

	ch, unsub := c.bus.Subscribe("chat.", 128)
	s.unsub = unsub
	go s.consume(ch)

	c.logger.Debug("room opened", zap.String("room_id", roomID))
	return s, nil
}

// roomHistory fetches seeding history, falling back to the cache.
func (c *Client) roomHistory(ctx context.Context, roomID string) []wire.Message {
	msgs, err := c.api.Messages(ctx, roomID)
	if err == nil {
		for i := range msgs {
			if msgs[i].RoomID == "" {
				msgs[i].RoomID = roomID
			}
		}
		return msgs
	}
	if c.db == nil {
		c.logger.Warn("history unavailable", zap.String("room_id", roomID), zap.Error(err))
		return nil
	}
	c.logger.Warn("history unavailable, serving cache", zap.String("room_id", roomID), zap.Error(err))
	cached, cacheErr := c.db.RoomHistory(roomID, 200)
	if cacheErr != nil {
		return nil
	}
	out := make([]wire.Message, len(cached))
	for i, m := range cached {
		out[i] = m.ToWire()
	}
	return out
}

func (s *RoomSession) consume(ch <-chan bus.Event) {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case evt := <-ch:
			msg, ok := evt.Payload.(*wire.Message)
			if !ok || msg.RoomID != s.roomID {
				continue
			}
			s.mu.Lock()
			appended := s.timeline.Apply(*msg)
			var entry reconcile.Entry
			if appended {
				entries := s.timeline.Entries()
				entry = entries[len(entries)-1]
			}
			s.mu.Unlock()

			if appended {
				select {
				case s.events <- entry:
				default:
					// Slow consumer; snapshot via Messages() catches up.
				}
			}
		}
	}
}

// Events delivers entries appended by other parties (or by our own
// unmatched echoes). Merges into existing entries do not fire.
func (s *RoomSession) Events() <-chan reconcile.Entry {
	return s.events
}

// Send transmits content to this room and records the optimistic local
// copy at the end of the timeline.
func (s *RoomSession) Send(ctx context.Context, content string) error {
	var (
		msg *wire.Message
		err error
	)
	if s.receiver != "" {
		msg, err = s.client.sender.SendPrivate(ctx, s.roomID, s.receiver, content)
	} else {
		msg, err = s.client.sender.Send(ctx, s.roomID, content)
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.timeline.AppendLocal(*msg)
	s.mu.Unlock()
	return nil
}

// Messages returns the rendered timeline snapshot, oldest first.
func (s *RoomSession) Messages() []reconcile.Rendered {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeline.Rendered()
}

// RoomID returns the room this session is bound to.
func (s *RoomSession) RoomID() string {
	return s.roomID
}

// Close stops the session and drops the room subscription. The user
// queues stay subscribed.
func (s *RoomSession) Close() error {
	close(s.stop)
	s.unsub()
	<-s.done
	return s.client.registry.Unsubscribe(wire.TopicMessages(s.roomID))
}
