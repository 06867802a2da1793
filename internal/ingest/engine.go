// Package ingest persists live traffic and REST backfill into the
// local message cache, idempotently.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/andrelcm/pigeon/internal/bus"
	"github.com/andrelcm/pigeon/internal/store"
	"github.com/andrelcm/pigeon/internal/wire"
	"go.uber.org/zap"
)

// API is the slice of the REST client the engine needs for backfill.
type API interface {
	Rooms(ctx context.Context, username string) ([]wire.Room, error)
	Messages(ctx context.Context, roomID string) ([]wire.Message, error)
}

// Engine handles idempotent ingestion of messages into the store.
// It subscribes to the event bus and processes chat traffic, room
// updates, and our own sends as they happen.
type Engine struct {
	db     *store.DB
	api    API
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewEngine creates a new ingest engine.
func NewEngine(db *store.DB, api API, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:     db,
		api:    api,
		bus:    b,
		logger: logger,
	}
}

// Start subscribes to bus events and ingests them until the context is
// done or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindChatMessage, bus.KindSendSent:
		msg, ok := evt.Payload.(*wire.Message)
		if !ok {
			return
		}
		if err := e.IngestMessage(msg); err != nil {
			e.logger.Error("failed to ingest message",
				zap.Error(err),
				zap.String("room_id", msg.RoomID),
				zap.String("client_id", msg.ClientID),
			)
		}
	case bus.KindRoomsUpdated:
		rooms, ok := evt.Payload.([]wire.Room)
		if !ok {
			return
		}
		if err := e.IngestRooms(rooms); err != nil {
			e.logger.Error("failed to ingest room update", zap.Error(err), zap.Int("count", len(rooms)))
		}
	}
}

// IngestMessage stores a single message (idempotent).
func (e *Engine) IngestMessage(msg *wire.Message) error {
	if msg.RoomID == "" {
		return fmt.Errorf("ingest message: no room id")
	}
	cached := store.MessageFromWire(msg)
	if err := e.db.UpsertMessage(&cached); err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	return nil
}

// IngestRooms stores a room list update (idempotent).
func (e *Engine) IngestRooms(rooms []wire.Room) error {
	for i := range rooms {
		cached := store.RoomFromWire(rooms[i])
		if err := e.db.UpsertRoom(&cached); err != nil {
			return fmt.Errorf("upsert room %s: %w", rooms[i].ID, err)
		}
	}
	return nil
}

// Backfill fetches the user's rooms and each room's full history from
// the REST API, storing one room per transaction and advancing its
// sync checkpoint. Rooms that fail are logged and skipped so one bad
// room does not stall the rest.
func (e *Engine) Backfill(ctx context.Context, username string) error {
	rooms, err := e.api.Rooms(ctx, username)
	if err != nil {
		return fmt.Errorf("fetch rooms: %w", err)
	}
	if err := e.IngestRooms(rooms); err != nil {
		return err
	}

	total := 0
	for _, room := range rooms {
		n, err := e.backfillRoom(ctx, room.ID)
		if err != nil {
			e.logger.Warn("room backfill failed", zap.String("room_id", room.ID), zap.Error(err))
			continue
		}
		total += n
	}

	e.logger.Info("backfill complete", zap.Int("rooms", len(rooms)), zap.Int("messages", total))
	e.bus.Emit(bus.KindIngestHistory, map[string]int{
		"rooms_count":    len(rooms),
		"messages_count": total,
	})
	return nil
}

func (e *Engine) backfillRoom(ctx context.Context, roomID string) (int, error) {
	msgs, err := e.api.Messages(ctx, roomID)
	if err != nil {
		return 0, fmt.Errorf("fetch history: %w", err)
	}

	cached := make([]store.Message, 0, len(msgs))
	for i := range msgs {
		if msgs[i].RoomID == "" {
			msgs[i].RoomID = roomID
		}
		cached = append(cached, store.MessageFromWire(&msgs[i]))
	}
	if err := e.db.SyncRoom(roomID, cached, time.Now().UnixMilli()); err != nil {
		return 0, fmt.Errorf("store history: %w", err)
	}
	return len(cached), nil
}
