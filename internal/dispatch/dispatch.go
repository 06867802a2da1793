// Package dispatch turns raw inbound broker frames into typed bus
// events: chat messages (deduplicated) and room list updates. A single
// goroutine consumes frames, so events are published in arrival order.
package dispatch

import (
	"github.com/andrelcm/pigeon/internal/bus"
	"github.com/andrelcm/pigeon/internal/stomp"
	"github.com/andrelcm/pigeon/internal/wire"
	"go.uber.org/zap"
)

// seenLimit bounds the duplicate-suppression window.
const seenLimit = 512

// Dispatcher consumes frames from the connection and publishes typed
// events on the bus.
type Dispatcher struct {
	frames <-chan stomp.Frame
	bus    *bus.Bus
	logger *zap.Logger
	seen   *seenSet
	stop   chan struct{}
	done   chan struct{}
}

// New creates a dispatcher reading from frames. Call Run to start it.
func New(frames <-chan stomp.Frame, b *bus.Bus, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		frames: frames,
		bus:    b,
		logger: logger,
		seen:   newSeenSet(seenLimit),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Run consumes frames until Stop is called or the frame channel
// closes. It blocks; callers run it in a goroutine.
func (d *Dispatcher) Run() {
	defer close(d.done)
	for {
		select {
		case <-d.stop:
			return
		case f, ok := <-d.frames:
			if !ok {
				return
			}
			d.handle(f)
		}
	}
}

// Stop terminates the dispatch loop and waits for it to drain.
func (d *Dispatcher) Stop() {
	close(d.stop)
	<-d.done
}

func (d *Dispatcher) handle(f stomp.Frame) {
	if f.Command != stomp.CmdMessage {
		return
	}
	dest := f.Header("destination")
	if dest == "" {
		d.logger.Warn("frame without destination dropped")
		return
	}

	if dest == wire.QueueChats {
		d.handleRoomsUpdate(f)
		return
	}
	d.handleChatMessage(dest, f)
}

func (d *Dispatcher) handleRoomsUpdate(f stomp.Frame) {
	rooms, err := wire.ParseRoomList(f.Body)
	if err != nil {
		d.logger.Warn("malformed room list dropped", zap.Error(err))
		return
	}
	d.bus.Emit(bus.KindRoomsUpdated, rooms)
}

func (d *Dispatcher) handleChatMessage(dest string, f stomp.Frame) {
	msg, err := wire.ParseMessage(f.Body)
	if err != nil {
		d.logger.Warn("malformed message dropped",
			zap.String("destination", dest),
			zap.Error(err),
		)
		return
	}

	// The broker echoes our own sends back on the topic; the client id
	// also ties an echo to its optimistic copy downstream. Dedup only
	// applies to messages that carry one.
	if msg.ClientID != "" && d.seen.observe(msg.ClientID) {
		d.logger.Debug("duplicate message dropped", zap.String("client_id", msg.ClientID))
		return
	}

	if msg.RoomID == "" {
		if roomID, ok := wire.RoomFromTopic(dest); ok {
			msg.RoomID = roomID
		}
	}

	d.bus.Emit(bus.KindChatMessage, msg)
}
